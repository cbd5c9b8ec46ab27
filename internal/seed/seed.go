// Package seed loads a small set of sample tasks and runs for demos.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

// ErrNotEmpty is returned when the task store already holds tasks.
var ErrNotEmpty = errors.New("task store is not empty")

// TaskStore is what seeding writes to. *taskstore.Store satisfies it.
type TaskStore interface {
	Create(ctx context.Context, nt taskstore.NewTask) (*domain.Task, error)
	Update(ctx context.Context, id domain.TaskID, u domain.TaskUpdate) (*domain.Task, error)
	List(ctx context.Context, opts taskstore.ListOptions) ([]*domain.Task, error)
}

// RunLog is what seeding appends sample runs to. *runlog.Store satisfies it.
type RunLog interface {
	Append(ctx context.Context, rec domain.RunRecord) error
}

type step struct {
	ago    time.Duration
	update domain.TaskUpdate
}

type sampleTask struct {
	created time.Duration
	task    taskstore.NewTask
	steps   []step
}

func status(s domain.TaskStatus) *domain.TaskStatus { return &s }
func priority(p domain.Priority) *domain.Priority   { return &p }

const day = 24 * time.Hour

var sampleTasks = []sampleTask{
	{
		created: 5 * day,
		task: taskstore.NewTask{
			Title:       "Review Q4 Financial Reports",
			Description: "Comprehensive review of Q4 2024 financial reports and budget analysis",
			Priority:    domain.PriorityHigh,
		},
		steps: []step{{ago: 2 * day, update: domain.TaskUpdate{Status: status(domain.StatusInProgress)}}},
	},
	{
		created: 3 * day,
		task: taskstore.NewTask{
			Title:       "Update Product Documentation",
			Description: "Update user documentation with latest feature releases",
			Priority:    domain.PriorityMedium,
		},
	},
	{
		created: 7 * day,
		task: taskstore.NewTask{
			Title:       "Client Meeting Preparation",
			Description: "Prepare presentation and materials for Acme Corp meeting",
			Priority:    domain.PriorityHigh,
		},
		steps: []step{
			{ago: 6 * day, update: domain.TaskUpdate{Status: status(domain.StatusInProgress)}},
			{ago: 1 * day, update: domain.TaskUpdate{Status: status(domain.StatusCompleted)}},
		},
	},
	{
		created: 2 * day,
		task: taskstore.NewTask{
			Title:       "Code Review - Authentication Module",
			Description: "Review pull request for new authentication system",
			Priority:    domain.PriorityHigh,
		},
	},
	{
		created: 4 * day,
		task: taskstore.NewTask{
			Title:       "Marketing Campaign Analysis",
			Description: "Analyze performance metrics for Q1 marketing campaigns",
			Priority:    domain.PriorityMedium,
		},
		steps: []step{{ago: 12 * time.Hour, update: domain.TaskUpdate{
			Status:   status(domain.StatusInProgress),
			Priority: priority(domain.PriorityMedium),
		}}},
	},
}

// Result summarizes what Load wrote.
type Result struct {
	Tasks []*domain.Task
	Runs  int
}

// Load writes the sample data. clock is the store's clock hook; Load moves it
// back in time while writing so timestamps look lived-in, and restores it.
// The store must be empty.
func Load(ctx context.Context, store TaskStore, clock *func() time.Time, runs RunLog, now time.Time) (*Result, error) {
	existing, err := store.List(ctx, taskstore.ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrNotEmpty
	}

	if clock != nil {
		saved := *clock
		defer func() { *clock = saved }()
	}
	at := func(ago time.Duration) {
		if clock != nil {
			t := now.Add(-ago)
			*clock = func() time.Time { return t }
		}
	}

	res := &Result{}
	for _, s := range sampleTasks {
		at(s.created)
		task, err := store.Create(ctx, s.task)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", s.task.Title, err)
		}
		for _, st := range s.steps {
			at(st.ago)
			if task, err = store.Update(ctx, task.ID, st.update); err != nil {
				return nil, fmt.Errorf("seed %s: %w", task.ID, err)
			}
		}
		res.Tasks = append(res.Tasks, task)
	}

	if runs == nil {
		return res, nil
	}
	for _, rec := range sampleRuns(res.Tasks, now) {
		if err := runs.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("seed run %s: %w", rec.RunID, err)
		}
		res.Runs++
	}
	return res, nil
}

func sampleRuns(tasks []*domain.Task, now time.Time) []domain.RunRecord {
	created := func(runID, input string, task *domain.Task, ago time.Duration) domain.RunRecord {
		ts := now.Add(-ago).UTC()
		result := "Task created successfully: " + task.ID.String()
		return domain.RunRecord{
			RunID:     runID,
			Timestamp: ts,
			Input:     input,
			Intent:    domain.IntentCreate,
			TaskID:    task.ID,
			Trace: []domain.TraceEntry{
				{Step: domain.StepClassify, Timestamp: ts, InputSummary: input, OutputSummary: "intent=create route=create"},
				{Step: domain.StepCreate, Timestamp: ts, InputSummary: fmt.Sprintf("title=%q priority=%s", task.Title, task.Priority), OutputSummary: "created " + task.ID.String()},
				{Step: domain.StepConfirmAndLog, Timestamp: ts, InputSummary: "created", OutputSummary: result},
			},
			FinalResult: result,
		}
	}

	escalateAt := now.Add(-1 * day).UTC()
	escalateInput := "Help me plan the entire Q1 marketing strategy"
	escalateResult := "Request escalated to human review: request asks for planning or judgment beyond a single task"

	return []domain.RunRecord{
		created("seed-0001", "Create a high priority task to review Q4 financial reports", tasks[0], 5*day),
		created("seed-0002", "Create task to update product documentation", tasks[1], 3*day),
		{
			RunID:     "seed-0003",
			Timestamp: escalateAt,
			Input:     escalateInput,
			Intent:    domain.IntentEscalate,
			Trace: []domain.TraceEntry{
				{Step: domain.StepClassify, Timestamp: escalateAt, InputSummary: escalateInput, OutputSummary: "intent=escalate route=escalate"},
				{Step: domain.StepEscalate, Timestamp: escalateAt, OutputSummary: "requires_human=true"},
				{Step: domain.StepConfirmAndLog, Timestamp: escalateAt, InputSummary: "escalated", OutputSummary: escalateResult},
			},
			RequiresHuman: true,
			FinalResult:   escalateResult,
		},
	}
}

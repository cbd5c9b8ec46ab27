package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

// Outcome is the terminal result of a run. It is one of *CreatedResult,
// *UpdatedResult, *EscalatedResult or *FailedResult.
type Outcome interface {
	// Kind names the outcome for logs and metrics.
	Kind() string
	// Message is the human-readable result.
	Message() string
}

// CreatedResult reports a newly created task.
type CreatedResult struct {
	Task *domain.Task
}

func (r *CreatedResult) Kind() string { return "created" }

func (r *CreatedResult) Message() string {
	return "Task created successfully: " + r.Task.ID.String()
}

// UpdatedResult reports an updated task.
type UpdatedResult struct {
	Task    *domain.Task
	Changes map[string]string
}

func (r *UpdatedResult) Kind() string { return "updated" }

func (r *UpdatedResult) Message() string {
	return "Task updated successfully: " + r.Task.ID.String()
}

// EscalatedResult reports a run handed to a human.
type EscalatedResult struct {
	Reason string
	// RoutingDefault is set when escalation was the fail-safe path rather
	// than the classifier's own decision.
	RoutingDefault bool
}

func (r *EscalatedResult) Kind() string { return "escalated" }

func (r *EscalatedResult) Message() string {
	return "Request escalated to human review: " + r.Reason
}

// FailedResult reports a run whose action could not be carried out.
type FailedResult struct {
	// Intent is empty when the run failed before routing.
	Intent domain.Intent
	TaskID domain.TaskID
	Err    error
}

func (r *FailedResult) Kind() string { return "failed" }

func (r *FailedResult) Message() string {
	switch {
	case errors.Is(r.Err, taskstore.ErrNotFound):
		return fmt.Sprintf("Task %s not found", r.TaskID)
	case r.Intent == domain.IntentCreate:
		return "Task creation failed: " + r.Err.Error()
	case r.Intent == domain.IntentUpdate:
		return "Task update failed: " + r.Err.Error()
	default:
		return "Error: " + r.Err.Error()
	}
}

// RunState is everything one run produced. The engine returns it complete:
// Outcome, ResultMessage and Trace are always set.
type RunState struct {
	RunID     string
	Input     string
	StartedAt time.Time

	// Decision is nil only when the input was rejected before classification.
	Decision  *Decision
	Reasoning string
	Fields    classifier.Fields

	Outcome       Outcome
	ResultMessage string
	Trace         []domain.TraceEntry

	// LogErr is set when the execution log write failed. Task changes made by
	// the run stand regardless.
	LogErr error
}

// Intent is the routed intent, or empty if the run never reached routing.
func (s *RunState) Intent() domain.Intent {
	if s.Decision == nil {
		return ""
	}
	return s.Decision.Intent()
}

// TaskID is the task the run acted on, if any.
func (s *RunState) TaskID() domain.TaskID {
	switch o := s.Outcome.(type) {
	case *CreatedResult:
		return o.Task.ID
	case *UpdatedResult:
		return o.Task.ID
	case *FailedResult:
		return o.TaskID
	}
	return ""
}

// Task is the created or updated task, if any.
func (s *RunState) Task() *domain.Task {
	switch o := s.Outcome.(type) {
	case *CreatedResult:
		return o.Task
	case *UpdatedResult:
		return o.Task
	}
	return nil
}

// RequiresHuman reports whether the run was escalated.
func (s *RunState) RequiresHuman() bool {
	_, ok := s.Outcome.(*EscalatedResult)
	return ok
}

// Err joins the action failure and the log write failure. Nil on success.
func (s *RunState) Err() error {
	var errs []error
	if f, ok := s.Outcome.(*FailedResult); ok {
		errs = append(errs, f.Err)
	}
	if s.LogErr != nil {
		errs = append(errs, s.LogErr)
	}
	return errors.Join(errs...)
}

// ErrorText is Err as a string, or "".
func (s *RunState) ErrorText() string {
	if err := s.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Record builds the execution log entry for the run.
func (s *RunState) Record() domain.RunRecord {
	rec := domain.RunRecord{
		RunID:         s.RunID,
		Timestamp:     s.StartedAt,
		Input:         s.Input,
		Intent:        s.Intent(),
		TaskID:        s.TaskID(),
		Trace:         s.Trace,
		RequiresHuman: s.RequiresHuman(),
		FinalResult:   s.ResultMessage,
	}
	if f, ok := s.Outcome.(*FailedResult); ok {
		rec.Error = f.Err.Error()
	}
	return rec
}

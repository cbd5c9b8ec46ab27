package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/notify"
	"github.com/hochfrequenz/task-workflow-agent/internal/runlog"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

type testEnv struct {
	engine *Engine
	tasks  *taskstore.Store
	runs   *runlog.Store
}

func newTestEnv(t *testing.T, c classifier.Classifier, opts ...Option) *testEnv {
	t.Helper()
	tasks := newTaskStore(t)
	runs, err := runlog.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })
	return &testEnv{
		engine: NewEngine(c, tasks, runs, opts...),
		tasks:  tasks,
		runs:   runs,
	}
}

func (env *testEnv) taskCount(t *testing.T) int {
	t.Helper()
	all, err := env.tasks.List(context.Background(), taskstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return len(all)
}

// checkRun asserts the properties every completed run has.
func checkRun(t *testing.T, run *RunState) {
	t.Helper()
	if run == nil {
		t.Fatal("Run returned nil")
	}
	if run.RunID == "" {
		t.Error("RunID is empty")
	}
	if run.Outcome == nil {
		t.Fatal("Outcome is nil")
	}
	if run.ResultMessage == "" {
		t.Error("ResultMessage is empty")
	}
	if len(run.Trace) < 2 {
		t.Fatalf("trace has %d entries, want at least 2", len(run.Trace))
	}
	if run.Trace[0].Step != domain.StepClassify {
		t.Errorf("first step = %q, want %q", run.Trace[0].Step, domain.StepClassify)
	}
	confirms := 0
	for _, e := range run.Trace {
		if e.Step == domain.StepConfirmAndLog {
			confirms++
		}
	}
	if confirms != 1 {
		t.Errorf("trace has %d confirm entries, want 1", confirms)
	}
	if last := run.Trace[len(run.Trace)-1]; last.Step != domain.StepConfirmAndLog {
		t.Errorf("last step = %q, want %q", last.Step, domain.StepConfirmAndLog)
	}
	if (run.Intent() == domain.IntentEscalate) != run.RequiresHuman() {
		t.Errorf("intent %q inconsistent with requires_human=%v", run.Intent(), run.RequiresHuman())
	}
}

func TestEngine_Create(t *testing.T) {
	env := newTestEnv(t, classifier.Keyword{})
	ctx := context.Background()

	run := env.engine.Run(ctx, "Create a high priority task to prepare Q4 report")
	checkRun(t, run)

	if run.Intent() != domain.IntentCreate {
		t.Fatalf("Intent() = %q, want create (result %q)", run.Intent(), run.ResultMessage)
	}
	if run.Err() != nil {
		t.Fatalf("Err() = %v", run.Err())
	}
	task := run.Task()
	if task == nil {
		t.Fatal("Task() is nil")
	}
	if task.Priority != domain.PriorityHigh {
		t.Errorf("Priority = %q, want high", task.Priority)
	}
	if task.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if !strings.Contains(strings.ToLower(task.Title), "q4 report") {
		t.Errorf("Title = %q, want it to mention the Q4 report", task.Title)
	}
	if run.ResultMessage != "Task created successfully: "+task.ID.String() {
		t.Errorf("ResultMessage = %q", run.ResultMessage)
	}

	stored, err := env.tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("created task not in store: %v", err)
	}
	if stored.Title != task.Title {
		t.Errorf("stored Title = %q, want %q", stored.Title, task.Title)
	}

	rec, err := env.runs.Get(ctx, run.RunID)
	if err != nil {
		t.Fatalf("run not logged: %v", err)
	}
	if rec.TaskID != task.ID || rec.Intent != domain.IntentCreate || rec.RequiresHuman {
		t.Errorf("logged record = %+v", rec)
	}
	if len(rec.Trace) != len(run.Trace) {
		t.Errorf("logged trace has %d entries, want %d", len(rec.Trace), len(run.Trace))
	}
}

func TestEngine_Update(t *testing.T) {
	env := newTestEnv(t, classifier.Keyword{})
	ctx := context.Background()

	seed, err := env.tasks.Create(ctx, taskstore.NewTask{Title: "Audit", Priority: domain.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}
	before := len(seed.History)

	run := env.engine.Run(ctx, "Update "+seed.ID.String()+" status to in_progress")
	checkRun(t, run)

	if run.Intent() != domain.IntentUpdate {
		t.Fatalf("Intent() = %q, want update (result %q)", run.Intent(), run.ResultMessage)
	}
	if run.TaskID() != seed.ID {
		t.Errorf("TaskID() = %q, want %q", run.TaskID(), seed.ID)
	}

	got, err := env.tasks.Get(ctx, seed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusInProgress {
		t.Errorf("Status = %q, want in_progress", got.Status)
	}
	if len(got.History) != before+1 {
		t.Errorf("history length = %d, want %d", len(got.History), before+1)
	}
	if run.ResultMessage != "Task updated successfully: "+seed.ID.String() {
		t.Errorf("ResultMessage = %q", run.ResultMessage)
	}
}

func TestEngine_UpdateIsIdempotentOnFields(t *testing.T) {
	env := newTestEnv(t, classifier.Keyword{})
	ctx := context.Background()

	seed, _ := env.tasks.Create(ctx, taskstore.NewTask{Title: "Audit"})
	input := "Mark " + seed.ID.String() + " as done"

	first := env.engine.Run(ctx, input)
	second := env.engine.Run(ctx, input)
	checkRun(t, first)
	checkRun(t, second)

	got, _ := env.tasks.Get(ctx, seed.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(got.History) != len(seed.History)+2 {
		t.Errorf("history length = %d, want %d", len(got.History), len(seed.History)+2)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func TestEngine_Escalate(t *testing.T) {
	notifier := &recordingNotifier{}
	env := newTestEnv(t, classifier.Keyword{}, WithNotifier(notifier))
	ctx := context.Background()

	run := env.engine.Run(ctx, "Help me plan the entire Q1 marketing strategy")
	checkRun(t, run)

	if !run.RequiresHuman() {
		t.Fatalf("RequiresHuman() = false, result %q", run.ResultMessage)
	}
	if run.Err() != nil {
		t.Errorf("Err() = %v, want nil", run.Err())
	}
	if run.TaskID() != "" {
		t.Errorf("TaskID() = %q, want empty", run.TaskID())
	}
	if n := env.taskCount(t); n != 0 {
		t.Errorf("store has %d tasks, want 0", n)
	}
	if !strings.HasPrefix(run.ResultMessage, "Request escalated to human review") {
		t.Errorf("ResultMessage = %q", run.ResultMessage)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].RunID != run.RunID {
		t.Errorf("notifications = %+v, want one for run %s", notifier.sent, run.RunID)
	}
}

func TestEngine_NotifierFailureDoesNotChangeRun(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("slack down")}
	env := newTestEnv(t, classifier.Keyword{}, WithNotifier(notifier))

	run := env.engine.Run(context.Background(), "Help me plan the roadmap")
	checkRun(t, run)
	if run.Err() != nil {
		t.Errorf("Err() = %v, want nil", run.Err())
	}
}

func TestEngine_UpdateMissingTask(t *testing.T) {
	env := newTestEnv(t, classifier.Keyword{})
	ctx := context.Background()

	run := env.engine.Run(ctx, "Update TASK-9999 status to completed")
	checkRun(t, run)

	if run.Intent() != domain.IntentUpdate {
		t.Errorf("Intent() = %q, want update", run.Intent())
	}
	if run.RequiresHuman() {
		t.Error("RequiresHuman() = true, want false")
	}
	if !errors.Is(run.Err(), taskstore.ErrNotFound) {
		t.Errorf("Err() = %v, want ErrNotFound", run.Err())
	}
	if run.ResultMessage != "Task TASK-9999 not found" {
		t.Errorf("ResultMessage = %q", run.ResultMessage)
	}
	if n := env.taskCount(t); n != 0 {
		t.Errorf("store has %d tasks, want 0", n)
	}

	rec, err := env.runs.Get(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Error == "" {
		t.Error("logged record has no error")
	}
	if last := rec.Trace[len(rec.Trace)-1]; last.Error == "" {
		t.Error("confirm entry does not carry the failure")
	}
}

func TestEngine_ClassifierFailuresEscalate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"malformed", &classifier.Error{Kind: classifier.Malformed, Err: errors.New("no JSON object")}},
		{"unavailable", &classifier.Error{Kind: classifier.Unavailable, Err: context.DeadlineExceeded}},
		{"untyped", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classifier.Func(func(context.Context, string) (*classifier.Result, error) {
				return nil, tt.err
			})
			env := newTestEnv(t, c)

			run := env.engine.Run(context.Background(), "Create a task to write docs")
			checkRun(t, run)

			if !run.RequiresHuman() {
				t.Fatalf("RequiresHuman() = false, result %q", run.ResultMessage)
			}
			if run.Decision == nil || !run.Decision.Default {
				t.Errorf("Decision = %+v, want routing default", run.Decision)
			}
			if run.Err() != nil {
				t.Errorf("Err() = %v, want nil", run.Err())
			}
			if run.Trace[0].Error == "" {
				t.Error("classify entry does not carry the classifier error")
			}
			if n := env.taskCount(t); n != 0 {
				t.Errorf("store has %d tasks, want 0", n)
			}
		})
	}
}

func TestEngine_EmptyInput(t *testing.T) {
	called := false
	c := classifier.Func(func(context.Context, string) (*classifier.Result, error) {
		called = true
		return nil, nil
	})
	env := newTestEnv(t, c)

	run := env.engine.Run(context.Background(), "   \n")
	checkRun(t, run)

	if called {
		t.Error("classifier called for blank input")
	}
	if !errors.Is(run.Err(), ErrEmptyInput) {
		t.Errorf("Err() = %v, want ErrEmptyInput", run.Err())
	}
	if run.Intent() != "" {
		t.Errorf("Intent() = %q, want empty", run.Intent())
	}
	if len(run.Trace) != 2 {
		t.Errorf("trace has %d entries, want 2", len(run.Trace))
	}
	if n, _ := env.runs.Count(context.Background()); n != 1 {
		t.Errorf("run log has %d records, want 1", n)
	}
}

type failingLog struct{}

func (failingLog) Append(context.Context, domain.RunRecord) error {
	return errors.New("disk full")
}

func TestEngine_LogFailureKeepsTask(t *testing.T) {
	tasks := newTaskStore(t)
	engine := NewEngine(classifier.Keyword{}, tasks, failingLog{})

	run := engine.Run(context.Background(), "Create a task to rotate the keys")
	checkRun(t, run)

	if run.LogErr == nil {
		t.Fatal("LogErr is nil")
	}
	if run.Err() == nil {
		t.Error("Err() = nil, want the log failure")
	}
	task := run.Task()
	if task == nil {
		t.Fatal("Task() is nil")
	}
	if _, err := tasks.Get(context.Background(), task.ID); err != nil {
		t.Errorf("task lost after log failure: %v", err)
	}
}

type brokenStore struct{}

func (brokenStore) Create(context.Context, taskstore.NewTask) (*domain.Task, error) {
	return nil, &taskstore.PersistenceError{Op: "create", Err: errors.New("disk I/O error")}
}

func (brokenStore) Update(context.Context, domain.TaskID, domain.TaskUpdate) (*domain.Task, error) {
	return nil, &taskstore.PersistenceError{Op: "update", Err: errors.New("disk I/O error")}
}

func TestEngine_PersistenceFailure(t *testing.T) {
	runs, err := runlog.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer runs.Close()
	engine := NewEngine(classifier.Keyword{}, brokenStore{}, runs)

	run := engine.Run(context.Background(), "Create a task to rotate the keys")
	checkRun(t, run)

	var perr *taskstore.PersistenceError
	if !errors.As(run.Err(), &perr) {
		t.Fatalf("Err() = %v, want PersistenceError", run.Err())
	}
	if !strings.HasPrefix(run.ResultMessage, "Task creation failed") {
		t.Errorf("ResultMessage = %q", run.ResultMessage)
	}
	if _, err := runs.Get(context.Background(), run.RunID); err != nil {
		t.Errorf("failed run not logged: %v", err)
	}
}

func TestEngine_CancelAfterClassifyStillCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := classifier.Func(func(context.Context, string) (*classifier.Result, error) {
		cancel()
		return &classifier.Result{Intent: domain.IntentCreate, Fields: classifier.Fields{Title: "Ship release"}}, nil
	})
	env := newTestEnv(t, c)

	run := env.engine.Run(ctx, "Create a task to ship the release")
	checkRun(t, run)

	if run.Task() == nil {
		t.Fatalf("task not created after cancel, result %q", run.ResultMessage)
	}
	if _, err := env.runs.Get(context.Background(), run.RunID); err != nil {
		t.Errorf("run not logged after cancel: %v", err)
	}
}

func TestEngine_ClassifierPanic(t *testing.T) {
	c := classifier.Func(func(context.Context, string) (*classifier.Result, error) {
		panic("nil map")
	})
	env := newTestEnv(t, c)

	run := env.engine.Run(context.Background(), "Create a task")
	checkRun(t, run)

	if _, ok := run.Outcome.(*EscalatedResult); !ok {
		t.Fatalf("Outcome = %T, want *EscalatedResult", run.Outcome)
	}
	if run.Intent() != domain.IntentEscalate || !run.RequiresHuman() {
		t.Errorf("intent = %q requires_human = %v, want escalate/true", run.Intent(), run.RequiresHuman())
	}
	if !run.Decision.Default {
		t.Error("Decision.Default = false, want true")
	}
	if run.Err() != nil {
		t.Errorf("Err() = %v, want nil", run.Err())
	}

	first := run.Trace[0]
	if !strings.Contains(first.Error, "unavailable") || !strings.Contains(first.Error, "nil map") {
		t.Errorf("classify entry error = %q", first.Error)
	}
	if n := env.taskCount(t); n != 0 {
		t.Errorf("store has %d tasks, want 0", n)
	}
}

type panickingStore struct{}

func (panickingStore) Create(context.Context, taskstore.NewTask) (*domain.Task, error) {
	panic("driver bug")
}

func (panickingStore) Update(context.Context, domain.TaskID, domain.TaskUpdate) (*domain.Task, error) {
	panic("driver bug")
}

func TestEngine_StagePanicIsTraced(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantStep string
		intent   domain.Intent
	}{
		{"create", "Create a task to rotate the keys", domain.StepCreate, domain.IntentCreate},
		{"update", "Mark TASK-0001 as done", domain.StepUpdate, domain.IntentUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := runlog.New(":memory:")
			if err != nil {
				t.Fatal(err)
			}
			defer runs.Close()
			engine := NewEngine(classifier.Keyword{}, panickingStore{}, runs)

			run := engine.Run(context.Background(), tt.input)
			checkRun(t, run)

			if _, ok := run.Outcome.(*FailedResult); !ok {
				t.Fatalf("Outcome = %T, want *FailedResult", run.Outcome)
			}
			if run.Intent() != tt.intent {
				t.Errorf("Intent() = %q, want %q", run.Intent(), tt.intent)
			}
			if len(run.Trace) != 3 {
				t.Fatalf("trace has %d entries, want 3", len(run.Trace))
			}
			action := run.Trace[1]
			if action.Step != tt.wantStep {
				t.Errorf("trace[1].Step = %q, want %q", action.Step, tt.wantStep)
			}
			if !strings.Contains(action.Error, "driver bug") {
				t.Errorf("action entry error = %q", action.Error)
			}
			if !strings.Contains(run.ErrorText(), "driver bug") {
				t.Errorf("ErrorText() = %q", run.ErrorText())
			}
			if _, err := runs.Get(context.Background(), run.RunID); err != nil {
				t.Errorf("panicked run not logged: %v", err)
			}
		})
	}
}

func TestEngine_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	env := newTestEnv(t, classifier.Keyword{})
	const n = 16

	var wg sync.WaitGroup
	results := make([]*RunState, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.engine.Run(context.Background(), fmt.Sprintf("Create a task to review batch %d", i))
		}(i)
	}
	wg.Wait()

	seen := make(map[domain.TaskID]bool)
	for _, run := range results {
		checkRun(t, run)
		task := run.Task()
		if task == nil {
			t.Fatalf("run %s created no task: %q", run.RunID, run.ResultMessage)
		}
		if seen[task.ID] {
			t.Errorf("duplicate task id %s", task.ID)
		}
		seen[task.ID] = true
	}
	if got, _ := env.runs.Count(context.Background()); got != n {
		t.Errorf("run log has %d records, want %d", got, n)
	}
}

func TestEngine_Observers(t *testing.T) {
	var got []string
	env := newTestEnv(t, classifier.Keyword{},
		WithObserver(ObserverFunc(func(*RunState) { panic("observer bug") })),
		WithObserver(ObserverFunc(func(run *RunState) { got = append(got, run.RunID) })),
		WithRunIDs(func() string { return "run-1" }),
	)

	run := env.engine.Run(context.Background(), "Create a task to water plants")
	checkRun(t, run)

	if len(got) != 1 || got[0] != "run-1" {
		t.Errorf("observed runs = %v, want [run-1]", got)
	}
}

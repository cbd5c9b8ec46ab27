// Package workflow runs a request through classification, routing, action and
// confirmation, producing one complete RunState and one execution log record
// per run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/notify"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
	"github.com/hochfrequenz/task-workflow-agent/internal/trace"
)

// ErrEmptyInput is the failure of a run whose input is blank.
var ErrEmptyInput = errors.New("empty input")

// notifyTimeout bounds escalation notifications.
const notifyTimeout = 10 * time.Second

// RunLog is the append-only execution log. *runlog.Store satisfies it.
type RunLog interface {
	Append(ctx context.Context, rec domain.RunRecord) error
}

// Observer is told about every completed run.
type Observer interface {
	RunCompleted(run *RunState)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(run *RunState)

func (f ObserverFunc) RunCompleted(run *RunState) { f(run) }

// Engine composes the stages of a run. It is safe for concurrent use; each
// Run owns its own state.
type Engine struct {
	classifier classifier.Classifier
	executor   *ActionExecutor
	runlog     RunLog
	notifier   notify.Notifier
	observers  []Observer
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	newRunID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNotifier sets where escalations are announced.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithObserver adds an observer of completed runs.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(e *Engine) {
		e.newRunID = next
	}
}

// NewEngine wires an engine. store and log are independent: there is no
// transaction spanning both.
func NewEngine(c classifier.Classifier, store TaskStore, log RunLog, opts ...Option) *Engine {
	e := &Engine{
		classifier: c,
		executor:   NewActionExecutor(store),
		runlog:     log,
		notifier:   notify.NoopNotifier{},
		logger:     slog.Default(),
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "workflow")
	return e
}

// AddObserver registers an observer after construction. Not safe to call
// concurrently with Run.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// run is the per-invocation bookkeeping the engine keeps besides RunState.
type run struct {
	state   *RunState
	rec     *trace.Recorder
	visited map[Stage]bool
	logger  *slog.Logger

	// current is the stage last entered; open reports that it has not yet
	// written its trace entry.
	current Stage
	open    bool
}

// stageSteps maps pipeline stages to their trace step names.
var stageSteps = map[Stage]string{
	StageClassify:      domain.StepClassify,
	StageCreate:        domain.StepCreate,
	StageUpdate:        domain.StepUpdate,
	StageEscalate:      domain.StepEscalate,
	StageConfirmAndLog: domain.StepConfirmAndLog,
}

// enter marks a stage visited. The pipeline is a DAG; a second visit is a bug.
func (r *run) enter(s Stage) error {
	if r.visited[s] {
		return fmt.Errorf("internal error: stage %s visited twice", s)
	}
	r.visited[s] = true
	r.current = s
	r.open = true
	return nil
}

// record appends the current stage's trace entry.
func (r *run) record(in, out string, err error) {
	r.rec.Append(stageSteps[r.current], in, out, err)
	r.open = false
}

// abort closes the current stage with err. A stage that already wrote its
// entry gets no second one.
func (r *run) abort(err error) {
	if r.open {
		r.record("", "stage aborted", err)
	}
}

// fail records the first unrecoverable failure. Later failures do not replace it.
func (r *run) fail(intent domain.Intent, id domain.TaskID, err error) {
	if f, ok := r.state.Outcome.(*FailedResult); ok && f.Err != nil {
		return
	}
	r.state.Outcome = &FailedResult{Intent: intent, TaskID: id, Err: err}
}

// Run processes input to completion. It never returns nil and never panics;
// failures are reported inside the returned state.
//
// Once classification has started the run always reaches ConfirmAndLog: task
// and log writes ignore cancellation of ctx.
func (e *Engine) Run(ctx context.Context, input string) *RunState {
	e.metrics.runStarted()
	defer e.metrics.runFinished()

	r := &run{
		state: &RunState{
			RunID:     e.newRunID(),
			Input:     input,
			StartedAt: e.now().UTC(),
		},
		rec:     trace.NewRecorder(),
		visited: make(map[Stage]bool),
	}
	r.rec.Now = e.now
	r.logger = e.logger.With("run_id", r.state.RunID)

	e.execute(ctx, r)
	e.confirmAndLog(ctx, r)

	e.metrics.IncRun(r.state.Outcome.Kind())
	if r.state.RequiresHuman() {
		e.announceEscalation(ctx, r.state)
	}
	e.publish(r.state)
	return r.state
}

// execute runs Classify and the routed action stage.
func (e *Engine) execute(ctx context.Context, r *run) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Stage panicked", "stage", r.current, "panic", p, "stack", string(debug.Stack()))
			err := fmt.Errorf("internal error: %v", p)
			e.metrics.IncStageFailure(r.current, "panic")
			r.abort(err)
			r.fail(r.state.Intent(), r.state.TaskID(), err)
		}
	}()

	decision, ok := e.classify(ctx, r)
	if !ok {
		return
	}

	// Writes below must finish even if the caller goes away.
	wctx := context.WithoutCancel(ctx)

	switch decision.Stage {
	case StageCreate:
		e.create(wctx, r)
	case StageUpdate:
		e.update(wctx, r, decision.TaskID)
	default:
		e.escalate(r, decision)
	}
}

// classify runs the classifier and routes its result. Routing is not a
// separate trace entry; the decision is part of the classification entry.
func (e *Engine) classify(ctx context.Context, r *run) (Decision, bool) {
	if err := r.enter(StageClassify); err != nil {
		r.fail("", "", err)
		return Decision{}, false
	}

	input := strings.TrimSpace(r.state.Input)
	if input == "" {
		r.record("", "input rejected", ErrEmptyInput)
		e.metrics.IncStageFailure(StageClassify, "empty_input")
		r.fail("", "", ErrEmptyInput)
		return Decision{}, false
	}

	start := e.now()
	res, err := e.callClassifier(ctx, r, input)
	elapsed := e.now().Sub(start)

	result := "ok"
	var cerr *classifier.Error
	if errors.As(err, &cerr) {
		result = string(cerr.Kind)
	} else if err != nil {
		result = "error"
	}
	e.metrics.ObserveClassification(result, elapsed)

	decision := Route(input, res, err)
	r.state.Decision = &decision
	if res != nil && err == nil {
		r.state.Reasoning = res.Reasoning
		r.state.Fields = res.Fields
	}

	output := "intent=" + string(decision.Intent()) + " " + decision.String()
	if decision.Reason != "" {
		output += ": " + decision.Reason
	}
	r.record(input, output, err)

	r.logger.Info("Request classified",
		"intent", decision.Intent(),
		"stage", decision.Stage,
		"default", decision.Default,
		"duration", elapsed)
	if err != nil {
		e.metrics.IncStageFailure(StageClassify, result)
		r.logger.Warn("Classification failed, escalating", "error", err)
	}
	return decision, true
}

// callClassifier invokes the classifier. A panic is reported as an
// unavailable classification so the run escalates like any other failure.
func (e *Engine) callClassifier(ctx context.Context, r *run, input string) (res *classifier.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Classifier panicked", "panic", p, "stack", string(debug.Stack()))
			res = nil
			err = &classifier.Error{Kind: classifier.Unavailable, Err: fmt.Errorf("classifier panicked: %v", p)}
		}
	}()
	return e.classifier.Classify(ctx, input)
}

func (e *Engine) create(ctx context.Context, r *run) {
	if err := r.enter(StageCreate); err != nil {
		r.fail(domain.IntentCreate, "", err)
		return
	}

	f := r.state.Fields
	in := fmt.Sprintf("title=%q priority=%s", f.Title, domain.NormalizePriority(f.Priority))

	task, err := e.executor.ExecuteCreate(ctx, f)
	if err != nil {
		r.record(in, "", err)
		e.metrics.IncStageFailure(StageCreate, failureReason(err))
		r.logger.Error("Task creation failed", "error", err)
		r.fail(domain.IntentCreate, "", err)
		return
	}

	r.record(in, "created "+task.ID.String(), nil)
	r.logger.Info("Task created", "task_id", task.ID, "priority", task.Priority)
	r.state.Outcome = &CreatedResult{Task: task}
}

func (e *Engine) update(ctx context.Context, r *run, id domain.TaskID) {
	if err := r.enter(StageUpdate); err != nil {
		r.fail(domain.IntentUpdate, id, err)
		return
	}

	u := UpdateFromFields(r.state.Fields)
	changes := u.Changes()
	in := id.String() + " " + u.Describe()

	task, err := e.executor.ExecuteUpdate(ctx, id, r.state.Fields)
	if err != nil {
		r.record(in, "", err)
		e.metrics.IncStageFailure(StageUpdate, failureReason(err))
		r.logger.Warn("Task update failed", "task_id", id, "error", err)
		r.fail(domain.IntentUpdate, id, err)
		return
	}

	r.record(in, fmt.Sprintf("updated %s (history %d)", task.ID, len(task.History)), nil)
	r.logger.Info("Task updated", "task_id", task.ID, "changes", changes)
	r.state.Outcome = &UpdatedResult{Task: task, Changes: changes}
}

func (e *Engine) escalate(r *run, d Decision) {
	if err := r.enter(StageEscalate); err != nil {
		r.fail(domain.IntentEscalate, "", err)
		return
	}

	res := Escalate(d.Reason, d.Default)
	r.record(d.Reason, "requires_human=true", nil)
	r.logger.Info("Request escalated", "reason", res.Reason, "default", res.RoutingDefault)
	r.state.Outcome = res
}

// confirmAndLog finalizes the result message, appends the closing trace entry
// and writes the execution log record. It runs for every run.
func (e *Engine) confirmAndLog(ctx context.Context, r *run) {
	if r.state.Outcome == nil {
		r.fail(r.state.Intent(), "", errors.New("internal error: run finished without an outcome"))
	}
	if err := r.enter(StageConfirmAndLog); err != nil {
		r.logger.Error("Confirm stage re-entered", "error", err)
		return
	}

	s := r.state
	s.ResultMessage = s.Outcome.Message()

	var actionErr error
	if f, ok := s.Outcome.(*FailedResult); ok {
		actionErr = f.Err
	}
	r.record(s.Outcome.Kind(), s.ResultMessage, actionErr)
	s.Trace = r.rec.Entries()

	if e.runlog == nil {
		return
	}
	if err := e.runlog.Append(context.WithoutCancel(ctx), s.Record()); err != nil {
		s.LogErr = fmt.Errorf("write execution log: %w", err)
		e.metrics.IncLogFailure()
		r.logger.Error("Execution log write failed", "error", err)
	}
}

// announceEscalation forwards an escalation to the notifier. Failures are
// logged and never change the run.
func (e *Engine) announceEscalation(ctx context.Context, s *RunState) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	n := notify.Notification{
		Title:   "Human review required",
		Message: s.ResultMessage + "\n\nRequest: " + s.Input,
		Type:    notify.NotifyWarning,
		RunID:   s.RunID,
	}
	if err := e.notifier.Send(nctx, n); err != nil {
		e.logger.Warn("Escalation notification failed", "run_id", s.RunID, "error", err)
	}
}

func (e *Engine) publish(s *RunState) {
	for _, o := range e.observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error("Run observer panicked", "run_id", s.RunID, "panic", p)
				}
			}()
			o.RunCompleted(s)
		}()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, taskstore.ErrNotFound):
		return "not_found"
	case errors.Is(err, taskstore.ErrEmptyTitle):
		return "invalid"
	default:
		return "persistence"
	}
}

// Package dispatch runs workflow requests in the background and reports each
// result to a callback URL.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/llm"
	"github.com/hochfrequenz/task-workflow-agent/internal/notify"
	"github.com/hochfrequenz/task-workflow-agent/internal/workflow"
)

var (
	// ErrQueueFull is returned by Submit when no queue space is left.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("dispatcher stopped")
)

// Defaults used when Config leaves a value at zero.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

// Runner executes one request. *workflow.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, input string) *workflow.RunState
}

// Config sizes the dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	// CallbackTimeout bounds one callback delivery. Zero means 10s.
	CallbackTimeout time.Duration
}

// Job is one queued request.
type Job struct {
	ID          string
	Input       string
	CallbackURL string
	// Model overrides the configured LLM model for this run.
	Model       string
	SubmittedAt time.Time
}

// Callback is the JSON body POSTed to a job's callback URL.
type Callback struct {
	JobID         string        `json:"job_id"`
	RunID         string        `json:"run_id"`
	TaskID        domain.TaskID `json:"task_id,omitempty"`
	Result        string        `json:"result"`
	Status        string        `json:"status"`
	RequiresHuman bool          `json:"requires_human"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Callback statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NewCallback builds the callback for a finished run.
func NewCallback(job Job, run *workflow.RunState, now time.Time) Callback {
	cb := Callback{
		JobID:         job.ID,
		RunID:         run.RunID,
		TaskID:        run.TaskID(),
		Result:        run.ResultMessage,
		Status:        StatusSuccess,
		RequiresHuman: run.RequiresHuman(),
		Timestamp:     now.UTC(),
	}
	if err := run.Err(); err != nil {
		cb.Status = StatusError
		cb.Error = err.Error()
	}
	return cb
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Queued  int `json:"queued"`
}

// Dispatcher is a bounded queue in front of a fixed number of job slots.
type Dispatcher struct {
	runner          Runner
	pool            *Pool
	queue           chan Job
	client          *http.Client
	callbackTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time

	mu      sync.RWMutex
	started bool
	stopped bool
	jobs    sync.WaitGroup
	done    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithHTTPClient sets the client used for callbacks.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// New creates a dispatcher. Jobs may be submitted before Start; they run once
// it is called.
func New(runner Runner, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = notify.DefaultWebhookTimeout
	}
	d := &Dispatcher{
		runner:          runner,
		pool:            NewPool(cfg.Workers),
		queue:           make(chan Job, cfg.QueueSize),
		callbackTimeout: cfg.CallbackTimeout,
		logger:          slog.Default(),
		now:             time.Now,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: cfg.CallbackTimeout}
	}
	d.logger = d.logger.With("component", "dispatch")
	d.pool.SetOnSlotsChanged(func(available int) {
		d.logger.Debug("Dispatch slots changed", "available", available)
	})
	return d
}

// Submit queues input. Its result is POSTed to callbackURL when it finishes.
func (d *Dispatcher) Submit(input, callbackURL string) (string, error) {
	return d.SubmitJob(Job{Input: input, CallbackURL: callbackURL})
}

// SubmitJob queues job, assigning its ID and submission time.
func (d *Dispatcher) SubmitJob(job Job) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return "", ErrStopped
	}

	job.ID = uuid.NewString()
	job.SubmittedAt = d.now().UTC()

	select {
	case d.queue <- job:
		d.logger.Info("Job queued", "job_id", job.ID, "queued", len(d.queue))
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Start begins processing. Jobs inherit values from ctx but not its
// cancellation: Stop is the way to end the dispatcher.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	go d.loop(context.WithoutCancel(ctx))
}

// Stop refuses new jobs and waits until every queued and running job has
// finished and delivered its callback. On a dispatcher that was never
// started, queued jobs are not run: each is logged as dropped and its
// callback reports ErrStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for job := range d.queue {
			d.drop(job, ErrStopped)
		}
		close(d.done)
		return
	}
	<-d.done
}

// drop reports a job that will never run.
func (d *Dispatcher) drop(job Job, reason error) {
	logger := d.logger.With("job_id", job.ID)
	logger.Warn("Job dropped",
		"reason", reason,
		"queued_for", d.now().Sub(job.SubmittedAt))

	if job.CallbackURL == "" {
		return
	}
	cb := Callback{
		JobID:     job.ID,
		Result:    "Job was not run",
		Status:    StatusError,
		Error:     reason.Error(),
		Timestamp: d.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.callbackTimeout)
	defer cancel()
	if err := notify.PostJSON(ctx, d.client, job.CallbackURL, cb); err != nil {
		logger.Warn("Callback delivery failed", "url", job.CallbackURL, "error", err)
	}
}

// Stats reports worker and queue usage.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers: d.pool.MaxJobs(),
		Busy:    d.pool.MaxJobs() - d.pool.Available(),
		Queued:  len(d.queue),
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	for job := range d.queue {
		if err := d.pool.Wait(ctx); err != nil {
			d.drop(job, err)
			continue
		}
		d.jobs.Add(1)
		go func(job Job) {
			defer d.jobs.Done()
			defer d.pool.Release()
			d.process(ctx, job)
		}(job)
	}
	d.jobs.Wait()
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	logger := d.logger.With("job_id", job.ID)

	runCtx := ctx
	if job.Model != "" {
		runCtx = llm.ContextWithModel(runCtx, job.Model)
	}
	run := d.runner.Run(runCtx, job.Input)
	logger.Info("Job finished",
		"run_id", run.RunID,
		"outcome", run.Outcome.Kind(),
		"wait", run.StartedAt.Sub(job.SubmittedAt))

	if job.CallbackURL == "" {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, d.callbackTimeout)
	defer cancel()
	if err := notify.PostJSON(cctx, d.client, job.CallbackURL, NewCallback(job, run, d.now())); err != nil {
		logger.Warn("Callback delivery failed", "url", job.CallbackURL, "error", err)
		return
	}
	logger.Debug("Callback delivered", "url", job.CallbackURL)
}

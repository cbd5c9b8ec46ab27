// Package api exposes the workflow engine, the task store and the execution
// log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/task-workflow-agent/internal/dispatch"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
	"github.com/hochfrequenz/task-workflow-agent/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

// Engine runs natural-language requests. *workflow.Engine satisfies it.
type Engine interface {
	Run(ctx context.Context, input string) *workflow.RunState
}

// TaskStore is the task store as used by the direct CRUD endpoints.
// *taskstore.Store satisfies it.
type TaskStore interface {
	Create(ctx context.Context, nt taskstore.NewTask) (*domain.Task, error)
	Get(ctx context.Context, id domain.TaskID) (*domain.Task, error)
	List(ctx context.Context, opts taskstore.ListOptions) ([]*domain.Task, error)
	Update(ctx context.Context, id domain.TaskID, u domain.TaskUpdate) (*domain.Task, error)
	Reset(ctx context.Context) error
}

// RunLog is the execution log as read by /logs. *runlog.Store satisfies it.
type RunLog interface {
	Recent(ctx context.Context, limit int) ([]*domain.RunRecord, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// Dispatcher queues asynchronous requests. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	SubmitJob(job dispatch.Job) (string, error)
	Stats() dispatch.Stats
}

// HealthChecker checks the model server. *llm.Client satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) ([]string, error)
	Model() string
}

// Server is the HTTP API server
type Server struct {
	engine     Engine
	tasks      TaskStore
	runs       RunLog
	dispatcher Dispatcher
	health     HealthChecker
	llmURL     string
	metrics    http.Handler
	hub        *Hub
	logger     *slog.Logger
	addr       string
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDispatcher enables POST /webhook/task/async.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// WithHealthChecker makes /health check the model server at url.
func WithHealthChecker(h HealthChecker, url string) Option {
	return func(s *Server) {
		s.health = h
		s.llmURL = url
	}
}

// WithMetricsHandler replaces the default Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a new API server
func NewServer(engine Engine, tasks TaskStore, runs RunLog, addr string, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		tasks:   tasks,
		runs:    runs,
		addr:    addr,
		mux:     http.NewServeMux(),
		logger:  slog.Default(),
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	s.hub = NewHub(s.logger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Natural-language entry points
	s.mux.HandleFunc("/webhook/task", s.webhookTaskHandler())
	s.mux.HandleFunc("/webhook/task/async", s.webhookAsyncHandler())

	// Direct task API, bypasses the LLM
	s.mux.HandleFunc("/api/tasks", s.tasksHandler())
	s.mux.HandleFunc("/api/tasks/", s.taskHandler())
	s.mux.HandleFunc("/api/events", s.eventsHandler())

	// Utility
	s.mux.HandleFunc("/logs", s.logsHandler())
	s.mux.HandleFunc("/health", s.healthHandler())
	s.mux.HandleFunc("/reset", s.resetHandler())
	s.mux.Handle("/metrics", s.metrics)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the event hub feeding /api/events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// RunCompleted broadcasts a finished run to /api/events subscribers. It
// makes Server a workflow.Observer.
func (s *Server) RunCompleted(run *workflow.RunState) {
	s.hub.Broadcast(Event{Type: EventRunCompleted, Data: runSummary(run)})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

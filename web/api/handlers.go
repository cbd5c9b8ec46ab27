package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/task-workflow-agent/internal/dispatch"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/llm"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

const (
	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second
	defaultLogs   = 10
	serviceName   = "Task Workflow Agent"
)

// TaskRequest is the body of the webhook endpoints
type TaskRequest struct {
	Input      string `json:"input"`
	WebhookURL string `json:"webhook_url,omitempty"`
	// Model selects a different LLM model for this request.
	Model string `json:"model,omitempty"`
}

// TaskResponse is the result of a synchronous run
type TaskResponse struct {
	Success        bool                `json:"success"`
	RunID          string              `json:"run_id"`
	TaskID         domain.TaskID       `json:"task_id,omitempty"`
	Intent         domain.Intent       `json:"intent,omitempty"`
	Result         string              `json:"result"`
	Reasoning      string              `json:"reasoning"`
	RequiresHuman  bool                `json:"requires_human"`
	Error          string              `json:"error,omitempty"`
	ExecutionTrace []domain.TraceEntry `json:"execution_trace"`
	Timestamp      time.Time           `json:"timestamp"`
}

// AsyncResponse acknowledges a queued request
type AsyncResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	JobID       string `json:"job_id"`
	CallbackURL string `json:"callback_url"`
}

// CreateTaskRequest is the body of POST /api/tasks
type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// UpdateTaskRequest is the body of PUT /api/tasks/{id}. Absent fields are
// left unchanged.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// TaskResult wraps a task returned by a mutation
type TaskResult struct {
	Success bool         `json:"success"`
	Task    *domain.Task `json:"task"`
}

// TaskListResponse is the body of GET /api/tasks
type TaskListResponse struct {
	Count int            `json:"count"`
	Tasks []*domain.Task `json:"tasks"`
}

// LogsResponse is the body of GET /logs. Count is the total number of stored
// records, not the length of Logs.
type LogsResponse struct {
	Count int                 `json:"count"`
	Logs  []*domain.RunRecord `json:"logs"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Service   string          `json:"service"`
	LLM       LLMHealth       `json:"llm"`
	Dispatch  *dispatch.Stats `json:"dispatch,omitempty"`
}

// LLMHealth reports model server reachability
type LLMHealth struct {
	Status          string   `json:"status"`
	URL             string   `json:"url,omitempty"`
	Model           string   `json:"model,omitempty"`
	AvailableModels []string `json:"available_models"`
	Error           string   `json:"error,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) webhookTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req TaskRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx := r.Context()
		if req.Model != "" {
			ctx = llm.ContextWithModel(ctx, req.Model)
		}
		run := s.engine.Run(ctx, req.Input)

		writeJSON(w, TaskResponse{
			Success:        run.Err() == nil,
			RunID:          run.RunID,
			TaskID:         run.TaskID(),
			Intent:         run.Intent(),
			Result:         run.ResultMessage,
			Reasoning:      run.Reasoning,
			RequiresHuman:  run.RequiresHuman(),
			Error:          run.ErrorText(),
			ExecutionTrace: run.Trace,
			Timestamp:      time.Now().UTC(),
		})
	}
}

func (s *Server) webhookAsyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req TaskRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.WebhookURL == "" {
			writeError(w, http.StatusBadRequest, "webhook_url required for async processing")
			return
		}
		if s.dispatcher == nil {
			writeError(w, http.StatusServiceUnavailable, "async processing not available")
			return
		}

		jobID, err := s.dispatcher.SubmitJob(dispatch.Job{
			Input:       req.Input,
			CallbackURL: req.WebhookURL,
			Model:       req.Model,
		})
		if err != nil {
			if errors.Is(err, dispatch.ErrQueueFull) || errors.Is(err, dispatch.ErrStopped) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSONStatus(w, http.StatusAccepted, AsyncResponse{
			Status:      "processing",
			Message:     "Task queued for processing",
			JobID:       jobID,
			CallbackURL: req.WebhookURL,
		})
	}
}

func (s *Server) tasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listTasks(w, r)
		case http.MethodPost:
			s.createTask(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var opts taskstore.ListOptions
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status, ok := domain.ParseTaskStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", v))
			return
		}
		opts.Status = status
	}
	if v := q.Get("priority"); v != "" {
		priority, ok := domain.ParsePriority(v)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid priority %q", v))
			return
		}
		opts.Priority = priority
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		opts.Limit = n
	}

	tasks, err := s.tasks.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, TaskListResponse{Count: len(tasks), Tasks: tasks})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.tasks.Create(r.Context(), taskstore.NewTask{
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.NormalizePriority(req.Priority),
	})
	if err != nil {
		if errors.Is(err, taskstore.ErrEmptyTitle) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Task created directly", "task_id", task.ID)
	writeJSONStatus(w, http.StatusCreated, TaskResult{Success: true, Task: task})
}

func (s *Server) taskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Extract task ID from path: /api/tasks/{id}
		raw := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if raw == "" || strings.Contains(raw, "/") {
			writeError(w, http.StatusBadRequest, "task ID required")
			return
		}
		id, err := domain.ParseTaskID(strings.ToUpper(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		switch r.Method {
		case http.MethodGet:
			s.getTask(w, r, id)
		case http.MethodPut:
			s.updateTask(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, id domain.TaskID) {
	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	writeJSON(w, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, id domain.TaskID) {
	var req UpdateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.IsEmpty() {
		writeError(w, http.StatusBadRequest, "No updates provided")
		return
	}

	task, err := s.tasks.Update(r.Context(), id, u)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}

	s.logger.Info("Task updated directly", "task_id", id, "changes", u.Changes())
	writeJSON(w, TaskResult{Success: true, Task: task})
}

func (req UpdateTaskRequest) toUpdate() (domain.TaskUpdate, error) {
	var u domain.TaskUpdate
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return u, taskstore.ErrEmptyTitle
		}
		u.Title = &title
	}
	if req.Description != nil {
		u.Description = req.Description
	}
	if req.Priority != nil {
		p, ok := domain.ParsePriority(*req.Priority)
		if !ok {
			return u, fmt.Errorf("invalid priority %q", *req.Priority)
		}
		u.Priority = &p
	}
	if req.Status != nil {
		st, ok := domain.ParseTaskStatus(*req.Status)
		if !ok {
			return u, fmt.Errorf("invalid status %q", *req.Status)
		}
		u.Status = &st
	}
	return u, nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, id domain.TaskID, err error) {
	if errors.Is(err, taskstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Task %s not found", id))
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) logsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		limit := defaultLogs
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
				return
			}
			limit = n
		}

		records, err := s.runs.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		total, err := s.runs.Count(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if records == nil {
			records = []*domain.RunRecord{}
		}
		writeJSON(w, LogsResponse{Count: total, Logs: records})
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		resp := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Service:   serviceName,
			LLM:       s.checkLLM(r.Context()),
		}
		if s.dispatcher != nil {
			stats := s.dispatcher.Stats()
			resp.Dispatch = &stats
		}
		writeJSON(w, resp)
	}
}

func (s *Server) checkLLM(ctx context.Context) LLMHealth {
	h := LLMHealth{Status: "offline", URL: s.llmURL, AvailableModels: []string{}}
	if s.health == nil {
		return h
	}
	h.Model = s.health.Model()

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	models, err := s.health.Ping(ctx)
	if err != nil {
		h.Status = "disconnected"
		h.Error = err.Error()
		return h
	}
	h.Status = "connected"
	if models != nil {
		h.AvailableModels = models
	}
	return h
}

func (s *Server) resetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := s.tasks.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.runs.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		s.logger.Warn("Task store and execution log reset")
		writeJSON(w, map[string]any{
			"success": true,
			"message": "Database reset successfully",
		})
	}
}

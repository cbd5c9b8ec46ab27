package workflow

import (
	"context"
	"strings"

	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

// TaskStore is the part of the task store the executor mutates.
// *taskstore.Store satisfies it.
type TaskStore interface {
	Create(ctx context.Context, nt taskstore.NewTask) (*domain.Task, error)
	Update(ctx context.Context, id domain.TaskID, u domain.TaskUpdate) (*domain.Task, error)
}

// ActionExecutor performs the create and update actions.
//
// Creation is never deduplicated: identical fields create a new task each
// time. Repeating an identical update leaves the fields unchanged but still
// appends a history entry.
type ActionExecutor struct {
	store TaskStore
}

func NewActionExecutor(store TaskStore) *ActionExecutor {
	return &ActionExecutor{store: store}
}

// ExecuteCreate creates a pending task. An unrecognized or missing priority
// becomes medium.
func (x *ActionExecutor) ExecuteCreate(ctx context.Context, f classifier.Fields) (*domain.Task, error) {
	if strings.TrimSpace(f.Title) == "" {
		return nil, taskstore.ErrEmptyTitle
	}
	return x.store.Create(ctx, taskstore.NewTask{
		Title:       f.Title,
		Description: f.Description,
		Priority:    domain.NormalizePriority(f.Priority),
	})
}

// ExecuteUpdate applies status, priority and description to an existing task.
// A missing task yields taskstore.ErrNotFound and leaves the store unchanged.
func (x *ActionExecutor) ExecuteUpdate(ctx context.Context, id domain.TaskID, f classifier.Fields) (*domain.Task, error) {
	return x.store.Update(ctx, id, UpdateFromFields(f))
}

// UpdateFromFields builds the task update carried by classified fields.
// Values outside the known enums are dropped, not guessed.
func UpdateFromFields(f classifier.Fields) domain.TaskUpdate {
	var u domain.TaskUpdate
	if s, ok := domain.ParseTaskStatus(f.Status); ok {
		u.Status = &s
	}
	if p, ok := domain.ParsePriority(f.Priority); ok {
		u.Priority = &p
	}
	if d := strings.TrimSpace(f.Description); d != "" {
		u.Description = &d
	}
	return u
}

package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	taskIDRegex  = regexp.MustCompile(`(?i)^TASK-(\d{4,})$`)
	taskIDInText = regexp.MustCompile(`(?i)\bTASK-\d{4,}\b`)
)

// TaskID identifies a task as TASK-NNNN
type TaskID string

// FormatTaskID renders the n-th allocated id
func FormatTaskID(n int) TaskID {
	return TaskID(fmt.Sprintf("TASK-%04d", n))
}

// ParseTaskID parses a string like "TASK-0001" into a TaskID
func ParseTaskID(s string) (TaskID, error) {
	matches := taskIDRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return "", fmt.Errorf("invalid task ID format: %q (expected TASK-####)", s)
	}
	return TaskID("TASK-" + matches[1]), nil
}

// FindTaskID returns the first task id mentioned in free text.
func FindTaskID(text string) (TaskID, bool) {
	m := taskIDInText.FindString(text)
	if m == "" {
		return "", false
	}
	return TaskID(strings.ToUpper(m)), true
}

// Seq returns the numeric part of the id, or 0 if malformed.
func (id TaskID) Seq() int {
	matches := taskIDRegex.FindStringSubmatch(string(id))
	if matches == nil {
		return 0
	}
	n, _ := strconv.Atoi(matches[1]) // regex guarantees digits
	return n
}

func (id TaskID) String() string {
	return string(id)
}

// Task is a persisted unit of work
type Task struct {
	ID          TaskID         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    Priority       `json:"priority"`
	Status      TaskStatus     `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	History     []HistoryEntry `json:"history"`
}

// HistoryEntry records one mutation of a task
type HistoryEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Change    string            `json:"change"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// TaskUpdate lists the fields an update sets. Nil fields are left alone.
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *Priority
	Status      *TaskStatus
}

// Changes returns the fields set by the update keyed by column name.
func (u TaskUpdate) Changes() map[string]string {
	changes := make(map[string]string)
	if u.Title != nil {
		changes["title"] = *u.Title
	}
	if u.Description != nil {
		changes["description"] = *u.Description
	}
	if u.Priority != nil {
		changes["priority"] = string(*u.Priority)
	}
	if u.Status != nil {
		changes["status"] = string(*u.Status)
	}
	return changes
}

// IsEmpty reports whether the update sets nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.Status == nil
}

// Describe renders the update as a history change line.
func (u TaskUpdate) Describe() string {
	changes := u.Changes()
	if len(changes) == 0 {
		return "updated: no field changes"
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + changes[k]
	}
	return "updated: " + strings.Join(parts, ", ")
}

// Apply copies the set fields onto t. It does not touch history or timestamps.
func (u TaskUpdate) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
}

package domain

import "strings"

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// ParseTaskStatus maps a status string, including the spellings people
// actually type, onto a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "todo", "not_started":
		return StatusPending, true
	case "in_progress", "in progress", "in-progress", "started":
		return StatusInProgress, true
	case "completed", "complete", "done":
		return StatusCompleted, true
	}
	return "", false
}

// Priority represents task priority
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority reports whether s names one of the three priorities.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	}
	return "", false
}

// NormalizePriority coerces unknown or empty values to medium.
func NormalizePriority(s string) Priority {
	if p, ok := ParsePriority(s); ok {
		return p
	}
	return PriorityMedium
}

// Intent is the classified category of a request
type Intent string

const (
	IntentCreate   Intent = "create"
	IntentUpdate   Intent = "update"
	IntentEscalate Intent = "escalate"
)

// ParseIntent is case-insensitive; the classifier prompt asks for upper case.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentCreate:
		return IntentCreate, true
	case IntentUpdate:
		return IntentUpdate, true
	case IntentEscalate:
		return IntentEscalate, true
	}
	return "", false
}

// Workflow step names as they appear in execution traces.
const (
	StepClassify      = "intent_classifier"
	StepCreate        = "create_task"
	StepUpdate        = "update_task"
	StepEscalate      = "escalate_to_human"
	StepConfirmAndLog = "confirm_and_log"
)

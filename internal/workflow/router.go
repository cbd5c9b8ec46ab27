package workflow

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
)

// Stage is a node of the run pipeline.
type Stage string

const (
	StageClassify      Stage = "classify"
	StageCreate        Stage = "create"
	StageUpdate        Stage = "update"
	StageEscalate      Stage = "escalate"
	StageConfirmAndLog Stage = "confirm_and_log"
)

// Decision is the Router's choice of the action stage.
type Decision struct {
	Stage  Stage         `json:"stage"`
	TaskID domain.TaskID `json:"task_id,omitempty"`
	Reason string        `json:"reason,omitempty"`
	// Default marks the fail-safe escalation taken when the classification
	// could not be acted on. It is not an error.
	Default bool `json:"default,omitempty"`
}

// Intent is the run intent implied by the decision.
func (d Decision) Intent() domain.Intent {
	switch d.Stage {
	case StageCreate:
		return domain.IntentCreate
	case StageUpdate:
		return domain.IntentUpdate
	default:
		return domain.IntentEscalate
	}
}

func (d Decision) String() string {
	s := "route=" + string(d.Stage)
	if d.TaskID != "" {
		s += " task=" + d.TaskID.String()
	}
	if d.Default {
		s += " (default)"
	}
	return s
}

func routingDefault(reason string) Decision {
	return Decision{Stage: StageEscalate, Reason: reason, Default: true}
}

// Route maps a classification outcome onto the next stage. It is total: every
// input yields exactly one of create, update or escalate, and it never panics.
func Route(input string, res *classifier.Result, err error) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = routingDefault(fmt.Sprintf("routing failed: %v", r))
		}
	}()

	if err != nil {
		return routingDefault("classification failed: " + err.Error())
	}
	if res == nil {
		return routingDefault("classification returned no result")
	}

	switch res.Intent {
	case domain.IntentCreate:
		if strings.TrimSpace(res.Fields.Title) == "" {
			return routingDefault("create request without a title")
		}
		return Decision{Stage: StageCreate, Reason: res.Reasoning}

	case domain.IntentUpdate:
		id, err := domain.ParseTaskID(res.Fields.TaskID)
		if err != nil {
			var ok bool
			if id, ok = domain.FindTaskID(input); !ok {
				return routingDefault("update request without a task id")
			}
		}
		return Decision{Stage: StageUpdate, TaskID: id, Reason: res.Reasoning}

	case domain.IntentEscalate:
		reason := res.Reasoning
		if reason == "" {
			reason = "classifier requested human review"
		}
		return Decision{Stage: StageEscalate, Reason: reason}
	}

	return routingDefault(fmt.Sprintf("unrecognized intent %q", res.Intent))
}

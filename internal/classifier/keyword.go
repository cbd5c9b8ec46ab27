package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
)

var (
	complexPattern  = regexp.MustCompile(`(?i)\b(plan|strategy|roadmap|figure out|brainstorm|analy[sz]e|decide)\b`)
	createPattern   = regexp.MustCompile(`(?i)\b(create|add|new|make|open)\b`)
	updatePattern   = regexp.MustCompile(`(?i)\b(update|mark|set|change|move|complete|finish|close|reopen|start)\b`)
	priorityPattern = regexp.MustCompile(`(?i)\b(high|medium|low)[\s-]+priority\b|\bpriority\s*(?:to|of|is|:|=)?\s*(high|medium|low)\b`)
	statusPattern   = regexp.MustCompile(`(?i)\b(in[_\s-]progress|completed?|done|pending|started)\b`)
	descPattern     = regexp.MustCompile(`(?i)\bdescription\s*(?:to|:|=)\s*(.+)$`)
	titlePrefix     = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:create|add|make|open)\s+(?:(?:a|an|new|the)\s+)*(?:(?:high|medium|low)[\s-]+priority\s+)?(?:(?:task|todo|ticket|item)\b)?\s*(?:(?:to|for|about)\b|:|-)?\s*`)
	titleSuffix     = regexp.MustCompile(`(?i)\s*(?:,\s*|\s+)?(?:with\s+)?(?:(?:high|medium|low)[\s-]+priority|priority\s*(?:of|:|=)?\s*(?:high|medium|low))\s*\.?\s*$`)
)

// Keyword is a deterministic rule-based classifier for offline use. It never
// fails and never classifies an input naming a task id as create.
type Keyword struct{}

// Classify implements Classifier.
func (Keyword) Classify(_ context.Context, input string) (*Result, error) {
	text := strings.TrimSpace(input)
	id, hasID := domain.FindTaskID(text)

	if complexPattern.MatchString(text) && !hasID {
		return escalation("request asks for planning or judgment beyond a single task"), nil
	}

	if hasID {
		fields := Fields{TaskID: id.String(), Priority: matchPriority(text)}
		if m := statusPattern.FindString(text); m != "" {
			if s, ok := domain.ParseTaskStatus(strings.ReplaceAll(m, "_", " ")); ok {
				fields.Status = string(s)
			}
		}
		if m := descPattern.FindStringSubmatch(text); m != nil {
			fields.Description = strings.TrimSpace(m[1])
		}
		if fields.Status == "" && fields.Priority == "" && fields.Description == "" && !updatePattern.MatchString(text) {
			return escalation("request mentions " + id.String() + " without a recognizable change"), nil
		}
		return &Result{
			Intent:    domain.IntentUpdate,
			Fields:    fields,
			Reasoning: "keyword match: update of " + id.String(),
		}, nil
	}

	if createPattern.MatchString(text) {
		title := titlePrefix.ReplaceAllString(text, "")
		title = titleSuffix.ReplaceAllString(title, "")
		title = strings.TrimRight(strings.TrimSpace(title), ".!")
		return &Result{
			Intent: domain.IntentCreate,
			Fields: Fields{
				Title:       title,
				Description: text,
				Priority:    matchPriority(text),
			},
			Reasoning: "keyword match: create",
		}, nil
	}

	return escalation("request does not match a single create or update"), nil
}

func escalation(reason string) *Result {
	return &Result{Intent: domain.IntentEscalate, Reasoning: reason}
}

func matchPriority(text string) string {
	m := priorityPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(m[2])
}

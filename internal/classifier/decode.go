package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/llm"
)

// Fields are the values the model extracted from the request. Empty strings
// mean "not mentioned".
type Fields struct {
	TaskID      string `json:"task_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Result is a validated classification.
type Result struct {
	Intent    domain.Intent `json:"intent"`
	Fields    Fields        `json:"fields"`
	Reasoning string        `json:"reasoning"`
	// Raw is the unparsed model output. Empty for non-LLM classifiers.
	Raw string `json:"-"`
}

// looseString accepts strings, numbers, booleans and null.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*s = looseString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(x))
	default:
		return fmt.Errorf("unsupported value %s", data)
	}
	return nil
}

type wireFields struct {
	TaskID      looseString `json:"task_id"`
	Title       looseString `json:"title"`
	Description looseString `json:"description"`
	Priority    looseString `json:"priority"`
	Status      looseString `json:"status"`
}

type wirePayload struct {
	Intent        looseString `json:"intent"`
	Reasoning     looseString `json:"reasoning"`
	ExtractedData *wireFields `json:"extracted_data"`
	Fields        *wireFields `json:"fields"`
}

// Decode turns raw model output into a Result. Prose or markdown around the
// JSON object is tolerated, as is almost-JSON that jsonrepair can fix. When the
// output holds several objects the first one carrying an intent wins. An
// absent object or an intent outside create/update/escalate is Malformed.
func Decode(raw string) (*Result, error) {
	candidates := llm.JSONCandidates(raw)
	if len(candidates) == 0 {
		return nil, malformed("no JSON object in model output")
	}

	var p *wirePayload
	var firstErr error
	for _, c := range candidates {
		cp, err := decodePayload(c)
		if err == nil && cp.Intent == "" {
			err = malformed("model output has no intent")
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p = cp
		break
	}
	if p == nil {
		return nil, firstErr
	}

	intent, ok := domain.ParseIntent(string(p.Intent))
	if !ok {
		return nil, malformed("unknown intent %q", p.Intent)
	}

	wf := p.ExtractedData
	if wf == nil {
		wf = p.Fields
	}

	res := &Result{
		Intent:    intent,
		Reasoning: strings.TrimSpace(string(p.Reasoning)),
		Raw:       raw,
	}
	if wf != nil {
		res.Fields = normalizeFields(Fields{
			TaskID:      string(wf.TaskID),
			Title:       string(wf.Title),
			Description: string(wf.Description),
			Priority:    string(wf.Priority),
			Status:      string(wf.Status),
		})
	}
	return res, nil
}

// decodePayload unmarshals one candidate object, retrying once through
// jsonrepair.
func decodePayload(candidate string) (*wirePayload, error) {
	var p wirePayload
	err := json.Unmarshal([]byte(candidate), &p)
	if err == nil {
		return &p, nil
	}
	repaired, rerr := llm.Repair(candidate)
	if rerr != nil {
		return nil, malformed("decode model output: %v", err)
	}
	p = wirePayload{}
	if err := json.Unmarshal([]byte(repaired), &p); err != nil {
		return nil, malformed("decode repaired model output: %v", err)
	}
	return &p, nil
}

// normalizeFields trims values and drops placeholder task ids such as
// "TASK-XXXX" that the prompt example may provoke.
func normalizeFields(f Fields) Fields {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Priority = strings.ToLower(strings.TrimSpace(f.Priority))
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))

	if id, err := domain.ParseTaskID(f.TaskID); err == nil {
		f.TaskID = id.String()
	} else {
		f.TaskID = ""
	}
	return f
}

// Validate checks a decoded result against the classification contract: an
// input that names an existing task id is never a create.
func Validate(input string, res *Result) error {
	if res.Intent == domain.IntentCreate {
		if id, ok := domain.FindTaskID(input); ok {
			return malformed("create intent for input referencing %s", id)
		}
	}
	return nil
}

// Package classifier turns a free-text request into a typed intent decision.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/llm"
	"github.com/hochfrequenz/task-workflow-agent/internal/prompts"
)

// DefaultTimeout bounds one classification, retries included.
const DefaultTimeout = 120 * time.Second

// Classifier sorts input into create, update or escalate. Any returned error
// is a *Error. Callers trim and reject empty input beforehand.
type Classifier interface {
	Classify(ctx context.Context, input string) (*Result, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, input string) (*Result, error)

func (f Func) Classify(ctx context.Context, input string) (*Result, error) {
	return f(ctx, input)
}

// LLM classifies by prompting a model.
type LLM struct {
	completer llm.Completer
	prompts   *prompts.Loader
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures an LLM classifier.
type Option func(*LLM)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *LLM) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *LLM) {
		c.logger = logger
	}
}

// New returns a classifier that calls completer with prompts from loader.
func New(completer llm.Completer, loader *prompts.Loader, opts ...Option) *LLM {
	c := &LLM{
		completer: completer,
		prompts:   loader,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "classifier")
	return c
}

// Classify implements Classifier. It has no side effects besides the model
// call and is safe to retry.
func (c *LLM) Classify(ctx context.Context, input string) (*Result, error) {
	system, user, err := c.prompts.BuildClassifierPrompt(prompts.ClassifierData{
		Input:         input,
		TaskIDExample: domain.FormatTaskID(1).String(),
		Priorities:    []string{string(domain.PriorityLow), string(domain.PriorityMedium), string(domain.PriorityHigh)},
		Statuses:      []string{string(domain.StatusPending), string(domain.StatusInProgress), string(domain.StatusCompleted)},
	})
	if err != nil {
		return nil, unavailable(fmt.Errorf("build prompt: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return nil, &Error{Kind: Malformed, Err: err}
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("no answer within %s: %w", c.timeout, err)
		}
		c.logger.Warn("Classifier unavailable", "error", err)
		return nil, unavailable(err)
	}

	res, err := Decode(raw)
	if err != nil {
		c.logger.Warn("Malformed classifier output", "error", err, "raw", raw)
		return nil, err
	}
	if err := Validate(input, res); err != nil {
		c.logger.Warn("Classifier output violates contract", "error", err, "intent", res.Intent)
		return nil, err
	}

	c.logger.Debug("Classified request", "intent", res.Intent, "task_id", res.Fields.TaskID)
	return res, nil
}

// Package llm talks to a chat-completion model server. The default target is
// Ollama's OpenAI-compatible API.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message roles.
const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer returns the assistant text for a chat.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, msgs []Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, msgs []Message) (string, error) {
	return f(ctx, msgs)
}

// Config selects the model server and sampling parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	// JSONMode asks the server for a JSON object response.
	JSONMode bool
	// Timeout bounds a single HTTP request. Zero means 120s.
	Timeout time.Duration
}

// Client is a Completer backed by go-openai.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	jsonMode    bool
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for cfg. BaseURL may be given with or without
// the /v1 suffix.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Ollama ignores the key but the client sends the header regardless.
		apiKey = "ollama"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = APIBaseURL(cfg.BaseURL)
	oc.HTTPClient = &http.Client{Timeout: timeout}

	c := &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		jsonMode:    cfg.JSONMode,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "llm")
	return c
}

// APIBaseURL normalizes a server URL to the OpenAI-compatible API root.
func APIBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat-completion request. A model set on ctx via
// ContextWithModel overrides the configured one.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", NewFatalError(fmt.Errorf("at least one message is required"))
	}

	model := c.model
	if m, ok := ModelFromContext(ctx); ok {
		model = m
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	c.logger.Debug("Sending LLM request", "model", model, "messages", len(msgs))

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("LLM request failed", "model", model, "duration", time.Since(start), "error", err)
		return "", classifyError(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", NewFatalError(ErrEmptyResponse)
	}

	c.logger.Debug("LLM request completed",
		"model", resp.Model,
		"duration", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens)

	return resp.Choices[0].Message.Content, nil
}

// Ping lists the models the server offers. Used for health checks.
func (c *Client) Ping(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list models: %w", err))
	}
	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

type modelKey struct{}

// ContextWithModel returns a context that makes Client.Complete use model
// instead of its configured default.
func ContextWithModel(ctx context.Context, model string) context.Context {
	if model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKey{}, model)
}

// ModelFromContext returns the per-request model override, if any.
func ModelFromContext(ctx context.Context) (string, bool) {
	m, ok := ctx.Value(modelKey{}).(string)
	return m, ok && m != ""
}

package llm

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model answers without any content.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// CallError is a failed LLM call tagged with whether another attempt may
// succeed. Retrying wrappers only repeat calls whose error is Retryable.
type CallError struct {
	Err       error
	Retryable bool
	// Status is the HTTP status the endpoint answered with, 0 when no
	// response arrived.
	Status int
}

func (e *CallError) Error() string { return e.Err.Error() }

func (e *CallError) Unwrap() error { return e.Err }

// NewTransientError marks err as worth retrying.
func NewTransientError(err error) error {
	return &CallError{Err: err, Retryable: true}
}

// NewFatalError marks err as final.
func NewFatalError(err error) error {
	return &CallError{Err: err}
}

// IsTransient reports whether err carries a retryable CallError.
func IsTransient(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Retryable
}

// IsFatal reports whether err carries a CallError that must not be retried.
func IsFatal(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && !ce.Retryable
}

// StatusCode returns the HTTP status recorded on err, or 0.
func StatusCode(err error) int {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}

// classifyError tags an error from the OpenAI client. A cancelled context is
// final, a deadline is retryable, and anything else is judged by the HTTP
// status the endpoint returned.
func classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return NewFatalError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransientError(err)
	}

	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		status int
	)
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	} else if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}
	return &CallError{Err: err, Retryable: retryableStatus(status), Status: status}
}

// retryableStatus treats a missing response (refused, DNS, reset), rate
// limiting and server errors as temporary.
func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

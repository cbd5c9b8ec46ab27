package classifier

import "fmt"

// ErrorKind distinguishes why classification produced no usable decision.
type ErrorKind string

const (
	// Unavailable means the model could not be reached or did not answer in time.
	Unavailable ErrorKind = "unavailable"
	// Malformed means the model answered but no valid decision could be decoded.
	Malformed ErrorKind = "malformed"
)

// Error is the only error type returned by Classify.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classification %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func unavailable(err error) *Error {
	return &Error{Kind: Unavailable, Err: err}
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: Malformed, Err: fmt.Errorf(format, args...)}
}

package invoker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by remote-call adapters.
var (
	// ErrThrottled marks a quota or rate-limit rejection.
	ErrThrottled = errors.New("throttled")

	// ErrEmptyResponse is returned when a remote call succeeds without a payload.
	ErrEmptyResponse = errors.New("empty response")
)

// ErrorClass is the outcome of classifying a failed remote call.
type ErrorClass string

const (
	// ClassThrottled represents quota or rate-limit signals. Retried with linear backoff.
	ClassThrottled ErrorClass = "throttled"

	// ClassFatal represents every other failure. Never retried.
	ClassFatal ErrorClass = "fatal"
)

// CallError is a classified remote-call failure. Adapters translate their
// client library's typed errors into a CallError so the invoker can branch on
// Class instead of inspecting messages.
type CallError struct {
	Class   ErrorClass
	Code    int
	Status  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d %s): %s: %v",
			e.Class, e.Code, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d %s): %s",
		e.Class, e.Code, e.Status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Is reports throttled CallErrors as ErrThrottled.
func (e *CallError) Is(target error) bool {
	return target == ErrThrottled && e.Class == ClassThrottled
}

// Throttled wraps err as a throttling failure.
func Throttled(err error) error {
	return &CallError{Class: ClassThrottled, Message: "rate limited", Err: err}
}

// Fatal wraps err as a non-retryable failure.
func Fatal(err error) error {
	return &CallError{Class: ClassFatal, Message: "call failed", Err: err}
}

// Classify determines how the invoker treats err.
//
// A *CallError anywhere in the chain decides. Context cancellation and
// deadline errors are fatal. Other errors fall back to the message
// heuristic: text containing "429" or "RESOURCE_EXHAUSTED" is throttled.
func Classify(err error) ErrorClass {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}
	if errors.Is(err, ErrThrottled) {
		return ClassThrottled
	}

	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return ClassThrottled
	}
	return ClassFatal
}

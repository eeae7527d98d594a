// Package ctlerrors provides the structured error taxonomy shared by every
// component of the cost-admission and adaptive-routing control plane.
package ctlerrors

import "fmt"

// ErrorCode identifies the class of failure a *Error carries.
type ErrorCode string

const (
	// ErrPolicyLoad indicates a PolicySource failed to load budgets,
	// routing policies, or pricing.
	ErrPolicyLoad ErrorCode = "POLICY_LOAD_ERROR"
	// ErrBudgetExceeded indicates a budget's hard limit or run/concurrency
	// cap was exceeded.
	ErrBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// ErrConstraintViolation indicates a per-run constraint (iterations,
	// tool calls, tokens) was violated.
	ErrConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	// ErrStoreUnavailable indicates the durable BudgetStore timed out or
	// exhausted its optimistic-concurrency retries.
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrUnknownRun indicates a hook was called with a run_id that has no
	// registered RunState.
	ErrUnknownRun ErrorCode = "UNKNOWN_RUN"
	// ErrMetricsEmission indicates the metrics emitter failed; callers
	// must swallow this and never let it affect a decision.
	ErrMetricsEmission ErrorCode = "METRICS_EMISSION_ERROR"
)

// Error is a structured error carrying a stable code and an optional cause.
// Decisions returned by the lifecycle engine are values, not exceptions
// (spec §7); Error is reserved for programmer errors raised at policy-load
// time and for wrapping failures surfaced through FailureMode handling.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error retryable and returns the receiver.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Code extracts the ErrorCode from err, or "" if err is not an *Error.
func Code(err error) ErrorCode {
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Retryable
	}
	return false
}

// as walks err's single-cause Unwrap() error chain and reports the first
// *Error it finds. Errors joined through Unwrap() []error are not searched.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

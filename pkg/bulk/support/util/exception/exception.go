// Package exception provides custom error types and error handling utilities for the Marlin engine.
// It standardizes errors that occur during bulk processing, allowing them to be categorized
// for retry decisions and surfaced to callers with distinguishable reasons.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors forming the caller-visible error taxonomy.
// Synchronous submission errors create no durable state; asynchronous errors are
// recorded on the execution/batch rows instead of being returned to a caller.
var (
	// ErrSpecInvalid indicates a malformed filter or unknown action, rejected before any state is created.
	ErrSpecInvalid = errors.New("bulk spec invalid")
	// ErrUnauthorized indicates the policy decision denied the submission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates the submission gate denied admission.
	ErrRateLimited = errors.New("rate limited")
	// ErrUndoUnavailable indicates undo cannot run; inspect UndoReason for the cause.
	ErrUndoUnavailable = errors.New("undo unavailable")
	// ErrSchedulingConflict indicates a cancel or reschedule was attempted in an incompatible state.
	ErrSchedulingConflict = errors.New("scheduling conflict")
)

// UndoReason distinguishes why an undo request was refused.
type UndoReason string

const (
	UndoReasonExpired      UndoReason = "expired"
	UndoReasonDisabled     UndoReason = "never-enabled"
	UndoReasonAlreadyDone  UndoReason = "already-undone"
	UndoReasonNotTerminal  UndoReason = "not-terminal"
	UndoReasonNotCompleted UndoReason = "not-completed"
	UndoReasonNoSnapshots  UndoReason = "no-snapshots"
)

// UndoUnavailableError wraps ErrUndoUnavailable with a machine-readable reason.
type UndoUnavailableError struct {
	Reason UndoReason
}

// NewUndoUnavailable creates an UndoUnavailableError for the given reason.
func NewUndoUnavailable(reason UndoReason) *UndoUnavailableError {
	return &UndoUnavailableError{Reason: reason}
}

// Error implements the error interface.
func (e *UndoUnavailableError) Error() string {
	return fmt.Sprintf("undo unavailable: %s", e.Reason)
}

// Unwrap allows errors.Is(err, ErrUndoUnavailable) to match.
func (e *UndoUnavailableError) Unwrap() error {
	return ErrUndoUnavailable
}

// RateLimitedError wraps ErrRateLimited and optionally carries a retry-after hint in seconds.
type RateLimitedError struct {
	RetryAfterSeconds int
	Detail            string
}

// NewRateLimited creates a RateLimitedError with the given retry-after hint and detail.
func NewRateLimited(retryAfterSeconds int, detail string) *RateLimitedError {
	return &RateLimitedError{RetryAfterSeconds: retryAfterSeconds, Detail: detail}
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %ds)", e.Detail, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("rate limited: %s", e.Detail)
}

// Unwrap allows errors.Is(err, ErrRateLimited) to match.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// BulkError is a custom error type for failures inside the execution engine.
// It holds the module where the error occurred, a message, the wrapped original error,
// and flags indicating whether it is retryable (transient) or skippable (isolatable
// to a single record without aborting the batch).
type BulkError struct {
	// Module indicates the subsystem where the error occurred (e.g., "resolver", "worker", "undo").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is transient and worth retrying.
	isRetryable bool
	// isSkippable indicates whether this error can be isolated to one record.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBulkError creates a new BulkError instance.
// module: The subsystem where the error occurred.
// message: The error message.
// originalErr: The original error to wrap (may be nil).
// isSkippable: Whether this error can be isolated to one record.
// isRetryable: Whether this error is transient.
func NewBulkError(module, message string, originalErr error, isSkippable, isRetryable bool) *BulkError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BulkError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// NewBulkErrorf creates a new BulkError with a formatted message.
// The resulting error is neither retryable nor skippable; use NewBulkError when flags matter.
func NewBulkErrorf(module, format string, a ...interface{}) *BulkError {
	return NewBulkError(module, fmt.Sprintf(format, a...), nil, false, false)
}

// Error implements the error interface.
func (e *BulkError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BulkError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is transient.
func (e *BulkError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error can be isolated to a single record.
func (e *BulkError) IsSkippable() bool {
	return e.isSkippable
}

// IsTemporary determines if an error is transient (lock contention, timeout,
// broken connection). Batch-level retry logic consults this before re-enqueueing.
// A BulkError's IsRetryable flag takes precedence over message inspection.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BulkError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "lock") ||
		strings.Contains(errStr, "try again")
}

// ExtractErrorMessage returns a human-readable message for persistence on
// execution/batch rows, unwrapping BulkError decoration when present.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BulkError
	if errors.As(err, &be) {
		return be.Error()
	}
	return err.Error()
}

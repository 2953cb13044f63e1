package async

import (
	"context"
	"strings"

	"github.com/teranos/dblpix/db"
	"github.com/teranos/dblpix/errors"
)

// ErrorCode represents the classification of a commit error
type ErrorCode string

const (
	ErrorCodeConstraint ErrorCode = "constraint_violation"
	ErrorCodeBusy       ErrorCode = "busy"
	ErrorCodeConnection ErrorCode = "connection_error"
	ErrorCodeTimeout    ErrorCode = "timeout"
	ErrorCodeCanceled   ErrorCode = "canceled"
	ErrorCodeUnknown    ErrorCode = "unknown"
)

// ErrorContext provides structured information for a failed batch.
// Batches are never retried within a run; Retryable tells the operator
// whether a re-run of the same input is likely to succeed.
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool
}

// ClassifyError categorizes a commit error by driver type first, then by message
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Stage: stage, Message: err.Error()}
	errLower := strings.ToLower(ec.Message)

	switch {
	case db.IsConstraintViolation(err):
		ec.Code = ErrorCodeConstraint
	case db.IsBusy(err):
		ec.Code = ErrorCodeBusy
		ec.Retryable = true
	case errors.Is(err, context.Canceled):
		ec.Code = ErrorCodeCanceled
		ec.Retryable = true
	case errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(errLower, "deadline exceeded") || strings.Contains(errLower, "timed out"):
		ec.Code = ErrorCodeTimeout
		ec.Retryable = true
	case db.IsDatabaseClosed(err) ||
		strings.Contains(errLower, "connection") || strings.Contains(errLower, "broken pipe"):
		ec.Code = ErrorCodeConnection
		ec.Retryable = true
	case strings.Contains(errLower, "constraint"):
		ec.Code = ErrorCodeConstraint
	default:
		ec.Code = ErrorCodeUnknown
	}

	return ec
}

package errors

import "fmt"

type ValidationReason string

const (
	// ReasonRequired marks the semantic error of missing mandatory input.
	ReasonRequired     ValidationReason = "required"
	ReasonUnknownKey   ValidationReason = "unknown_key"
	ReasonInvalidValue ValidationReason = "invalid_value"
	ReasonUnknownField ValidationReason = "unknown_field"
)

// ValidationError rejects caller input before anything is persisted.
type ValidationError struct {
	Key     string
	Reason  ValidationReason
	Message string
	Cause   error
}

func NewValidationError(key string, reason ValidationReason, message string) *ValidationError {
	return &ValidationError{Key: key, Reason: reason, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ExecutionError wraps a failure of the bulk copy. It never reaches callers;
// the executor records it as the Failed status.
type ExecutionError struct {
	ExportID int64
	Stage    string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("export %d failed at %s: %v", e.ExportID, e.Stage, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// NotificationError is a failed callback delivery.
type NotificationError struct {
	URL        string
	ExportID   int64
	StatusCode int
	Cause      error
}

func (e *NotificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("callback %s for export %d: %v", e.URL, e.ExportID, e.Cause)
	}
	return fmt.Sprintf("callback %s for export %d: unexpected status %d", e.URL, e.ExportID, e.StatusCode)
}

func (e *NotificationError) Unwrap() error { return e.Cause }

package job

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJobType is returned by Enqueue when no handler is
	// registered for the requested type.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidTransition is returned for state changes the lifecycle
	// does not allow, e.g. cancelling a completed job.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("job not found")
)

// HandlerError is the typed failure contract between handlers and the
// dispatcher. Retryable failures go back through the retry scheduler;
// permanent ones fail the job immediately.
type HandlerError struct {
	Retryable bool
	Message   string
}

func (e *HandlerError) Error() string {
	if e.Retryable {
		return "retryable: " + e.Message
	}
	return "permanent: " + e.Message
}

// Retryable wraps a transient failure.
func Retryable(format string, args ...any) *HandlerError {
	return &HandlerError{Retryable: true, Message: fmt.Sprintf(format, args...)}
}

// Permanent wraps a failure that no amount of retrying will fix.
func Permanent(format string, args ...any) *HandlerError {
	return &HandlerError{Retryable: false, Message: fmt.Sprintf(format, args...)}
}

// AsHandlerError normalizes any handler return into a HandlerError.
// Unclassified errors are treated as retryable.
func AsHandlerError(err error) *HandlerError {
	var he *HandlerError
	if errors.As(err, &he) {
		return he
	}
	return &HandlerError{Retryable: true, Message: err.Error()}
}

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a request or task finds an
	// application in a status that does not allow the operation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrProfileRequired is returned when the user has no base resume yet.
	ErrProfileRequired = errors.New("profile with base resume required")
	// ErrSubmissionUnavailable is returned for apply requests when no
	// submitter is configured.
	ErrSubmissionUnavailable = errors.New("application submission is not configured")
	// ErrInvalidRequest is returned for malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

// StageError describes a failed stage attempt.
type StageError struct {
	Stage   string
	Attempt int
	Cause   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s attempt %d failed: %v", e.Stage, e.Attempt, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// permanentError marks a stage failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The application fails on the
// first such error regardless of its retry ceiling.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

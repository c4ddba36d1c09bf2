package models

import (
	"errors"
	"fmt"
)

// Pipeline errors. Transient classes are resolved through bus redelivery and
// never surface past a worker boundary.
var (
	// ErrTransientIO wraps record store, staging store and bus failures.
	ErrTransientIO = errors.New("transient io error")

	// ErrExtractionRetryable marks an engine failure worth retrying.
	ErrExtractionRetryable = errors.New("extraction retryable")

	// ErrExtractionPermanent marks input the engine will never accept.
	ErrExtractionPermanent = errors.New("extraction permanent")

	// ErrStateConflict is returned when a conditional upsert loses a race.
	ErrStateConflict = errors.New("state conflict")

	// ErrDeadlineExceeded marks an invocation that ran past its deadline.
	ErrDeadlineExceeded = errors.New("processing deadline exceeded")

	// ErrRecordNotFound is returned when no record exists for a key.
	ErrRecordNotFound = errors.New("metadata record not found")

	// ErrLeaseHeld is returned when another worker holds the extraction lease.
	ErrLeaseHeld = errors.New("extraction lease held by another worker")

	// ErrInvalidEvent marks a bus message that cannot be decoded into an event.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrSourceMissing is returned when the source object generation no longer exists.
	ErrSourceMissing = errors.New("source object generation does not exist")
)

// LastErrorAttemptsExhausted is recorded when the retry ceiling is reached.
const LastErrorAttemptsExhausted = "attempts_exhausted"

// ErrorKind classifies an extraction failure.
type ErrorKind int

const (
	KindRetryable ErrorKind = iota
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "retryable"
}

// ExtractionError is returned by the extraction adapter. Attempts counts the
// engine calls made before giving up.
type ExtractionError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("%s extraction error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s extraction error after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrExtractionRetryable:
		return e.Kind == KindRetryable
	case ErrExtractionPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Retryable wraps err as a retryable engine failure.
func Retryable(err error) error {
	return &ExtractionError{Kind: KindRetryable, Err: err}
}

// Permanent wraps err as a permanent engine failure.
func Permanent(err error) error {
	return &ExtractionError{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err is a permanent extraction failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrExtractionPermanent)
}

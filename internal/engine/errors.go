package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity is matched by every *IntegrityError.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrPrecondition is matched by every *PreconditionError.
	ErrPrecondition = errors.New("precondition not met")
)

// IntegrityError reports bytes whose size or digest is not what the task
// promised. The task must not be retried in the same run.
type IntegrityError struct {
	Path  string
	Check string // "size" or "digest"
	Want  string
	Got   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: want %s, got %s", e.Path, e.Check, e.Want, e.Got)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

func sizeMismatch(path string, want, got int64) *IntegrityError {
	return &IntegrityError{Path: path, Check: "size", Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
}

func digestMismatch(path, want, got string) *IntegrityError {
	return &IntegrityError{Path: path, Check: "digest", Want: want, Got: got}
}

// PreconditionError reports a destination or cache state the task cannot
// start from. Nothing was written.
type PreconditionError struct {
	Path   string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The pool gives up on the item
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked
// permanent. Integrity and precondition failures are always permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrIntegrity) || errors.Is(err, ErrPrecondition)
}

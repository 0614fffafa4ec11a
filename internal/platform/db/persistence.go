package db

import (
	"context"
	"errors"
	"fmt"
)

// PersistenceError marks a storage-layer failure, distinct from domain
// validation and lifecycle errors. Callers can rely on errors.As to branch on
// it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err as a PersistenceError for operation op.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// WithRetry runs fn, retrying exactly once if it fails with a
// PersistenceError. Domain errors pass through untouched on the first
// attempt.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !IsPersistenceError(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	return fn(ctx)
}

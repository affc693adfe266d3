package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an audio record does not exist.
	ErrNotFound = errors.New("audio record not found")
	// ErrConflict is returned when a run for the same record is already in flight.
	ErrConflict = errors.New("pipeline run already in progress")
)

// ErrorKind classifies stage failures.
type ErrorKind string

// Stage error kinds
const (
	KindDecode  ErrorKind = "decode"
	KindModel   ErrorKind = "model"
	KindTimeout ErrorKind = "timeout"
)

// StageError is a failure raised by an analysis stage.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *StageError) Retryable() bool {
	return e.Kind == KindModel || e.Kind == KindTimeout
}

// NewDecodeError marks audio that cannot be read. Never retried.
func NewDecodeError(err error) error { return &StageError{Kind: KindDecode, Err: err} }

// NewModelError marks an inference backend failure.
func NewModelError(err error) error { return &StageError{Kind: KindModel, Err: err} }

// NewTimeoutError marks a stage that ran past its budget.
func NewTimeoutError(err error) error { return &StageError{Kind: KindTimeout, Err: err} }

// AsStageError converts any stage failure into a *StageError.
// Deadline expiry becomes a timeout; anything unclassified is a model error.
func AsStageError(err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Kind: KindTimeout, Err: err}
	}
	return &StageError{Kind: KindModel, Err: err}
}

package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by zone reads that miss. It is propagated to the
// caller, never silently defaulted.
var ErrNotFound = errors.New("object not found")

// ErrRunInProgress rejects a duplicate trigger for a logical date that
// already has an active run.
var ErrRunInProgress = errors.New("run already in progress for logical date")

// UnsupportedSourceError marks a raw batch tagged with an unknown source.
// This is a configuration error and fatal to the run.
type UnsupportedSourceError struct {
	Source string
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unsupported source: %q", e.Source)
}

// NormalizationError is a per-record failure while mapping a raw row into the
// canonical schema. It is recovered by quarantining, never fatal to the batch.
type NormalizationError struct {
	Source Source
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalize %s: field %q: %s", e.Source, e.Field, e.Reason)
	}
	return fmt.Sprintf("normalize %s: %s", e.Source, e.Reason)
}

// ValidationError is a per-record failure in the cleaner; recovered by
// quarantining like NormalizationError.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validate: field %q: %s", e.Field, e.Reason)
	}
	return "validate: " + e.Reason
}

// StageFailure wraps the underlying cause of a failed stage attempt.
type StageFailure struct {
	Stage    StageName
	Attempts int
	Err      error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

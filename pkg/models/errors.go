package models

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match them with errors.Is; producers wrap
// them with context via fmt.Errorf.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownAgentType  = errors.New("unknown agent type")
	ErrStageFailure      = errors.New("pipeline stage failed")
	ErrHierarchyCycle    = errors.New("hierarchy cycle")
	ErrStoreClosed       = errors.New("store closed")
)

// StageError records which ECRR stage failed and why
type StageError struct {
	Stage PipelineState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes both the cause and ErrStageFailure
func (e *StageError) Unwrap() []error {
	return []error{ErrStageFailure, e.Err}
}

// Validationf builds an ErrValidation with a formatted reason
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound with a formatted reason
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

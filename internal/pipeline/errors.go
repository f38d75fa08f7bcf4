package pipeline

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the context ends between stages.
var ErrCancelled = errors.New("pipeline cancelled")

// StageError carries the stage that failed out of Run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage extracts the stage from a Run error.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage an error originated from.
type Stage string

const (
	StageConfig    Stage = "config"
	StageProvision Stage = "provision"
	StageServices  Stage = "services"
	StageInstall   Stage = "install"
	StageRun       Stage = "run"
)

// ErrEnvVarCollision indicates two sources assembled the same environment
// variable name for the test process.
var ErrEnvVarCollision = errors.New("environment variable collision")

// StageError wraps a fatal setup failure with the stage it occurred in.
// Setup failures halt the pipeline without attempting the test run and are
// never retried within a single invocation.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage an error originated from, or "" if it is not a
// stage error.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Package store contains the run-history persistence layer.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Run is one persisted job run: the durable record of a completed pipeline
// invocation.
type Run struct {
	ID         uuid.UUID
	VersionTag string
	ExitCode   int
	TimedOut   bool
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
}

// Outcome is the recorded verdict of a run.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTestFailure Outcome = "test_failure"
	OutcomeAborted     Outcome = "aborted"
)

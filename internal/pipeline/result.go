package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// AbortExitCode is the reserved exit code reported when the test run hits
// the wall-clock ceiling. 124 is the conventional timeout code and sits
// outside the exit-code range test frameworks use.
const AbortExitCode = 124

// JobResult is the complete, immutable outcome record of one pipeline run.
type JobResult struct {
	RunID      uuid.UUID
	VersionTag string

	ExitCode int
	TimedOut bool

	// Logs is the captured combined stdout/stderr of the test command.
	Logs []byte
	// Coverage is the extracted coverage artifact, nil if none was produced.
	Coverage []byte

	StartedAt  time.Time
	FinishedAt time.Time
}

// Passed reports whether the test run succeeded.
func (r *JobResult) Passed() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

package reporter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"testpipe/internal/logger"
	"testpipe/internal/pipeline"
)

func sampleResult() *pipeline.JobResult {
	now := time.Now()
	return &pipeline.JobResult{
		RunID:      uuid.New(),
		VersionTag: "3.11",
		ExitCode:   0,
		Logs:       []byte("12 passed\n"),
		Coverage:   []byte("cov-data\n"),
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}
}

func TestReport_Success(t *testing.T) {
	r := New(logger.New(), t.TempDir())

	status := r.Report(context.Background(), sampleResult())

	if status.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", status.Outcome)
	}
	if status.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", status.ExitCode)
	}
	if status.Reason != "" {
		t.Errorf("Reason = %q, want empty on success", status.Reason)
	}
}

func TestReport_TestFailure(t *testing.T) {
	r := New(logger.New(), t.TempDir())
	result := sampleResult()
	result.ExitCode = 1

	status := r.Report(context.Background(), result)

	if status.Outcome != OutcomeFailure {
		t.Errorf("Outcome = %q, want failure", status.Outcome)
	}
	if status.Reason != ReasonTestFailure {
		t.Errorf("Reason = %q, want test_failure", status.Reason)
	}
	if status.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", status.ExitCode)
	}
}

func TestReport_Aborted(t *testing.T) {
	r := New(logger.New(), t.TempDir())
	result := sampleResult()
	result.ExitCode = pipeline.AbortExitCode
	result.TimedOut = true

	status := r.Report(context.Background(), result)

	if status.Reason != ReasonAborted {
		t.Errorf("Reason = %q, want aborted", status.Reason)
	}
	if status.ExitCode != pipeline.AbortExitCode {
		t.Errorf("ExitCode = %d, want %d", status.ExitCode, pipeline.AbortExitCode)
	}
}

func TestReport_WritesArtifactsOnEveryOutcome(t *testing.T) {
	for _, tc := range []struct {
		name     string
		exitCode int
		timedOut bool
	}{
		{"success", 0, false},
		{"failure", 1, false},
		{"aborted", pipeline.AbortExitCode, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			r := New(logger.New(), dir)
			result := sampleResult()
			result.ExitCode = tc.exitCode
			result.TimedOut = tc.timedOut

			r.Report(context.Background(), result)

			logPath := filepath.Join(dir, result.RunID.String(), "test.log")
			data, err := os.ReadFile(logPath)
			if err != nil {
				t.Fatalf("log artifact not written: %v", err)
			}
			if !strings.Contains(string(data), "12 passed") {
				t.Errorf("log artifact contents = %q", data)
			}

			covPath := filepath.Join(dir, result.RunID.String(), "coverage.out")
			if _, err := os.Stat(covPath); err != nil {
				t.Errorf("coverage artifact not written: %v", err)
			}
		})
	}
}

func TestReport_MissingCoverageSkipsArtifact(t *testing.T) {
	dir := t.TempDir()
	r := New(logger.New(), dir)
	result := sampleResult()
	result.Coverage = nil

	r.Report(context.Background(), result)

	covPath := filepath.Join(dir, result.RunID.String(), "coverage.out")
	if _, err := os.Stat(covPath); !os.IsNotExist(err) {
		t.Errorf("coverage.out exists without coverage data")
	}
}

func TestReport_NoOutputDir(t *testing.T) {
	r := New(logger.New(), "")

	// Must not fail and must not write anywhere
	status := r.Report(context.Background(), sampleResult())
	if status.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", status.Outcome)
	}
}

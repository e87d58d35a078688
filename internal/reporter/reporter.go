// Package reporter turns a completed job result into a verdict, a process
// exit code, and artifacts on disk.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"testpipe/internal/pipeline"
)

// Outcome is the final verdict of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Reason explains a failure verdict.
type Reason string

const (
	ReasonTestFailure Reason = "test_failure"
	ReasonAborted     Reason = "aborted"
)

// Status is the reported verdict for a completed run.
type Status struct {
	Outcome  Outcome
	Reason   Reason
	ExitCode int
}

// Reporter writes run artifacts and derives the final status.
type Reporter struct {
	logger    *slog.Logger
	outputDir string
}

// New returns a reporter writing artifacts under outputDir. An empty
// outputDir disables artifact persistence.
func New(logger *slog.Logger, outputDir string) *Reporter {
	return &Reporter{logger: logger, outputDir: outputDir}
}

// Report derives the verdict from a completed run and persists its logs and
// coverage artifact. Artifacts are written on every outcome; a persistence
// failure is logged but never changes the verdict.
func (r *Reporter) Report(ctx context.Context, result *pipeline.JobResult) Status {
	status := statusOf(result)

	log := r.logger.With(
		"run_id", result.RunID.String(),
		"version_tag", result.VersionTag,
	)

	if err := r.writeArtifacts(result); err != nil {
		log.Error("Failed to persist run artifacts", "error", err)
	}

	switch status.Outcome {
	case OutcomeSuccess:
		log.Info("Run passed",
			"exit_code", result.ExitCode,
			"duration", result.FinishedAt.Sub(result.StartedAt))
	default:
		log.Error("Run failed",
			"reason", string(status.Reason),
			"exit_code", result.ExitCode,
			"duration", result.FinishedAt.Sub(result.StartedAt))
	}

	return status
}

func statusOf(result *pipeline.JobResult) Status {
	switch {
	case result.TimedOut:
		return Status{Outcome: OutcomeFailure, Reason: ReasonAborted, ExitCode: pipeline.AbortExitCode}
	case result.ExitCode != 0:
		return Status{Outcome: OutcomeFailure, Reason: ReasonTestFailure, ExitCode: 1}
	default:
		return Status{Outcome: OutcomeSuccess, ExitCode: 0}
	}
}

func (r *Reporter) writeArtifacts(result *pipeline.JobResult) error {
	if r.outputDir == "" {
		return nil
	}

	dir := filepath.Join(r.outputDir, result.RunID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "test.log"), result.Logs, 0o644); err != nil {
		return fmt.Errorf("failed to write log artifact: %w", err)
	}

	if result.Coverage != nil {
		if err := os.WriteFile(filepath.Join(dir, "coverage.out"), result.Coverage, 0o644); err != nil {
			return fmt.Errorf("failed to write coverage artifact: %w", err)
		}
	}

	r.logger.Info("Artifacts written", "dir", dir)
	return nil
}

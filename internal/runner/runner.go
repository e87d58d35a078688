// Package runner executes the test command inside a provisioned environment
// under a hard wall-clock ceiling, capturing logs and the coverage artifact.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"testpipe/internal/environment"
	"testpipe/internal/pipeline"
)

// DefaultTimeout is the wall-clock ceiling applied when none is configured.
const DefaultTimeout = 15 * time.Minute

// Config holds runner configuration.
type Config struct {
	// CoveragePath is the in-environment path of the coverage artifact to
	// extract after the run; empty disables extraction.
	CoveragePath string
}

// Runner is the only pipeline stage permitted to consume wall-clock time
// beyond fixed setup costs.
type Runner struct {
	logger *slog.Logger
	config Config
}

// New creates a bounded test runner.
func New(logger *slog.Logger, cfg Config) *Runner {
	return &Runner{logger: logger, config: cfg}
}

// Run executes the test command with the fully-assembled variable set and
// enforces timeout as a hard ceiling: on expiry the test process is
// forcibly terminated and the result carries the reserved abort exit code,
// never the raw in-progress code.
func (r *Runner) Run(ctx context.Context, env environment.Environment, command []string, envVars map[string]string, timeout time.Duration) (*pipeline.JobResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result := &pipeline.JobResult{StartedAt: time.Now()}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := env.Exec(runCtx, environment.ExecOptions{
		Command: command,
		Env:     envVars,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test command: %w", err)
	}

	var logs bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.captureLogs(runCtx, handle, &logs)
	}()

	exit, waitErr := handle.Wait(runCtx)

	// Terminate on any interruption (ceiling or caller cancellation) before
	// collecting the log goroutine: its stream only closes once the test
	// process is gone.
	interrupted := waitErr != nil && runCtx.Err() != nil
	timedOut := interrupted && errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if interrupted {
		if timedOut {
			r.logger.Warn("Test run hit the wall-clock ceiling, terminating",
				"timeout", timeout)
		} else {
			r.logger.Warn("Test run cancelled, terminating")
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = handle.Stop(stopCtx)
	}
	wg.Wait()

	result.FinishedAt = time.Now()
	result.Logs = logs.Bytes()

	if waitErr != nil {
		if timedOut {
			result.TimedOut = true
			result.ExitCode = pipeline.AbortExitCode
			r.extractCoverage(env, result)
			return result, nil
		}
		return nil, fmt.Errorf("test command wait: %w", waitErr)
	}

	result.ExitCode = exit.ExitCode
	r.extractCoverage(env, result)
	return result, nil
}

// captureLogs buffers the step's combined output line by line, emitting
// sampled progress entries so chatty suites do not flood the job log.
func (r *Runner) captureLogs(ctx context.Context, handle environment.Handle, buf *bytes.Buffer) {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		r.logger.Error("Failed to open test log stream", "error", err)
		return
	}
	defer rc.Close()

	progress := rate.NewLimiter(rate.Every(10*time.Second), 1)

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		buf.Write(scanner.Bytes())
		buf.WriteByte('\n')
		lines++
		if progress.Allow() {
			r.logger.Info("Test run in progress", "lines", lines)
		}
	}
}

// extractCoverage pulls the coverage artifact out of the environment.
// Absence is tolerated: observability of the artifact must not gate the
// result, and an aborted run may not have flushed one.
func (r *Runner) extractCoverage(env environment.Environment, result *pipeline.JobResult) {
	if r.config.CoveragePath == "" {
		return
	}

	readCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	data, err := env.ReadFile(readCtx, r.config.CoveragePath)
	if err != nil {
		r.logger.Warn("No coverage artifact extracted",
			"path", r.config.CoveragePath, "error", err)
		return
	}
	result.Coverage = data
}

// Package environment provides versioned, isolated execution environments
// for pipeline steps. Backends include Docker, Kubernetes, and raw processes.
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidVersionTag indicates the requested version tag is empty or cannot
// be composed into a valid image reference.
var ErrInvalidVersionTag = errors.New("invalid version tag")

// ErrUnavailable indicates the resolved environment could not be pulled or started.
var ErrUnavailable = errors.New("environment unavailable")

// Provisioner resolves a version tag to a running execution environment.
type Provisioner interface {
	// Provision allocates the environment all later pipeline steps run inside.
	// The returned environment must be torn down exactly once.
	Provision(ctx context.Context, versionTag string) (Environment, error)
}

// Environment is an isolated sandbox in which individual steps execute.
type Environment interface {
	// Ref returns the concrete reference this environment was resolved to
	// (e.g. "python:3.11").
	Ref() string

	// Exec starts a single step inside the environment and returns a handle.
	Exec(ctx context.Context, opts ExecOptions) (Handle, error)

	// ReadFile reads a file produced inside the environment, for artifact
	// extraction after a run.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Teardown releases the environment. Safe to call on every exit path.
	Teardown(ctx context.Context) error
}

// ExecOptions contains the parameters for running a step.
type ExecOptions struct {
	Command []string
	Env     map[string]string
	WorkDir string
}

// Handle represents a running step.
type Handle interface {
	// Wait blocks until the step completes and returns its exit result.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the step.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader for the step's combined stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}

// ExitResult holds the outcome of a completed step.
type ExitResult struct {
	ExitCode int
	Error    error
}

// ValidateVersionTag checks that a tag can be composed into an image reference.
func ValidateVersionTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: tag is empty", ErrInvalidVersionTag)
	}
	if len(tag) > 128 {
		return fmt.Errorf("%w: tag exceeds 128 characters", ErrInvalidVersionTag)
	}
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: tag contains %q", ErrInvalidVersionTag, r)
		}
	}
	return nil
}

// ImageRef deterministically composes an image reference from a repository
// and a version tag.
func ImageRef(repository, tag string) string {
	return repository + ":" + tag
}

func envList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

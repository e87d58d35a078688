// Package installer installs the package under test together with its
// test-only dependency groups into a provisioned environment.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"testpipe/internal/environment"
)

// ErrResolutionFailed indicates unsatisfiable dependency constraints.
var ErrResolutionFailed = errors.New("dependency resolution failed")

// ErrNetworkFailure indicates the package registry was unreachable.
var ErrNetworkFailure = errors.New("package registry unreachable")

// Spec describes what to install. Command templates are configuration
// values; the defaults mirror a pip-based project.
type Spec struct {
	// PackageDir is the in-environment path of the checkout (default ".")
	PackageDir string
	// Extras are the extra dependency groups to install alongside the
	// package (default ["tests"])
	Extras []string
	// UpgradeCommand upgrades the package manager first; empty skips it
	UpgradeCommand []string
	// InstallCommand installs the package; the extras target is appended
	InstallCommand []string
}

// WithDefaults fills unset fields with the pip-shaped defaults.
func (s Spec) WithDefaults() Spec {
	if s.PackageDir == "" {
		s.PackageDir = "."
	}
	if s.Extras == nil {
		s.Extras = []string{"tests"}
	}
	if s.UpgradeCommand == nil {
		s.UpgradeCommand = []string{"pip", "install", "--upgrade", "pip"}
	}
	if s.InstallCommand == nil {
		s.InstallCommand = []string{"pip", "install", "-e"}
	}
	return s
}

// Target renders the install target, e.g. ".[tests]".
func (s Spec) Target() string {
	if len(s.Extras) == 0 {
		return s.PackageDir
	}
	return fmt.Sprintf("%s[%s]", s.PackageDir, strings.Join(s.Extras, ","))
}

// Installer runs package-manager steps inside an environment.
type Installer struct {
	logger *slog.Logger
}

// New creates an installer.
func New(logger *slog.Logger) *Installer {
	return &Installer{logger: logger}
}

// Install upgrades the package manager, then installs the package under
// test with its extras. Idempotent within a run; a failure here is fatal to
// the job and no test run is attempted.
func (i *Installer) Install(ctx context.Context, env environment.Environment, spec Spec) error {
	spec = spec.WithDefaults()

	if len(spec.UpgradeCommand) > 0 {
		if err := i.runStep(ctx, env, spec.UpgradeCommand); err != nil {
			return fmt.Errorf("package manager upgrade: %w", err)
		}
	}

	install := append(append([]string{}, spec.InstallCommand...), spec.Target())
	if err := i.runStep(ctx, env, install); err != nil {
		return fmt.Errorf("install %s: %w", spec.Target(), err)
	}

	i.logger.Info("Install complete", "target", spec.Target())
	return nil
}

// runStep executes one command in the environment, capturing output for
// error classification.
func (i *Installer) runStep(ctx context.Context, env environment.Environment, command []string) error {
	handle, err := env.Exec(ctx, environment.ExecOptions{Command: command})
	if err != nil {
		return err
	}

	var output bytes.Buffer
	if rc, err := handle.StreamLogs(ctx); err == nil {
		io.Copy(&output, rc)
		rc.Close()
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return classify(result.ExitCode, output.String())
	}
	return nil
}

// classify maps a failed install step to the error taxonomy by scanning its
// output for registry-reachability markers.
func classify(exitCode int, output string) error {
	lower := strings.ToLower(output)
	for _, marker := range []string{
		"network is unreachable",
		"temporary failure in name resolution",
		"connection timed out",
		"connection refused",
		"could not resolve",
		"read timed out",
	} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: exit code %d", ErrNetworkFailure, exitCode)
		}
	}
	return fmt.Errorf("%w: exit code %d", ErrResolutionFailed, exitCode)
}

package environment

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ExecProvisioner implements Provisioner using raw OS processes.
// This is optional and primarily used for development/testing.
type ExecProvisioner struct {
	// BaseDir is where per-run working directories are created.
	BaseDir string
}

// NewExecProvisioner creates a new process-based provisioner.
func NewExecProvisioner(baseDir string) *ExecProvisioner {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "testpipe", "runs")
	}
	return &ExecProvisioner{BaseDir: baseDir}
}

// Provision validates the tag and allocates a fresh working directory.
// The tag selects no interpreter here; steps run against the host toolchain.
func (p *ExecProvisioner) Provision(ctx context.Context, versionTag string) (Environment, error) {
	if err := ValidateVersionTag(versionTag); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create base dir: %v", ErrUnavailable, err)
	}
	workDir, err := os.MkdirTemp(p.BaseDir, "run-")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create working dir: %v", ErrUnavailable, err)
	}
	return &execEnvironment{
		ref:     "exec:" + versionTag,
		workDir: workDir,
	}, nil
}

// execEnvironment runs steps as host processes in a dedicated working dir.
type execEnvironment struct {
	ref     string
	workDir string
}

func (e *execEnvironment) Ref() string {
	return e.ref
}

func (e *execEnvironment) Exec(ctx context.Context, opts ExecOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = e.workDir
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	cmd.Env = append(os.Environ(), envList(opts.Env)...)
	// Own process group, so Stop can take out shell-spawned children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	h := &execHandle{
		cmd:    cmd,
		logs:   pr,
		result: make(chan ExitResult, 1),
	}

	go func() {
		err := cmd.Wait()
		pw.Close()

		res := ExitResult{ExitCode: 0}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				res.ExitCode = exitErr.ExitCode()
			} else {
				res = ExitResult{ExitCode: -1, Error: err}
			}
		}
		h.result <- res
	}()

	return h, nil
}

func (e *execEnvironment) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workDir, path)
	}
	return os.ReadFile(path)
}

func (e *execEnvironment) Teardown(ctx context.Context) error {
	return os.RemoveAll(e.workDir)
}

// execHandle represents a running host process.
type execHandle struct {
	cmd    *exec.Cmd
	logs   *io.PipeReader
	result chan ExitResult
}

func (h *execHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case res := <-h.result:
		// Keep the result available for later Wait/Stop callers
		h.result <- res
		if res.Error != nil {
			return res, res.Error
		}
		return res, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *execHandle) Stop(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	// Ask nicely first, then force. Signals go to the whole group so
	// descendants of a sh -c wrapper do not outlive the step.
	pgid := h.cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGINT)

	select {
	case res := <-h.result:
		h.result <- res
		return nil
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

func (h *execHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.logs, nil
}

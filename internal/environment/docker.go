package environment

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerConfig holds configuration for the Docker provisioner.
type DockerConfig struct {
	// ImageRepository the version tag is composed onto (e.g. "python")
	ImageRepository string
	// SourceDir is the host path of the checkout under test, bind-mounted
	// into the environment at WorkspaceDir
	SourceDir string
	// WorkspaceDir is the in-environment mount point (default /workspace)
	WorkspaceDir string
}

// DockerProvisioner implements Provisioner using the Docker SDK. The
// environment is a long-lived container the pipeline execs steps into.
type DockerProvisioner struct {
	client *client.Client
	config DockerConfig
}

// dockerEnvironment is a running workspace container.
type dockerEnvironment struct {
	client      *client.Client
	containerID string
	ref         string
	workspace   string
}

// NewDockerProvisioner creates a new Docker-based provisioner.
func NewDockerProvisioner(cfg DockerConfig) (*DockerProvisioner, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "/workspace"
	}
	return &DockerProvisioner{client: cli, config: cfg}, nil
}

// Provision implements Provisioner.Provision using Docker containers.
func (p *DockerProvisioner) Provision(ctx context.Context, versionTag string) (Environment, error) {
	if err := ValidateVersionTag(versionTag); err != nil {
		return nil, err
	}
	ref := ImageRef(p.config.ImageRepository, versionTag)

	// Check if the image exists locally first to save time.
	if _, err := p.client.ImageInspect(ctx, ref); err != nil {
		reader, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to pull image %s: %v", ErrUnavailable, ref, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig := &container.Config{
		Image:      ref,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: p.config.WorkspaceDir,
		Labels: map[string]string{
			"managed-by": "testpipe",
		},
	}

	hostConfig := &container.HostConfig{}
	if p.config.SourceDir != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: p.config.SourceDir,
				Target: p.config.WorkspaceDir,
			},
		}
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create container for %s: %v", ErrUnavailable, ref, err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = p.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: failed to start container for %s: %v", ErrUnavailable, ref, err)
	}

	return &dockerEnvironment{
		client:      p.client,
		containerID: resp.ID,
		ref:         ref,
		workspace:   p.config.WorkspaceDir,
	}, nil
}

func (e *dockerEnvironment) Ref() string {
	return e.ref
}

// Exec runs a step in the workspace container via docker exec.
func (e *dockerEnvironment) Exec(ctx context.Context, opts ExecOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = e.workspace
	}

	execResp, err := e.client.ContainerExecCreate(ctx, e.containerID, container.ExecOptions{
		Cmd:          opts.Command,
		Env:          envList(opts.Env),
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	// Attach starts the exec process and yields the multiplexed output stream.
	conn, err := e.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}

	return &dockerExecHandle{
		client:      e.client,
		execID:      execResp.ID,
		containerID: e.containerID,
		conn:        conn,
	}, nil
}

// ReadFile copies a single file out of the container. The Docker copy API
// returns a tar stream, so unpack the first regular entry.
func (e *dockerEnvironment) ReadFile(ctx context.Context, path string) ([]byte, error) {
	rc, _, err := e.client.CopyFromContainer(ctx, e.containerID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s from container: %w", path, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("no file found in archive for %s", path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive for %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}

func (e *dockerEnvironment) Teardown(ctx context.Context) error {
	timeout := 5
	_ = e.client.ContainerStop(ctx, e.containerID, container.StopOptions{Timeout: &timeout})
	if err := e.client.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// dockerExecHandle represents a running docker exec step.
type dockerExecHandle struct {
	client      *client.Client
	execID      string
	containerID string
	conn        types.HijackedResponse
}

func (h *dockerExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
		case <-ticker.C:
			inspect, err := h.client.ContainerExecInspect(ctx, h.execID)
			if err != nil {
				return ExitResult{ExitCode: -1, Error: err}, err
			}
			if !inspect.Running {
				return ExitResult{ExitCode: inspect.ExitCode}, nil
			}
		}
	}
}

// Stop kills the environment's processes. The pipeline tears the whole
// environment down right after an aborted step, so killing the container
// is the termination path.
func (h *dockerExecHandle) Stop(ctx context.Context) error {
	h.conn.Close()
	return h.client.ContainerKill(ctx, h.containerID, "KILL")
}

// StreamLogs demuxes the attached stream into combined stdout/stderr output.
// Without a TTY the exec output arrives stdcopy-multiplexed.
func (h *dockerExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return newDemuxReader(h.conn), nil
}

// demuxReader adapts the hijacked exec connection to a plain io.ReadCloser,
// stripping the stdcopy frame headers.
type demuxReader struct {
	conn types.HijackedResponse
	pr   *io.PipeReader
}

func newDemuxReader(conn types.HijackedResponse) *demuxReader {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, conn.Reader)
		pw.CloseWithError(err)
	}()
	return &demuxReader{conn: conn, pr: pr}
}

func (r *demuxReader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

func (r *demuxReader) Close() error {
	r.conn.Close()
	return r.pr.Close()
}

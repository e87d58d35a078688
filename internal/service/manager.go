package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerClient is the slice of the Docker API the manager drives,
// narrowed so the container lifecycle can be tested against a fake.
type containerClient interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Manager starts declared services as Docker containers and guarantees
// every started service is stopped when the job ends.
type Manager struct {
	client containerClient
	logger *slog.Logger
	probe  ProbeConfig

	mu      sync.Mutex
	started []startedService // in start order
}

type startedService struct {
	name        string
	containerID string
}

// NewManager creates a Docker-backed service manager.
func NewManager(logger *slog.Logger, probe ProbeConfig) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Manager{client: cli, logger: logger, probe: probe}, nil
}

// StartAll starts every declared service concurrently and returns their
// connection info once all pass the readiness probe. On any failure the
// services already started remain tracked so StopAll can release them.
func (m *Manager) StartAll(ctx context.Context, specs []Spec) (map[string]ConnectionInfo, error) {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate service name %q", spec.Name)
		}
		seen[spec.Name] = true
	}

	// Pre-flight bind check before any container exists, so a conflict
	// surfaces as a configuration error rather than a docker failure.
	for _, spec := range specs {
		for _, pm := range spec.Ports {
			if err := checkHostPortFree(pm.HostPort); err != nil {
				return nil, fmt.Errorf("service %s: %w", spec.Name, err)
			}
		}
	}

	conns := make(map[string]ConnectionInfo, len(specs))
	var (
		connMu sync.Mutex
		wg     sync.WaitGroup
		errs   = make([]error, len(specs))
	)

	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec Spec) {
			defer wg.Done()
			conn, err := m.startOne(ctx, spec)
			if err != nil {
				errs[i] = fmt.Errorf("service %s: %w", spec.Name, err)
				return
			}
			connMu.Lock()
			conns[spec.Name] = conn
			connMu.Unlock()
		}(i, spec)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return conns, nil
}

// startOne pulls, creates, starts, and probes a single service.
func (m *Manager) startOne(ctx context.Context, spec Spec) (ConnectionInfo, error) {
	if _, err := m.client.ImageInspect(ctx, spec.Image); err != nil {
		reader, err := m.client.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return ConnectionInfo{}, fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pm := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", pm.ContainerPort))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: strconv.Itoa(pm.HostPort)},
		}
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		ExposedPorts: exposed,
		Labels: map[string]string{
			"managed-by":       "testpipe",
			"testpipe.service": spec.Name,
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
	}

	resp, err := m.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to create container: %w", err)
	}

	// Track before starting so a failed start is still cleaned up.
	m.mu.Lock()
	m.started = append(m.started, startedService{name: spec.Name, containerID: resp.ID})
	m.mu.Unlock()

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to start container: %w", err)
	}

	conn := ConnectionInfo{
		Name:   spec.Name,
		Scheme: spec.scheme(),
		Host:   "localhost",
		Port:   spec.Ports[0].HostPort,
	}

	m.logger.Info("Service started, probing readiness",
		"service", spec.Name, "image", spec.Image, "addr", probeAddr(conn))

	if err := waitReady(ctx, probeAddr(conn), m.probe); err != nil {
		return ConnectionInfo{}, err
	}

	m.logger.Info("Service ready", "service", spec.Name)
	return conn, nil
}

// StopAll stops and removes every started service in reverse start order.
// It runs on every pipeline exit path, including partial startup failures.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var errs []error
	stopTimeout := 10
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		_ = m.client.ContainerStop(ctx, svc.containerID, container.StopOptions{Timeout: &stopTimeout})
		if err := m.client.ContainerRemove(ctx, svc.containerID, container.RemoveOptions{Force: true}); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", svc.name, err))
			continue
		}
		m.logger.Info("Service stopped", "service", svc.name)
	}
	return errors.Join(errs...)
}

func probeAddr(c ConnectionInfo) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// checkHostPortFree binds and releases the port to detect conflicts early.
func checkHostPortFree(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: port %d: %v", ErrPortConflict, port, err)
	}
	return l.Close()
}

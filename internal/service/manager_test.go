package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"testpipe/internal/logger"
)

// fakeContainerClient backs started "containers" with real TCP listeners so
// the readiness probe sees them.
type fakeContainerClient struct {
	mu        sync.Mutex
	nextID    int
	created   []string
	removed   []string
	failStart map[string]bool // by service name
	names     map[string]string
	ports     map[string]int
	listeners map[string]net.Listener
}

func newFakeContainerClient() *fakeContainerClient {
	return &fakeContainerClient{
		failStart: make(map[string]bool),
		names:     make(map[string]string),
		ports:     make(map[string]int),
		listeners: make(map[string]net.Listener),
	}
}

func (f *fakeContainerClient) ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error) {
	return image.InspectResponse{}, nil
}

func (f *fakeContainerClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeContainerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.created = append(f.created, id)
	f.names[id] = config.Labels["testpipe.service"]
	for _, bindings := range hostConfig.PortBindings {
		port, err := strconv.Atoi(bindings[0].HostPort)
		if err != nil {
			return container.CreateResponse{}, err
		}
		f.ports[id] = port
		break
	}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeContainerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failStart[f.names[containerID]] {
		return errors.New("container exited immediately")
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.ports[containerID]))
	if err != nil {
		return err
	}
	f.listeners[containerID] = l
	return nil
}

func (f *fakeContainerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return nil
}

func (f *fakeContainerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l := f.listeners[containerID]; l != nil {
		l.Close()
		delete(f.listeners, containerID)
	}
	f.removed = append(f.removed, containerID)
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testManager(fake *fakeContainerClient) *Manager {
	return &Manager{
		client: fake,
		logger: logger.New(),
		probe: ProbeConfig{
			StartupTimeout: 2 * time.Second,
			InitialBackoff: 10 * time.Millisecond,
			DialTimeout:    200 * time.Millisecond,
		},
	}
}

func brokerSpec(name string, port int) Spec {
	return Spec{
		Name:   name,
		Image:  "eclipse-mosquitto:1.6",
		Scheme: "mqtt",
		Ports:  []PortMapping{{HostPort: port, ContainerPort: 1883}},
	}
}

func TestStartAll_StartsAndProbes(t *testing.T) {
	fake := newFakeContainerClient()
	m := testManager(fake)
	port := freePort(t)

	conns, err := m.StartAll(context.Background(), []Spec{brokerSpec("mqtt-broker", port)})
	if err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	defer m.StopAll(context.Background())

	conn, ok := conns["mqtt-broker"]
	if !ok {
		t.Fatal("missing connection info for mqtt-broker")
	}
	want := fmt.Sprintf("mqtt://localhost:%d", port)
	if conn.URL() != want {
		t.Errorf("URL() = %q, want %q", conn.URL(), want)
	}
	if len(fake.created) != 1 {
		t.Errorf("created %d containers, want 1", len(fake.created))
	}
}

func TestStartAll_DuplicateName(t *testing.T) {
	fake := newFakeContainerClient()
	m := testManager(fake)

	_, err := m.StartAll(context.Background(), []Spec{
		brokerSpec("mqtt-broker", freePort(t)),
		brokerSpec("mqtt-broker", freePort(t)),
	})
	if err == nil {
		t.Fatal("expected error for duplicate service name")
	}
	if len(fake.created) != 0 {
		t.Errorf("created %d containers before validation failure, want 0", len(fake.created))
	}
}

func TestStartAll_PartialFailureStillReleasesStarted(t *testing.T) {
	fake := newFakeContainerClient()
	fake.failStart["flaky"] = true
	m := testManager(fake)

	_, err := m.StartAll(context.Background(), []Spec{
		brokerSpec("mqtt-broker", freePort(t)),
		brokerSpec("flaky", freePort(t)),
	})
	if err == nil {
		t.Fatal("expected error when one service fails to start")
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	// Everything created is tracked, so cleanup covers the failed start too
	if len(fake.removed) != len(fake.created) {
		t.Errorf("removed %d of %d created containers", len(fake.removed), len(fake.created))
	}
	if len(fake.listeners) != 0 {
		t.Errorf("%d services still running after StopAll", len(fake.listeners))
	}
}

func TestStopAll_ReverseStartOrder(t *testing.T) {
	fake := newFakeContainerClient()
	m := testManager(fake)

	_, err := m.StartAll(context.Background(), []Spec{
		brokerSpec("mqtt-broker", freePort(t)),
		brokerSpec("redis", freePort(t)),
	})
	if err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	m.mu.Lock()
	startOrder := make([]string, len(m.started))
	for i, svc := range m.started {
		startOrder[i] = svc.containerID
	}
	m.mu.Unlock()

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	if len(fake.removed) != len(startOrder) {
		t.Fatalf("removed %d containers, want %d", len(fake.removed), len(startOrder))
	}
	for i := range startOrder {
		want := startOrder[len(startOrder)-1-i]
		if fake.removed[i] != want {
			t.Fatalf("removal order %v, want reverse of start order %v", fake.removed, startOrder)
		}
	}
}

func TestStopAll_Idempotent(t *testing.T) {
	fake := newFakeContainerClient()
	m := testManager(fake)

	if _, err := m.StartAll(context.Background(), []Spec{brokerSpec("mqtt-broker", freePort(t))}); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("second StopAll failed: %v", err)
	}
	if len(fake.removed) != 1 {
		t.Errorf("removed %d containers across two StopAll calls, want 1", len(fake.removed))
	}
}

// Package service starts and tears down the auxiliary network services a
// test suite depends on (e.g. a message broker), exposing their connection
// info to later pipeline stages.
package service

import (
	"errors"
	"fmt"
)

// ErrPortConflict indicates a requested host port is already bound.
var ErrPortConflict = errors.New("host port conflict")

// ErrStartupTimeout indicates a service did not become ready within the bounded wait.
var ErrStartupTimeout = errors.New("service startup timeout")

// PortMapping binds a host port to a container port.
type PortMapping struct {
	HostPort      int
	ContainerPort int
}

// Spec declares one auxiliary service a job depends on.
// Host ports are exclusively owned by the running job; concurrent jobs on
// the same host must use disjoint allocations.
type Spec struct {
	Name   string
	Image  string
	Scheme string // URL scheme for connection info (default "tcp")
	Ports  []PortMapping
}

// ConnectionInfo describes how the test process reaches a started service.
type ConnectionInfo struct {
	Name   string
	Scheme string
	Host   string
	Port   int
}

// URL renders the reachable endpoint as scheme://host:port.
func (c ConnectionInfo) URL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if s.Image == "" {
		return fmt.Errorf("service %s: image is required", s.Name)
	}
	if len(s.Ports) == 0 {
		return fmt.Errorf("service %s: at least one port mapping is required", s.Name)
	}
	return nil
}

func (s Spec) scheme() string {
	if s.Scheme == "" {
		return "tcp"
	}
	return s.Scheme
}

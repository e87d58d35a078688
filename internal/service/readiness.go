package service

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ProbeConfig bounds the readiness wait for a started service.
type ProbeConfig struct {
	// StartupTimeout is the total wait before giving up (default 30s)
	StartupTimeout time.Duration
	// InitialBackoff between dial attempts (default 250ms, doubles per miss)
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling (default 5s)
	MaxBackoff time.Duration
	// DialTimeout for a single attempt (default 1s)
	DialTimeout time.Duration
}

func (p ProbeConfig) withDefaults() ProbeConfig {
	if p.StartupTimeout <= 0 {
		p.StartupTimeout = 30 * time.Second
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.DialTimeout <= 0 {
		p.DialTimeout = time.Second
	}
	return p
}

// waitReady dials addr until a TCP connection is accepted, backing off
// between attempts. A service that never accepts within StartupTimeout
// reports ErrStartupTimeout.
func waitReady(ctx context.Context, addr string, cfg ProbeConfig) error {
	cfg = cfg.withDefaults()

	deadline := time.Now().Add(cfg.StartupTimeout)
	backoff := cfg.InitialBackoff

	for {
		conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s not ready after %v: %v", ErrStartupTimeout, addr, cfg.StartupTimeout, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}

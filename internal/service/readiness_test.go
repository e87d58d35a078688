package service

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestWaitReady_AcceptingListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer l.Close()

	err = waitReady(context.Background(), l.Addr().String(), ProbeConfig{
		StartupTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Errorf("waitReady against live listener failed: %v", err)
	}
}

func TestWaitReady_NeverReady(t *testing.T) {
	// Grab a free port, then close it so nothing accepts
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	err = waitReady(context.Background(), addr, ProbeConfig{
		StartupTimeout: 300 * time.Millisecond,
		InitialBackoff: 50 * time.Millisecond,
		DialTimeout:    100 * time.Millisecond,
	})
	if !errors.Is(err, ErrStartupTimeout) {
		t.Errorf("expected ErrStartupTimeout, got %v", err)
	}
}

func TestWaitReady_BecomesReady(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	// Re-open the listener shortly after the first probe misses
	go func() {
		time.Sleep(150 * time.Millisecond)
		late, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		late.Close()
	}()

	err = waitReady(context.Background(), addr, ProbeConfig{
		StartupTimeout: 3 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
		DialTimeout:    100 * time.Millisecond,
	})
	if err != nil {
		t.Errorf("waitReady should succeed once listener appears, got %v", err)
	}
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err = waitReady(ctx, addr, ProbeConfig{
		StartupTimeout: 10 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
		DialTimeout:    100 * time.Millisecond,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCheckHostPortFree(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	err = checkHostPortFree(port)
	if !errors.Is(err, ErrPortConflict) {
		t.Errorf("expected ErrPortConflict for bound port, got %v", err)
	}
}

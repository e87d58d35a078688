package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// teardownStack collects release functions as resources are acquired and
// unwinds them in reverse order. Run via defer, it holds the
// reverse-acquisition-order invariant on every exit path, including panics.
type teardownStack struct {
	mu       sync.Mutex
	releases []release
}

type release struct {
	name string
	fn   func(context.Context) error
}

func newTeardownStack() *teardownStack {
	return &teardownStack{}
}

// push registers a release to run when the job ends.
func (s *teardownStack) push(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, release{name: name, fn: fn})
}

// unwind runs every registered release in reverse order. It uses a fresh
// context so an expired run context cannot block resource release.
func (s *teardownStack) unwind(logger *slog.Logger) {
	s.mu.Lock()
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]
		if err := r.fn(ctx); err != nil {
			logger.Error("Teardown failed", "resource", r.name, "error", err)
			continue
		}
		logger.Info("Released", "resource", r.name)
	}
}

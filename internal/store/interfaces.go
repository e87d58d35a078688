package store

import (
	"context"

	"github.com/google/uuid"
)

// RunStore persists and queries run history.
type RunStore interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRunByID(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
	Close() error
}

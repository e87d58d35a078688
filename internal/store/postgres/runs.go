package postgres

import (
	"context"

	"github.com/google/uuid"

	"testpipe/internal/store"
)

func (s *Store) RecordRun(ctx context.Context, run *store.Run) error {
	query := `
		INSERT INTO runs (id, version_tag, exit_code, timed_out, outcome, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.VersionTag, run.ExitCode, run.TimedOut,
		run.Outcome, run.StartedAt, run.FinishedAt,
	)
	return err
}

func (s *Store) GetRunByID(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	query := "SELECT id, version_tag, exit_code, timed_out, outcome, started_at, finished_at, created_at FROM runs WHERE id = $1"

	var run store.Run

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.VersionTag, &run.ExitCode, &run.TimedOut,
		&run.Outcome, &run.StartedAt, &run.FinishedAt, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, version_tag, exit_code, timed_out, outcome, started_at, finished_at, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID, &run.VersionTag, &run.ExitCode, &run.TimedOut,
			&run.Outcome, &run.StartedAt, &run.FinishedAt, &run.CreatedAt,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

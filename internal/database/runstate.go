package database

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// GetRunState returns the persisted scheduler run state, or nil.
func (db *DB) GetRunState(ctx context.Context) (*domain.RunState, error) {
	var rows []runStateRow
	err := db.conn.SelectContext(ctx, &rows,
		"SELECT id, running, started_at, last_tick_at, last_outcome, updated_at FROM run_state WHERE id = 1")
	if err != nil {
		return nil, fmt.Errorf("loading run state: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	rs := &domain.RunState{Running: r.Running, LastOutcome: r.LastOutcome, Source: "durable"}
	if rs.StartedAt, err = parseTimePtr(r.StartedAt); err != nil {
		return nil, err
	}
	if rs.LastTickAt, err = parseTimePtr(r.LastTickAt); err != nil {
		return nil, err
	}
	if rs.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return rs, nil
}

// SaveRunState replaces the persisted run state.
func (db *DB) SaveRunState(ctx context.Context, rs *domain.RunState) error {
	_, err := db.conn.ExecContext(ctx, `
INSERT INTO run_state (id, running, started_at, last_tick_at, last_outcome, updated_at)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    running = excluded.running,
    started_at = excluded.started_at,
    last_tick_at = excluded.last_tick_at,
    last_outcome = excluded.last_outcome,
    updated_at = excluded.updated_at`,
		rs.Running, formatTimePtr(rs.StartedAt), formatTimePtr(rs.LastTickAt), rs.LastOutcome, formatTime(rs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving run state: %w", err)
	}
	return nil
}

// Package runstate tracks whether the scheduler loop is running. The durable
// store is authoritative; a local JSON file mirrors every save and is read
// only when the durable store cannot be.
package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// Source values reported on loaded state.
const (
	SourceDurable = "durable"
	SourceLocal   = "local"
)

// Store is the durable side of the run state.
type Store interface {
	GetRunState(ctx context.Context) (*domain.RunState, error)
	SaveRunState(ctx context.Context, rs *domain.RunState) error
}

// degradedReporter is implemented by stores that can silently serve from a
// fallback cache.
type degradedReporter interface {
	Degraded() bool
}

// Tracker reads and writes the scheduler run state.
type Tracker struct {
	store Store
	path  string
	mu    sync.Mutex
}

// NewTracker creates a Tracker. An empty path disables the local mirror.
func NewTracker(store Store, path string) *Tracker {
	return &Tracker{store: store, path: path}
}

// Load returns the current run state, never nil.
func (t *Tracker) Load(ctx context.Context) *domain.RunState {
	rs, err := t.store.GetRunState(ctx)
	if err == nil && !t.degraded() {
		if rs == nil {
			return &domain.RunState{Source: SourceDurable}
		}
		rs.Source = SourceDurable
		return rs
	}
	if err != nil {
		log.Warn().Err(err).Msg("Reading durable run state failed, using local file")
	}

	local, lerr := t.readLocal()
	if lerr != nil {
		if !errors.Is(lerr, os.ErrNotExist) {
			log.Warn().Err(lerr).Str("path", t.path).Msg("Reading local run state failed")
		}
		if rs != nil {
			rs.Source = SourceLocal
			return rs
		}
		return &domain.RunState{Source: SourceLocal}
	}
	local.Source = SourceLocal
	return local
}

// Save persists rs durably and mirrors it to the local file. The local write
// happens even when the durable write fails.
func (t *Tracker) Save(ctx context.Context, rs *domain.RunState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	derr := t.store.SaveRunState(ctx, rs)
	if derr != nil {
		log.Warn().Err(derr).Msg("Saving durable run state failed")
	}
	lerr := t.writeLocal(rs)
	if lerr != nil {
		log.Warn().Err(lerr).Str("path", t.path).Msg("Writing local run state failed")
	}
	if derr != nil && lerr != nil {
		return fmt.Errorf("saving run state: %w", errors.Join(derr, lerr))
	}
	return nil
}

// MarkStarted records that the loop started at now.
func (t *Tracker) MarkStarted(ctx context.Context, now time.Time) error {
	rs := t.Load(ctx)
	rs.Running = true
	rs.StartedAt = &now
	rs.UpdatedAt = now
	return t.Save(ctx, rs)
}

// MarkTick records a finished tick and its outcome.
func (t *Tracker) MarkTick(ctx context.Context, now time.Time, outcome string) error {
	rs := t.Load(ctx)
	rs.LastTickAt = &now
	rs.LastOutcome = outcome
	rs.UpdatedAt = now
	return t.Save(ctx, rs)
}

// MarkStopped records that the loop stopped.
func (t *Tracker) MarkStopped(ctx context.Context, now time.Time) error {
	rs := t.Load(ctx)
	rs.Running = false
	rs.UpdatedAt = now
	return t.Save(ctx, rs)
}

func (t *Tracker) degraded() bool {
	d, ok := t.store.(degradedReporter)
	return ok && d.Degraded()
}

func (t *Tracker) readLocal() (*domain.RunState, error) {
	if t.path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, err
	}
	var rs domain.RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t.path, err)
	}
	return &rs, nil
}

func (t *Tracker) writeLocal(rs *domain.RunState) error {
	if t.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

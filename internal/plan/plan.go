// Package plan builds and refreshes the daily schedule of generation jobs.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/trendpress/internal/calendar"
	"github.com/TobiSchelling/trendpress/internal/dedup"
	"github.com/TobiSchelling/trendpress/internal/domain"
)

// ErrInvariant marks a plan that breaks uniqueness, contiguity or status
// rules. A plan failing validation must not be saved.
var ErrInvariant = errors.New("plan invariant violated")

// Report describes what a build or refresh did.
type Report struct {
	Date      string `json:"date"`
	Requested int    `json:"requested"`
	Planned   int    `json:"planned"`
	Preserved int    `json:"preserved"`
	Kept      int    `json:"kept"`
	Added     int    `json:"added"`
	Replaced  int    `json:"replaced"`
	Shortfall int    `json:"shortfall"`
	Changed   bool   `json:"changed"`
}

// Builder assembles plans from ranked trend candidates.
type Builder struct {
	cal   *calendar.Calendar
	dedup *dedup.Deduplicator
	newID func() string
}

// NewBuilder creates a Builder.
func NewBuilder(cal *calendar.Calendar, d *dedup.Deduplicator) *Builder {
	return &Builder{cal: cal, dedup: d, newID: uuid.NewString}
}

// Rank returns trends ordered by search volume descending, then first seen
// ascending, then ID.
func Rank(trends []domain.Trend) []domain.Trend {
	out := make([]domain.Trend, len(trends))
	copy(out, trends)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SearchVolume != b.SearchVolume {
			return a.SearchVolume > b.SearchVolume
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.ID < b.ID
	})
	return out
}

// BuildOrRefresh creates the plan for date, or refreshes existing when it is
// not nil. Jobs that left pending keep their position untouched. Pending
// positions are reassigned from the ranked pool of candidates and current
// pending trends; a position whose assignment is unchanged keeps its job.
// The input plan is never modified.
func (b *Builder) BuildOrRefresh(date string, existing *domain.Plan, candidates []domain.Trend, slotCount int, now time.Time) (*domain.Plan, Report, error) {
	rep := Report{Date: date, Requested: slotCount}

	var p *domain.Plan
	if existing == nil {
		p = &domain.Plan{Date: date, CreatedAt: now}
	} else {
		if existing.Date != date {
			return nil, rep, fmt.Errorf("refreshing plan %s as %s: %w", existing.Date, date, ErrInvariant)
		}
		p = existing.Clone()
	}

	current := make(map[int]domain.Job, len(p.Jobs))
	maxPreserved := 0
	var known, pendingTrends []domain.Trend
	taken := make(map[string]bool)
	for _, j := range p.Jobs {
		current[j.Position] = j
		if j.Status == domain.StatusPending {
			pendingTrends = append(pendingTrends, j.Trend())
			continue
		}
		known = append(known, j.Trend())
		taken[j.TrendID] = true
		if j.Position > maxPreserved {
			maxPreserved = j.Position
		}
	}

	pool := b.pool(candidates, pendingTrends, known, taken)
	slots := b.cal.SlotTimes(p.CreatedAt, slotCount)
	limit := max(slotCount, maxPreserved)

	jobs := make([]domain.Job, 0, limit)
	for pos := 1; pos <= limit; pos++ {
		old, had := current[pos]
		if had && old.Status != domain.StatusPending {
			jobs = append(jobs, old)
			rep.Preserved++
			continue
		}
		if len(pool) == 0 {
			if pos < maxPreserved && had {
				// Keep a hole-free plan below preserved positions.
				jobs = append(jobs, old)
				rep.Kept++
				continue
			}
			if pos < maxPreserved {
				return nil, rep, fmt.Errorf("no trend left for position %d below preserved position %d: %w", pos, maxPreserved, ErrInvariant)
			}
			break
		}
		next := pool[0]
		pool = pool[1:]

		if had && old.TrendID == next.ID {
			jobs = append(jobs, old)
			rep.Kept++
			continue
		}

		scheduled := b.slotAt(slots, slotCount, pos)
		if had {
			scheduled = old.ScheduledAt
			rep.Replaced++
		} else {
			rep.Added++
		}
		jobs = append(jobs, domain.Job{
			ID:           b.newID(),
			TrendID:      next.ID,
			TrendTitle:   next.Title,
			Category:     next.Category,
			SearchVolume: next.SearchVolume,
			Position:     pos,
			Status:       domain.StatusPending,
			ScheduledAt:  scheduled,
			CreatedAt:    now,
		})
	}

	rep.Changed = existing == nil || rep.Added > 0 || rep.Replaced > 0 || len(jobs) != len(p.Jobs)
	p.Jobs = jobs
	p.UpdatedAt = now
	rep.Planned = len(jobs)
	if rep.Planned < slotCount {
		rep.Shortfall = slotCount - rep.Planned
	}

	if err := Validate(p, slotCount); err != nil {
		return nil, rep, err
	}
	return p, rep, nil
}

func (b *Builder) slotAt(slots []time.Time, slotCount, pos int) time.Time {
	if pos <= len(slots) {
		return slots[pos-1]
	}
	var last time.Time
	if len(slots) > 0 {
		last = slots[len(slots)-1]
	}
	return last.Add(time.Duration(pos-len(slots)) * b.cal.Interval(slotCount))
}

// pool ranks the trends eligible for pending positions: current pending
// trends, refreshed by matching candidates, plus new candidates. The set is
// deduplicated against preserved jobs and then within itself in rank order,
// so which trend wins a near-duplicate group does not depend on which one
// happened to be pending.
func (b *Builder) pool(candidates, pendingTrends, preserved []domain.Trend, taken map[string]bool) []domain.Trend {
	byID := make(map[string]domain.Trend, len(candidates))
	for _, c := range candidates {
		if prev, ok := byID[c.ID]; !ok || c.SearchVolume > prev.SearchVolume {
			byID[c.ID] = c
		}
	}

	seen := make(map[string]bool, len(pendingTrends)+len(candidates))
	out := make([]domain.Trend, 0, len(pendingTrends)+len(candidates))
	for _, t := range pendingTrends {
		if fresh, ok := byID[t.ID]; ok {
			t = fresh
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	for _, c := range candidates {
		if taken[c.ID] || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, byID[c.ID])
	}
	return Rank(b.dedup.FilterNew(Rank(out), preserved))
}

// Validate checks that positions run 1..N without gaps, that trends are
// unique and statuses defined, and that the plan does not end in a pending
// job beyond slotCount.
func Validate(p *domain.Plan, slotCount int) error {
	if p == nil {
		return fmt.Errorf("nil plan: %w", ErrInvariant)
	}
	seen := make(map[string]int, len(p.Jobs))
	for i, j := range p.Jobs {
		if j.Position != i+1 {
			return fmt.Errorf("job %s at index %d has position %d: %w", j.ID, i, j.Position, ErrInvariant)
		}
		if !j.Status.Valid() {
			return fmt.Errorf("job at position %d has status %q: %w", j.Position, j.Status, ErrInvariant)
		}
		if j.ID == "" || j.TrendID == "" {
			return fmt.Errorf("job at position %d is missing an id: %w", j.Position, ErrInvariant)
		}
		if prev, dup := seen[j.TrendID]; dup {
			return fmt.Errorf("trend %s at positions %d and %d: %w", j.TrendID, prev, j.Position, ErrInvariant)
		}
		seen[j.TrendID] = j.Position
	}
	if n := len(p.Jobs); n > slotCount && p.Jobs[n-1].Status == domain.StatusPending {
		return fmt.Errorf("pending job at position %d beyond %d slots: %w", n, slotCount, ErrInvariant)
	}
	return nil
}

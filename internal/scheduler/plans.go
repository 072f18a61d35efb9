package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/collect"
	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/plan"
	"github.com/TobiSchelling/trendpress/internal/store"
)

// ensurePlan returns the plan for date, building it when absent and
// refreshing it when trend data arrived after its last build.
func (s *Scheduler) ensurePlan(ctx context.Context, date string, now time.Time) (*domain.Plan, *plan.Report, error) {
	p, err := s.store.GetPlan(ctx, date)
	if err != nil {
		return nil, nil, fmt.Errorf("loading plan %s: %w", date, err)
	}
	if p != nil {
		latest, err := s.store.LatestTrendSeen(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Reading trend freshness failed, keeping plan")
			return p, nil, nil
		}
		if !latest.After(p.UpdatedAt) {
			return p, nil, nil
		}
	}
	return s.rebuild(ctx, date, p, now)
}

// rebuild builds or refreshes the plan for date from the stored trend
// supply. When a refresh fails the existing plan is returned unchanged.
func (s *Scheduler) rebuild(ctx context.Context, date string, existing *domain.Plan, now time.Time) (*domain.Plan, *plan.Report, error) {
	candidates, err := s.candidates(ctx, now)
	if err != nil {
		return s.keep(existing, fmt.Errorf("loading trend supply: %w", err))
	}

	next, rep, err := s.builder.BuildOrRefresh(date, existing, candidates, s.cfg.Slots, now)
	if err != nil {
		return s.keep(existing, err)
	}
	if err := s.store.SavePlan(ctx, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn().Err(err).Str("date", date).Msg("Plan changed concurrently, reloading")
			current, gerr := s.store.GetPlan(ctx, date)
			if gerr == nil && current != nil {
				return current, nil, nil
			}
		}
		return s.keep(existing, fmt.Errorf("saving plan %s: %w", date, err))
	}

	ev := log.Info()
	if rep.Shortfall > 0 {
		ev = log.Warn()
	}
	ev.Str("date", date).
		Int("planned", rep.Planned).
		Int("preserved", rep.Preserved).
		Int("added", rep.Added).
		Int("replaced", rep.Replaced).
		Int("shortfall", rep.Shortfall).
		Msg("Plan built")
	return next, &rep, nil
}

func (s *Scheduler) keep(existing *domain.Plan, err error) (*domain.Plan, *plan.Report, error) {
	if existing == nil {
		return nil, nil, err
	}
	log.Error().Err(err).Str("date", existing.Date).Msg("Plan refresh aborted, keeping previous plan")
	return existing, nil, nil
}

// candidates returns the unused trend supply minus near-duplicates of
// recently generated trends.
func (s *Scheduler) candidates(ctx context.Context, now time.Time) ([]domain.Trend, error) {
	since := now.Add(-s.cfg.SupplyWindow)
	supply, err := s.store.TrendSupply(ctx, since)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.RecentGenerated(ctx, since)
	if err != nil {
		return nil, err
	}
	return s.dedup.FilterNew(supply, recent), nil
}

// Refresh imports the latest trends and refreshes today's plan. An upstream
// failure skips the refresh and leaves the plan untouched.
func (s *Scheduler) Refresh(ctx context.Context) (RefreshResult, error) {
	now := s.now()
	date := s.cal.Today(now)
	res := RefreshResult{Date: date}

	if s.importer != nil {
		imp, err := s.importer.Import(ctx, now)
		res.Import = &imp
		if err != nil {
			if errors.Is(err, collect.ErrUpstream) {
				res.Skipped = true
				res.Reason = collect.ReasonUpstream
				res.Degraded = s.degraded()
				return res, nil
			}
			return res, err
		}
	}

	existing, err := s.store.GetPlan(ctx, date)
	if err != nil {
		return res, fmt.Errorf("loading plan %s: %w", date, err)
	}
	_, rep, err := s.rebuild(ctx, date, existing, now)
	if err != nil {
		return res, err
	}
	if rep == nil {
		res.Skipped = true
		res.Reason = "refresh_aborted"
	}
	res.Plan = rep
	res.Degraded = s.degraded()
	return res, nil
}

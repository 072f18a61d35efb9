package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/jobs"
)

// sweep recovers stale generating jobs in p and persists each reset with a
// compare-and-set from generating. p is updated to match what was stored.
func (s *Scheduler) sweep(ctx context.Context, p *domain.Plan, now time.Time) int {
	work := p.Clone()
	n := 0
	for _, pos := range jobs.Sweep(work, now, s.cfg.StaleAfter) {
		j, _ := work.JobAt(pos)
		ok, err := s.store.UpdateJob(ctx, p.Date, *j, domain.StatusGenerating)
		if err != nil {
			log.Warn().Err(err).Str("date", p.Date).Int("position", pos).Msg("Persisting recovered job failed")
			continue
		}
		if !ok {
			continue
		}
		if cur, found := p.JobAt(pos); found {
			*cur = j.Clone()
		}
		n++
	}
	return n
}

// autoRetry resets failed jobs that still have retries left, at most
// AutoRetryPerTick per call.
func (s *Scheduler) autoRetry(ctx context.Context, p *domain.Plan) int {
	n := 0
	for i := range p.Jobs {
		if n >= s.cfg.AutoRetryPerTick {
			break
		}
		j := &p.Jobs[i]
		if j.Status != domain.StatusFailed || j.RetryCount >= s.cfg.MaxRetries {
			continue
		}
		if ok, err := s.resetJob(ctx, p.Date, j); err != nil || !ok {
			continue
		}
		log.Info().Str("date", p.Date).Int("position", j.Position).Int("retry", j.RetryCount).Msg("Retrying failed job")
		n++
	}
	return n
}

// resetJob moves j back to pending and persists it with a compare-and-set on
// its current status. j is updated only when the write succeeds.
func (s *Scheduler) resetJob(ctx context.Context, date string, j *domain.Job) (bool, error) {
	next := j.Clone()
	var err error
	switch j.Status {
	case domain.StatusFailed:
		err = jobs.Reset(&next, s.cfg.MaxRetries)
	case domain.StatusGenerating:
		err = jobs.Recover(&next)
	default:
		return false, fmt.Errorf("job at position %d is %s: %w", j.Position, j.Status, ErrNotResettable)
	}
	if err != nil {
		return false, err
	}
	ok, err := s.store.UpdateJob(ctx, date, next, j.Status)
	if err != nil {
		return false, fmt.Errorf("persisting reset of position %d: %w", j.Position, err)
	}
	if ok {
		*j = next
	}
	return ok, nil
}

func (s *Scheduler) todayPlan(ctx context.Context) (*domain.Plan, error) {
	date := s.cal.Today(s.now())
	p, err := s.store.GetPlan(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", date, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%s: %w", date, ErrNoPlan)
	}
	return p, nil
}

// ResetFailedJobs returns every failed job in today's plan to pending. Jobs
// that used all their retries stay failed and are listed as exhausted.
func (s *Scheduler) ResetFailedJobs(ctx context.Context) (ResetResult, error) {
	p, err := s.todayPlan(ctx)
	if err != nil {
		return ResetResult{}, err
	}
	res := ResetResult{Date: p.Date, Reset: []int{}, Exhausted: []int{}}
	for i := range p.Jobs {
		j := &p.Jobs[i]
		if j.Status != domain.StatusFailed {
			continue
		}
		ok, err := s.resetJob(ctx, p.Date, j)
		switch {
		case errors.Is(err, jobs.ErrRetryLimit):
			res.Exhausted = append(res.Exhausted, j.Position)
		case err != nil:
			return res, err
		case ok:
			res.Reset = append(res.Reset, j.Position)
		}
	}
	log.Info().Str("date", p.Date).Ints("reset", res.Reset).Ints("exhausted", res.Exhausted).Msg("Reset failed jobs")
	return res, nil
}

// ResetStuckJob returns the job at position to pending. A generating job is
// recovered without using a retry; a failed job is reset under the retry
// cap. Other statuses return ErrNotResettable.
func (s *Scheduler) ResetStuckJob(ctx context.Context, position int) (*domain.Job, error) {
	p, err := s.todayPlan(ctx)
	if err != nil {
		return nil, err
	}
	j, ok := p.JobAt(position)
	if !ok {
		return nil, fmt.Errorf("position %d in plan %s: %w", position, p.Date, ErrInvalidPosition)
	}
	done, err := s.resetJob(ctx, p.Date, j)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("job at position %d changed concurrently: %w", position, ErrNotResettable)
	}
	log.Info().Str("date", p.Date).Int("position", position).Str("job_id", j.ID).Msg("Reset job")
	out := j.Clone()
	return &out, nil
}

// Status reports today's plan, quota usage and run state.
func (s *Scheduler) Status(ctx context.Context) (*StatusReport, error) {
	now := s.now()
	rep := &StatusReport{
		Date:        s.cal.Today(now),
		Now:         now,
		ActiveHours: s.cal.IsWithinActiveHours(now),
		CurrentSlot: s.cal.CurrentSlot(now, s.cfg.Slots),
		Counts:      map[domain.Status]int{},
	}
	p, err := s.store.GetPlan(ctx, rep.Date)
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", rep.Date, err)
	}
	if p != nil {
		rep.Plan = p
		rep.Counts = p.Counts()
		if due := jobs.DueJob(p, now); due != nil {
			c := due.Clone()
			rep.NextDue = &c
		}
	}
	if s.quota != nil {
		usage, err := s.quota.Usage(ctx, now)
		if err != nil {
			log.Warn().Err(err).Msg("Reading quota usage failed")
		} else {
			rep.Quota = &usage
		}
	}
	if s.runs != nil {
		rep.RunState = s.runs.Load(ctx)
	}
	rep.Degraded = s.degraded()
	return rep, nil
}

// Cleanup deletes trends not seen within the retention window and prunes
// old quota buckets.
func (s *Scheduler) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := s.now()
	var res CleanupResult
	n, err := s.store.PruneTrends(ctx, now.Add(-s.cfg.TrendRetention))
	if err != nil {
		return res, fmt.Errorf("pruning trends: %w", err)
	}
	res.TrendsDeleted = n
	if s.quota != nil {
		if res.QuotaBucketsDeleted, err = s.quota.Prune(ctx, now); err != nil {
			return res, err
		}
	}
	log.Info().Int64("trends", res.TrendsDeleted).Int64("quota_buckets", res.QuotaBucketsDeleted).Msg("Cleanup complete")
	return res, nil
}

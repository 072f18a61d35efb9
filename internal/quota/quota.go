// Package quota enforces the daily and monthly ceilings on upstream
// trend-data calls.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/calendar"
	"github.com/TobiSchelling/trendpress/internal/domain"
)

// ErrQuotaExceeded is returned by RecordCall when a ceiling is already met.
// Callers are expected to check CanCall first.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Counter is the persistence the governor needs. IncrementQuota must bump
// both buckets in one atomic step and only when each stays within its
// ceiling; it reports false without changing anything otherwise.
type Counter interface {
	QuotaCounts(ctx context.Context, dayBucket, monthBucket string) (day, month int, err error)
	IncrementQuota(ctx context.Context, dayBucket string, dayLimit int, monthBucket string, monthLimit int, now time.Time) (bool, error)
	PruneQuota(ctx context.Context, dayBefore, monthBefore string) (int64, error)
}

// Limits configures the ceilings and bucket retention.
type Limits struct {
	WeekdayDaily int
	WeekendDaily int
	Monthly      int
	RetainDays   int
	RetainMonths int
}

// Governor gates upstream calls against the configured ceilings.
type Governor struct {
	counter Counter
	cal     *calendar.Calendar
	limits  Limits
}

// New creates a Governor.
func New(counter Counter, cal *calendar.Calendar, limits Limits) *Governor {
	if limits.RetainDays <= 0 {
		limits.RetainDays = 60
	}
	if limits.RetainMonths <= 0 {
		limits.RetainMonths = 12
	}
	return &Governor{counter: counter, cal: cal, limits: limits}
}

// DayBucket returns the counter key for now's operating day.
func (g *Governor) DayBucket(now time.Time) string {
	return "day:" + g.cal.Today(now)
}

// MonthBucket returns the counter key for now's operating month.
func (g *Governor) MonthBucket(now time.Time) string {
	return "month:" + g.cal.Month(now)
}

// DailyLimit returns the ceiling for now's day.
func (g *Governor) DailyLimit(now time.Time) int {
	if g.cal.IsWeekend(now) {
		return g.limits.WeekendDaily
	}
	return g.limits.WeekdayDaily
}

// CanCall reports whether another upstream call fits under both ceilings.
// It returns false when the counters cannot be read.
func (g *Governor) CanCall(ctx context.Context, now time.Time) bool {
	day, month, err := g.counter.QuotaCounts(ctx, g.DayBucket(now), g.MonthBucket(now))
	if err != nil {
		log.Warn().Err(err).Msg("Reading quota counters failed, blocking upstream call")
		return false
	}
	return day < g.DailyLimit(now) && month < g.limits.Monthly
}

// RecordCall reserves one call against both ceilings.
func (g *Governor) RecordCall(ctx context.Context, now time.Time) error {
	day, month := g.DayBucket(now), g.MonthBucket(now)
	ok, err := g.counter.IncrementQuota(ctx, day, g.DailyLimit(now), month, g.limits.Monthly, now)
	if err != nil {
		return fmt.Errorf("recording quota call: %w", err)
	}
	if !ok {
		log.Warn().Str("day", day).Str("month", month).Msg("Quota call rejected at ceiling")
		return ErrQuotaExceeded
	}
	return nil
}

// Usage returns the counters and remaining calls for now's day and month.
func (g *Governor) Usage(ctx context.Context, now time.Time) (domain.QuotaUsage, error) {
	day, month, err := g.counter.QuotaCounts(ctx, g.DayBucket(now), g.MonthBucket(now))
	if err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("reading quota usage: %w", err)
	}
	dailyLimit := g.DailyLimit(now)
	return domain.QuotaUsage{
		Day:              g.cal.Today(now),
		Month:            g.cal.Month(now),
		DailyCount:       day,
		DailyLimit:       dailyLimit,
		DailyRemaining:   max(dailyLimit-day, 0),
		MonthlyCount:     month,
		MonthlyLimit:     g.limits.Monthly,
		MonthlyRemaining: max(g.limits.Monthly-month, 0),
	}, nil
}

// Prune deletes buckets older than the retention window.
func (g *Governor) Prune(ctx context.Context, now time.Time) (int64, error) {
	local := now.In(g.cal.Location())
	dayCutoff := local.AddDate(0, 0, -g.limits.RetainDays)
	monthCutoff := time.Date(local.Year(), local.Month()-time.Month(g.limits.RetainMonths), 1, 12, 0, 0, 0, g.cal.Location())
	n, err := g.counter.PruneQuota(ctx, g.DayBucket(dayCutoff), g.MonthBucket(monthCutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning quota buckets: %w", err)
	}
	return n, nil
}

// Package store defines the persistence gateway the scheduler runs against,
// an in-memory implementation and a resilient wrapper that falls back to it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

var (
	// ErrConflict is returned when a conditional write lost a race.
	ErrConflict = errors.New("conflicting concurrent write")

	// ErrNotFound is returned when a required record does not exist.
	ErrNotFound = errors.New("not found")
)

// Gateway is everything the scheduler persists.
//
// Plan writes are optimistic: SavePlan succeeds only when the stored version
// equals p.Version, bumps p.Version, and only replaces jobs that are still
// pending in storage. UpdateJob is a compare-and-set on the job's stored
// status and reports false when the expectation no longer holds. GetPlan and
// GetTrend return nil without error when the record does not exist.
type Gateway interface {
	GetPlan(ctx context.Context, date string) (*domain.Plan, error)
	SavePlan(ctx context.Context, p *domain.Plan) error
	UpdateJob(ctx context.Context, date string, job domain.Job, expected domain.Status) (bool, error)

	UpsertTrends(ctx context.Context, trends []domain.Trend, now time.Time) error
	GetTrend(ctx context.Context, id string) (*domain.Trend, error)
	TrendSupply(ctx context.Context, since time.Time) ([]domain.Trend, error)
	RecentGenerated(ctx context.Context, since time.Time) ([]domain.Trend, error)
	LatestTrendSeen(ctx context.Context) (time.Time, error)
	MarkTrendGenerated(ctx context.Context, id string) error
	PruneTrends(ctx context.Context, before time.Time) (int64, error)

	QuotaCounts(ctx context.Context, dayBucket, monthBucket string) (int, int, error)
	IncrementQuota(ctx context.Context, dayBucket string, dayLimit int, monthBucket string, monthLimit int, now time.Time) (bool, error)
	PruneQuota(ctx context.Context, dayBefore, monthBefore string) (int64, error)

	SaveArticle(ctx context.Context, a *domain.Article) error
	RecentArticleTitles(ctx context.Context, since time.Time, limit int) ([]string, error)

	GetRunState(ctx context.Context) (*domain.RunState, error)
	SaveRunState(ctx context.Context, rs *domain.RunState) error
}

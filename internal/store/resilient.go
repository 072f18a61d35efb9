package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// RetryPolicy bounds the retries against the primary store.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy tries three times with exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:        3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Resilient retries a primary Gateway and, once retries are exhausted,
// serves reads and writes from an in-memory cache. Successful primary
// results are mirrored into the cache so it tracks the durable state.
type Resilient struct {
	primary  Gateway
	cache    *Memory
	policy   RetryPolicy
	degraded atomic.Bool
}

var _ Gateway = (*Resilient)(nil)

// NewResilient wraps primary.
func NewResilient(primary Gateway, policy RetryPolicy) *Resilient {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultRetryPolicy.Attempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	return &Resilient{primary: primary, cache: NewMemory(), policy: policy}
}

// Degraded reports whether the last primary operation fell back to the cache.
func (r *Resilient) Degraded() bool {
	return r.degraded.Load()
}

// Cache exposes the fallback store.
func (r *Resilient) Cache() *Memory {
	return r.cache
}

func permanent(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
}

// try runs fn against the primary with retries. It returns nil on success,
// the permanent error when one occurs, and errFallback otherwise.
func (r *Resilient) try(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.Attempts-1)), ctx))

	switch {
	case err == nil:
		if r.degraded.Swap(false) {
			log.Info().Str("op", op).Msg("Primary store recovered")
		}
		return nil
	case permanent(err):
		return err
	default:
		if !r.degraded.Swap(true) {
			log.Error().Err(err).Str("op", op).Msg("Primary store unavailable, serving from memory")
		} else {
			log.Debug().Err(err).Str("op", op).Msg("Primary store still unavailable")
		}
		return errFallback
	}
}

var errFallback = errors.New("fallback")

func (r *Resilient) GetPlan(ctx context.Context, date string) (*domain.Plan, error) {
	var p *domain.Plan
	err := r.try(ctx, "get_plan", func() (err error) {
		p, err = r.primary.GetPlan(ctx, date)
		return err
	})
	if err == errFallback {
		return r.cache.GetPlan(ctx, date)
	}
	if err != nil {
		return nil, err
	}
	if p != nil {
		r.cache.PutPlan(p)
	}
	return p, nil
}

func (r *Resilient) SavePlan(ctx context.Context, p *domain.Plan) error {
	err := r.try(ctx, "save_plan", func() error {
		return r.primary.SavePlan(ctx, p)
	})
	if err == errFallback {
		return r.cache.SavePlan(ctx, p)
	}
	if err != nil {
		return err
	}
	r.cache.PutPlan(p)
	return nil
}

func (r *Resilient) UpdateJob(ctx context.Context, date string, job domain.Job, expected domain.Status) (bool, error) {
	var ok bool
	err := r.try(ctx, "update_job", func() (err error) {
		ok, err = r.primary.UpdateJob(ctx, date, job, expected)
		return err
	})
	if err == errFallback {
		return r.cache.UpdateJob(ctx, date, job, expected)
	}
	if err != nil {
		return false, err
	}
	if ok {
		r.cache.PutJob(date, job)
	}
	return ok, nil
}

func (r *Resilient) UpsertTrends(ctx context.Context, trends []domain.Trend, now time.Time) error {
	err := r.try(ctx, "upsert_trends", func() error {
		return r.primary.UpsertTrends(ctx, trends, now)
	})
	if err != nil && err != errFallback {
		return err
	}
	return r.cache.UpsertTrends(ctx, trends, now)
}

func (r *Resilient) GetTrend(ctx context.Context, id string) (*domain.Trend, error) {
	var t *domain.Trend
	err := r.try(ctx, "get_trend", func() (err error) {
		t, err = r.primary.GetTrend(ctx, id)
		return err
	})
	if err == errFallback {
		return r.cache.GetTrend(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if t != nil {
		_ = r.cache.UpsertTrends(ctx, []domain.Trend{*t}, time.Time{})
	}
	return t, nil
}

func (r *Resilient) TrendSupply(ctx context.Context, since time.Time) ([]domain.Trend, error) {
	var out []domain.Trend
	err := r.try(ctx, "trend_supply", func() (err error) {
		out, err = r.primary.TrendSupply(ctx, since)
		return err
	})
	if err == errFallback {
		return r.cache.TrendSupply(ctx, since)
	}
	if err != nil {
		return nil, err
	}
	_ = r.cache.UpsertTrends(ctx, out, time.Time{})
	return out, nil
}

func (r *Resilient) RecentGenerated(ctx context.Context, since time.Time) ([]domain.Trend, error) {
	var out []domain.Trend
	err := r.try(ctx, "recent_generated", func() (err error) {
		out, err = r.primary.RecentGenerated(ctx, since)
		return err
	})
	if err == errFallback {
		return r.cache.RecentGenerated(ctx, since)
	}
	return out, err
}

func (r *Resilient) LatestTrendSeen(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := r.try(ctx, "latest_trend_seen", func() (err error) {
		latest, err = r.primary.LatestTrendSeen(ctx)
		return err
	})
	if err == errFallback {
		return r.cache.LatestTrendSeen(ctx)
	}
	return latest, err
}

func (r *Resilient) MarkTrendGenerated(ctx context.Context, id string) error {
	err := r.try(ctx, "mark_trend_generated", func() error {
		return r.primary.MarkTrendGenerated(ctx, id)
	})
	if err != nil && err != errFallback {
		return err
	}
	if cerr := r.cache.MarkTrendGenerated(ctx, id); cerr != nil && err == errFallback {
		return cerr
	}
	return nil
}

func (r *Resilient) PruneTrends(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.try(ctx, "prune_trends", func() (err error) {
		n, err = r.primary.PruneTrends(ctx, before)
		return err
	})
	cached, _ := r.cache.PruneTrends(ctx, before)
	if err == errFallback {
		return cached, nil
	}
	return n, err
}

func (r *Resilient) QuotaCounts(ctx context.Context, dayBucket, monthBucket string) (int, int, error) {
	var day, month int
	err := r.try(ctx, "quota_counts", func() (err error) {
		day, month, err = r.primary.QuotaCounts(ctx, dayBucket, monthBucket)
		return err
	})
	if err == errFallback {
		return r.cache.QuotaCounts(ctx, dayBucket, monthBucket)
	}
	if err != nil {
		return 0, 0, err
	}
	r.cache.PutQuota(dayBucket, day, monthBucket, month)
	return day, month, nil
}

func (r *Resilient) IncrementQuota(ctx context.Context, dayBucket string, dayLimit int, monthBucket string, monthLimit int, now time.Time) (bool, error) {
	var ok bool
	err := r.try(ctx, "increment_quota", func() (err error) {
		ok, err = r.primary.IncrementQuota(ctx, dayBucket, dayLimit, monthBucket, monthLimit, now)
		return err
	})
	if err == errFallback {
		return r.cache.IncrementQuota(ctx, dayBucket, dayLimit, monthBucket, monthLimit, now)
	}
	if err != nil {
		return false, err
	}
	if ok {
		_, _ = r.cache.IncrementQuota(ctx, dayBucket, dayLimit, monthBucket, monthLimit, now)
	}
	return ok, nil
}

func (r *Resilient) PruneQuota(ctx context.Context, dayBefore, monthBefore string) (int64, error) {
	var n int64
	err := r.try(ctx, "prune_quota", func() (err error) {
		n, err = r.primary.PruneQuota(ctx, dayBefore, monthBefore)
		return err
	})
	cached, _ := r.cache.PruneQuota(ctx, dayBefore, monthBefore)
	if err == errFallback {
		return cached, nil
	}
	return n, err
}

func (r *Resilient) SaveArticle(ctx context.Context, a *domain.Article) error {
	err := r.try(ctx, "save_article", func() error {
		return r.primary.SaveArticle(ctx, a)
	})
	if err != nil && err != errFallback {
		return err
	}
	return r.cache.SaveArticle(ctx, a)
}

func (r *Resilient) RecentArticleTitles(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var out []string
	err := r.try(ctx, "recent_article_titles", func() (err error) {
		out, err = r.primary.RecentArticleTitles(ctx, since, limit)
		return err
	})
	if err == errFallback {
		return r.cache.RecentArticleTitles(ctx, since, limit)
	}
	return out, err
}

func (r *Resilient) GetRunState(ctx context.Context) (*domain.RunState, error) {
	var rs *domain.RunState
	err := r.try(ctx, "get_run_state", func() (err error) {
		rs, err = r.primary.GetRunState(ctx)
		return err
	})
	if err == errFallback {
		return r.cache.GetRunState(ctx)
	}
	return rs, err
}

func (r *Resilient) SaveRunState(ctx context.Context, rs *domain.RunState) error {
	err := r.try(ctx, "save_run_state", func() error {
		return r.primary.SaveRunState(ctx, rs)
	})
	if err != nil && err != errFallback {
		return err
	}
	return r.cache.SaveRunState(ctx, rs)
}

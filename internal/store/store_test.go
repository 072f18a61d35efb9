package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testPlan(n int) *domain.Plan {
	p := &domain.Plan{Date: "2026-10-16", CreatedAt: now, UpdatedAt: now}
	for i := 1; i <= n; i++ {
		p.Jobs = append(p.Jobs, domain.Job{
			ID:          "job-" + string(rune('a'+i-1)),
			TrendID:     "trend-" + string(rune('a'+i-1)),
			TrendTitle:  "Trend " + string(rune('A'+i-1)),
			Position:    i,
			Status:      domain.StatusPending,
			ScheduledAt: now.Add(time.Duration(i-1) * time.Hour),
			CreatedAt:   now,
		})
	}
	return p
}

func TestMemorySavePlanVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p := testPlan(3)
	require.NoError(t, m.SavePlan(ctx, p))
	assert.Equal(t, 1, p.Version)

	stale := testPlan(3)
	err := m.SavePlan(ctx, stale)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := m.GetPlan(ctx, p.Date)
	require.NoError(t, err)
	require.NoError(t, m.SavePlan(ctx, got))
	assert.Equal(t, 2, got.Version)

	missing, err := m.GetPlan(ctx, "2026-01-01")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemorySavePlanKeepsNonPendingJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := testPlan(2)
	require.NoError(t, m.SavePlan(ctx, p))

	claimed := p.Jobs[0].Clone()
	claimed.Status = domain.StatusGenerating
	ok, err := m.UpdateJob(ctx, p.Date, claimed, domain.StatusPending)
	require.NoError(t, err)
	require.True(t, ok)

	// A refresh computed before the claim still thinks position 1 is pending.
	err = m.SavePlan(ctx, p)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryUpdateJobCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := testPlan(1)
	require.NoError(t, m.SavePlan(ctx, p))

	job := p.Jobs[0].Clone()
	job.Status = domain.StatusGenerating

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.UpdateJob(ctx, p.Date, job, domain.StatusPending)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := m.UpdateJob(ctx, "2026-10-17", job, domain.StatusPending)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTrends(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertTrends(ctx, []domain.Trend{
		{ID: "a", Title: "A", SearchVolume: 100},
		{ID: "b", Title: "B", SearchVolume: 50},
	}, now))
	require.NoError(t, m.UpsertTrends(ctx, []domain.Trend{
		{ID: "a", Title: "A", SearchVolume: 10},
		{ID: "b", Title: "B", SearchVolume: 500},
	}, now.Add(time.Hour)))

	supply, err := m.TrendSupply(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, supply, 2)
	assert.Equal(t, "b", supply[0].ID)
	assert.Equal(t, 500, supply[0].SearchVolume)
	assert.Equal(t, 100, supply[1].SearchVolume)
	assert.Equal(t, now, supply[1].FirstSeen)
	assert.Equal(t, now.Add(time.Hour), supply[1].LastSeen)

	latest, err := m.LatestTrendSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), latest)

	require.NoError(t, m.MarkTrendGenerated(ctx, "a"))
	assert.ErrorIs(t, m.MarkTrendGenerated(ctx, "zzz"), ErrNotFound)
	gen, err := m.RecentGenerated(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, gen, 1)
	assert.Equal(t, "a", gen[0].ID)

	n, err := m.PruneTrends(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryGetTrend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertTrends(ctx, []domain.Trend{
		{ID: "a", Title: "A", SearchVolume: 100, NewsLinks: []string{"https://a.example/1"}},
	}, now))

	got, err := m.GetTrend(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, now, got.FirstSeen)

	got.NewsLinks[0] = "changed"
	again, err := m.GetTrend(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/1", again.NewsLinks[0], "callers get a copy")

	missing, err := m.GetTrend(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryQuotaPrune(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutQuota("day:2026-08-01", 3, "month:2025-09", 40)
	m.PutQuota("day:2026-10-16", 1, "month:2026-10", 1)

	n, err := m.PruneQuota(ctx, "day:2026-08-17", "month:2025-10")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	day, month, err := m.QuotaCounts(ctx, "day:2026-10-16", "month:2026-10")
	require.NoError(t, err)
	assert.Equal(t, 1, day)
	assert.Equal(t, 1, month)
}

// flaky fails the first failures calls to every method it overrides.
type flaky struct {
	*Memory
	failures atomic.Int32
	calls    atomic.Int32
}

var errDisk = errors.New("database is locked")

func (f *flaky) fail() error {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errDisk
	}
	return nil
}

func (f *flaky) GetPlan(ctx context.Context, date string) (*domain.Plan, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Memory.GetPlan(ctx, date)
}

func (f *flaky) SavePlan(ctx context.Context, p *domain.Plan) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Memory.SavePlan(ctx, p)
}

func (f *flaky) UpdateJob(ctx context.Context, date string, job domain.Job, expected domain.Status) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return f.Memory.UpdateJob(ctx, date, job, expected)
}

func (f *flaky) GetTrend(ctx context.Context, id string) (*domain.Trend, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Memory.GetTrend(ctx, id)
}

var fastPolicy = RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestResilientRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	primary := &flaky{Memory: NewMemory()}
	r := NewResilient(primary, fastPolicy)

	primary.failures.Store(2)
	require.NoError(t, r.SavePlan(ctx, testPlan(2)))
	assert.Equal(t, int32(3), primary.calls.Load())
	assert.False(t, r.Degraded())

	got, err := primary.Memory.GetPlan(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func TestResilientFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	primary := &flaky{Memory: NewMemory()}
	r := NewResilient(primary, fastPolicy)

	require.NoError(t, r.SavePlan(ctx, testPlan(2)))

	primary.failures.Store(100)
	p, err := r.GetPlan(ctx, "2026-10-16")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, r.Degraded())
	assert.Len(t, p.Jobs, 2)

	claimed := p.Jobs[0].Clone()
	claimed.Status = domain.StatusGenerating
	ok, err := r.UpdateJob(ctx, p.Date, claimed, domain.StatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.UpdateJob(ctx, p.Date, claimed, domain.StatusPending)
	require.NoError(t, err)
	assert.False(t, ok, "cache mirrors the compare-and-set")

	primary.failures.Store(0)
	_, err = r.GetPlan(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.False(t, r.Degraded())
}

func TestResilientGetTrendFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	primary := &flaky{Memory: NewMemory()}
	r := NewResilient(primary, fastPolicy)
	require.NoError(t, primary.Memory.UpsertTrends(ctx, []domain.Trend{
		{ID: "a", Title: "Alpha", Category: "sports", NewsLinks: []string{"https://a.example/1"}},
	}, now))

	got, err := r.GetTrend(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, r.Degraded())

	primary.failures.Store(100)
	cached, err := r.GetTrend(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, r.Degraded())
	assert.Equal(t, "sports", cached.Category)
	assert.Equal(t, []string{"https://a.example/1"}, cached.NewsLinks)

	missing, err := r.GetTrend(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResilientDoesNotRetryConflicts(t *testing.T) {
	ctx := context.Background()
	primary := &flaky{Memory: NewMemory()}
	r := NewResilient(primary, fastPolicy)
	require.NoError(t, r.SavePlan(ctx, testPlan(1)))
	primary.calls.Store(0)

	err := r.SavePlan(ctx, testPlan(1))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.False(t, r.Degraded())
}

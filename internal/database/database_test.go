package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

var (
	ctx  = context.Background()
	base = time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)
)

func testPlan(n int) *domain.Plan {
	p := &domain.Plan{Date: "2026-10-16", CreatedAt: base, UpdatedAt: base}
	for i := 1; i <= n; i++ {
		p.Jobs = append(p.Jobs, domain.Job{
			ID:           fmt.Sprintf("job-%d", i),
			TrendID:      fmt.Sprintf("trend-%d", i),
			TrendTitle:   fmt.Sprintf("Trend %d", i),
			SearchVolume: 1000 - i,
			Position:     i,
			Status:       domain.StatusPending,
			ScheduledAt:  base.Add(time.Duration(i-1) * time.Hour),
			CreatedAt:    base,
		})
	}
	return p
}

func TestSaveAndGetPlan(t *testing.T) {
	db := openTestDB(t)

	p := testPlan(3)
	if err := db.SavePlan(ctx, p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("expected version 1 after first save, got %d", p.Version)
	}

	got, err := db.GetPlan(ctx, p.Date)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got == nil || len(got.Jobs) != 3 {
		t.Fatalf("expected plan with 3 jobs, got %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("expected stored version 1, got %d", got.Version)
	}
	if !got.Jobs[1].ScheduledAt.Equal(p.Jobs[1].ScheduledAt) {
		t.Errorf("scheduled_at round trip: %v != %v", got.Jobs[1].ScheduledAt, p.Jobs[1].ScheduledAt)
	}
	if got.Jobs[2].TrendTitle != "Trend 3" || got.Jobs[2].Status != domain.StatusPending {
		t.Errorf("unexpected job 3: %+v", got.Jobs[2])
	}
}

func TestGetPlanMissing(t *testing.T) {
	db := openTestDB(t)
	p, err := db.GetPlan(ctx, "2020-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Error("expected nil for missing plan")
	}
}

func TestSavePlanVersionConflict(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePlan(ctx, testPlan(2)); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	// A second builder that never saw the stored plan.
	err := db.SavePlan(ctx, testPlan(2))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict creating an existing plan, got %v", err)
	}

	a, _ := db.GetPlan(ctx, "2026-10-16")
	b, _ := db.GetPlan(ctx, "2026-10-16")
	if err := db.SavePlan(ctx, a); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if err := db.SavePlan(ctx, b); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestSavePlanReplacesOnlyPendingJobs(t *testing.T) {
	db := openTestDB(t)
	p := testPlan(3)
	if err := db.SavePlan(ctx, p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	claimed := p.Jobs[0].Clone()
	claimed.Status = domain.StatusGenerating
	claimed.StartedAt = ptr(base.Add(time.Minute))
	ok, err := db.UpdateJob(ctx, p.Date, claimed, domain.StatusPending)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	refreshed, err := db.GetPlan(ctx, p.Date)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	refreshed.Jobs[1] = domain.Job{
		ID: "job-new", TrendID: "trend-new", TrendTitle: "New trend", Position: 2,
		Status: domain.StatusPending, ScheduledAt: refreshed.Jobs[1].ScheduledAt, CreatedAt: base,
	}
	refreshed.Jobs = append(refreshed.Jobs, domain.Job{
		ID: "job-4", TrendID: "trend-2", TrendTitle: "Trend 2", Position: 4,
		Status: domain.StatusPending, ScheduledAt: base.Add(3 * time.Hour), CreatedAt: base,
	})
	if err := db.SavePlan(ctx, refreshed); err != nil {
		t.Fatalf("refresh SavePlan: %v", err)
	}

	got, _ := db.GetPlan(ctx, p.Date)
	if len(got.Jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(got.Jobs))
	}
	if got.Jobs[0].Status != domain.StatusGenerating || got.Jobs[0].StartedAt == nil {
		t.Errorf("claimed job lost: %+v", got.Jobs[0])
	}
	if got.Jobs[1].ID != "job-new" || got.Jobs[3].TrendID != "trend-2" {
		t.Errorf("pending jobs not replaced: %+v", got.Jobs)
	}
}

func TestSavePlanConflictsWithClaimedRow(t *testing.T) {
	db := openTestDB(t)
	p := testPlan(2)
	if err := db.SavePlan(ctx, p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	stale, _ := db.GetPlan(ctx, p.Date)

	claimed := p.Jobs[0].Clone()
	claimed.Status = domain.StatusGenerating
	if ok, err := db.UpdateJob(ctx, p.Date, claimed, domain.StatusPending); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	// stale still believes position 1 is pending.
	err := db.SavePlan(ctx, stale)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := db.GetPlan(ctx, p.Date)
	if got.Version != 1 {
		t.Errorf("failed save must roll back the version bump, got %d", got.Version)
	}
}

func TestUpdateJobCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	p := testPlan(1)
	if err := db.SavePlan(ctx, p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	job := p.Jobs[0].Clone()
	job.Status = domain.StatusGenerating
	job.StartedAt = ptr(base)

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.UpdateJob(ctx, p.Date, job, domain.StatusPending)
			if err != nil {
				t.Errorf("UpdateJob: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins)
	}

	job.Status = domain.StatusFailed
	job.Error = ptr("provider timeout")
	ok, err := db.UpdateJob(ctx, p.Date, job, domain.StatusGenerating)
	if err != nil || !ok {
		t.Fatalf("fail transition: ok=%v err=%v", ok, err)
	}
	got, _ := db.GetPlan(ctx, p.Date)
	if got.Jobs[0].Error == nil || *got.Jobs[0].Error != "provider timeout" {
		t.Errorf("error not persisted: %+v", got.Jobs[0])
	}
}

func TestUpsertTrends(t *testing.T) {
	db := openTestDB(t)
	first := []domain.Trend{
		{ID: "a", Title: "Alpha", SearchVolume: 100, Source: "rss", NewsLinks: []string{"https://a.example/1"}},
		{ID: "b", Title: "Beta", SearchVolume: 50, Source: "rss"},
	}
	if err := db.UpsertTrends(ctx, first, base); err != nil {
		t.Fatalf("UpsertTrends: %v", err)
	}
	second := []domain.Trend{
		{ID: "a", Title: "Alpha", SearchVolume: 20, Source: "rss"},
		{ID: "b", Title: "Beta", SearchVolume: 500, Source: "rss"},
	}
	later := base.Add(3 * time.Hour)
	if err := db.UpsertTrends(ctx, second, later); err != nil {
		t.Fatalf("UpsertTrends again: %v", err)
	}

	supply, err := db.TrendSupply(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("TrendSupply: %v", err)
	}
	if len(supply) != 2 {
		t.Fatalf("expected 2 trends, got %d", len(supply))
	}
	if supply[0].ID != "b" || supply[0].SearchVolume != 500 {
		t.Errorf("expected beta first with volume 500, got %+v", supply[0])
	}
	alpha := supply[1]
	if alpha.SearchVolume != 100 {
		t.Errorf("search volume must not decrease, got %d", alpha.SearchVolume)
	}
	if !alpha.FirstSeen.Equal(base) || !alpha.LastSeen.Equal(later) {
		t.Errorf("unexpected seen times: first=%v last=%v", alpha.FirstSeen, alpha.LastSeen)
	}
	if len(alpha.NewsLinks) != 1 {
		t.Errorf("news links dropped by empty re-ingest: %v", alpha.NewsLinks)
	}

	latest, err := db.LatestTrendSeen(ctx)
	if err != nil {
		t.Fatalf("LatestTrendSeen: %v", err)
	}
	if !latest.Equal(later) {
		t.Errorf("expected latest %v, got %v", later, latest)
	}
}

func TestMarkTrendGenerated(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpsertTrends(ctx, []domain.Trend{{ID: "a", Title: "Alpha"}, {ID: "b", Title: "Beta"}}, base); err != nil {
		t.Fatalf("UpsertTrends: %v", err)
	}
	if err := db.MarkTrendGenerated(ctx, "a"); err != nil {
		t.Fatalf("MarkTrendGenerated: %v", err)
	}
	if err := db.MarkTrendGenerated(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	supply, _ := db.TrendSupply(ctx, base.Add(-time.Hour))
	if len(supply) != 1 || supply[0].ID != "b" {
		t.Errorf("generated trend still in supply: %+v", supply)
	}
	generated, _ := db.RecentGenerated(ctx, base.Add(-time.Hour))
	if len(generated) != 1 || !generated[0].ArticleGenerated {
		t.Errorf("expected one generated trend, got %+v", generated)
	}
}

func TestGetTrend(t *testing.T) {
	db := openTestDB(t)
	trends := []domain.Trend{
		{ID: "a", Title: "Alpha", SearchVolume: 100, Source: "rss", Category: "sports", NewsLinks: []string{"https://a.example/1"}},
		{ID: "b", Title: "Beta", SearchVolume: 50, Source: "rss"},
	}
	if err := db.UpsertTrends(ctx, trends, base); err != nil {
		t.Fatalf("UpsertTrends: %v", err)
	}
	if err := db.MarkTrendGenerated(ctx, "a"); err != nil {
		t.Fatalf("MarkTrendGenerated: %v", err)
	}

	got, err := db.GetTrend(ctx, "a")
	if err != nil {
		t.Fatalf("GetTrend: %v", err)
	}
	if got == nil {
		t.Fatal("expected trend a")
	}
	if got.Title != "Alpha" || got.Category != "sports" || !got.ArticleGenerated {
		t.Errorf("unexpected trend: %+v", got)
	}
	if len(got.NewsLinks) != 1 || got.NewsLinks[0] != "https://a.example/1" {
		t.Errorf("unexpected news links: %v", got.NewsLinks)
	}

	missing, err := db.GetTrend(ctx, "missing")
	if err != nil {
		t.Fatalf("GetTrend missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing trend, got %+v", missing)
	}
}

func TestPruneTrends(t *testing.T) {
	db := openTestDB(t)
	_ = db.UpsertTrends(ctx, []domain.Trend{{ID: "old", Title: "Old"}}, base.AddDate(0, 0, -40))
	_ = db.UpsertTrends(ctx, []domain.Trend{{ID: "new", Title: "New"}}, base)

	n, err := db.PruneTrends(ctx, base.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneTrends: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned trend, got %d", n)
	}
	latest, _ := db.LatestTrendSeen(ctx)
	if !latest.Equal(base) {
		t.Errorf("remaining trend missing")
	}
}

func TestIncrementQuotaRespectsCeilings(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 8; i++ {
		ok, err := db.IncrementQuota(ctx, "day:2026-10-16", 8, "month:2026-10", 200, base)
		if err != nil || !ok {
			t.Fatalf("call %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := db.IncrementQuota(ctx, "day:2026-10-16", 8, "month:2026-10", 200, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected increment at the daily ceiling to be rejected")
	}

	day, month, err := db.QuotaCounts(ctx, "day:2026-10-16", "month:2026-10")
	if err != nil {
		t.Fatalf("QuotaCounts: %v", err)
	}
	if day != 8 || month != 8 {
		t.Errorf("expected 8/8 after rejected call, got %d/%d", day, month)
	}
}

func TestIncrementQuotaMonthlyCeilingRollsBackDay(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 2; i++ {
		if ok, err := db.IncrementQuota(ctx, fmt.Sprintf("day:2026-10-%02d", i+1), 8, "month:2026-10", 2, base); err != nil || !ok {
			t.Fatalf("setup call %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := db.IncrementQuota(ctx, "day:2026-10-16", 8, "month:2026-10", 2, base)
	if err != nil || ok {
		t.Fatalf("expected rejection at monthly ceiling, ok=%v err=%v", ok, err)
	}
	day, _, _ := db.QuotaCounts(ctx, "day:2026-10-16", "month:2026-10")
	if day != 0 {
		t.Errorf("day bucket must roll back with the month bucket, got %d", day)
	}
}

func TestPruneQuota(t *testing.T) {
	db := openTestDB(t)
	for _, b := range [][2]string{
		{"day:2026-08-01", "month:2025-09"},
		{"day:2026-10-16", "month:2026-10"},
	} {
		if _, err := db.IncrementQuota(ctx, b[0], 8, b[1], 200, base); err != nil {
			t.Fatalf("IncrementQuota: %v", err)
		}
	}
	n, err := db.PruneQuota(ctx, "day:2026-08-17", "month:2025-10")
	if err != nil {
		t.Fatalf("PruneQuota: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned buckets, got %d", n)
	}
}

func TestArticles(t *testing.T) {
	db := openTestDB(t)
	for i, title := range []string{"First", "Second", "Third"} {
		a := &domain.Article{
			ID: fmt.Sprintf("art-%d", i), JobID: "job", TrendID: "trend", Title: title,
			Slug: fmt.Sprintf("slug-%d", i), BodyMarkdown: "# " + title, BodyHTML: "<h1>" + title + "</h1>",
			QualityScore: 0.8, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := db.SaveArticle(ctx, a); err != nil {
			t.Fatalf("SaveArticle: %v", err)
		}
		if err := db.SaveArticle(ctx, a); err != nil {
			t.Fatalf("SaveArticle twice: %v", err)
		}
	}

	titles, err := db.RecentArticleTitles(ctx, base.Add(30*time.Minute), 0)
	if err != nil {
		t.Fatalf("RecentArticleTitles: %v", err)
	}
	if len(titles) != 2 || titles[0] != "Third" {
		t.Errorf("unexpected titles %v", titles)
	}

	a, err := db.GetArticle(ctx, "art-1")
	if err != nil || a == nil {
		t.Fatalf("GetArticle: %v %v", a, err)
	}
	if a.Title != "Second" || !a.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected article %+v", a)
	}
	if missing, _ := db.GetArticle(ctx, "nope"); missing != nil {
		t.Error("expected nil for missing article")
	}
}

func TestRunState(t *testing.T) {
	db := openTestDB(t)
	rs, err := db.GetRunState(ctx)
	if err != nil || rs != nil {
		t.Fatalf("expected no run state, got %v %v", rs, err)
	}

	want := &domain.RunState{Running: true, StartedAt: ptr(base), LastOutcome: "processed", UpdatedAt: base}
	if err := db.SaveRunState(ctx, want); err != nil {
		t.Fatalf("SaveRunState: %v", err)
	}
	want.Running = false
	want.LastTickAt = ptr(base.Add(5 * time.Minute))
	if err := db.SaveRunState(ctx, want); err != nil {
		t.Fatalf("SaveRunState again: %v", err)
	}

	got, err := db.GetRunState(ctx)
	if err != nil {
		t.Fatalf("GetRunState: %v", err)
	}
	if got.Running || got.LastTickAt == nil || !got.LastTickAt.Equal(*want.LastTickAt) || got.Source != "durable" {
		t.Errorf("unexpected run state %+v", got)
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// Memory is a Gateway held in process memory. It backs tests and serves as
// the fallback cache of Resilient.
type Memory struct {
	mu       sync.Mutex
	plans    map[string]*domain.Plan
	trends   map[string]domain.Trend
	quota    map[string]int
	articles []domain.Article
	runState *domain.RunState
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		plans:  make(map[string]*domain.Plan),
		trends: make(map[string]domain.Trend),
		quota:  make(map[string]int),
	}
}

func (m *Memory) GetPlan(_ context.Context, date string) (*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[date].Clone(), nil
}

func (m *Memory) SavePlan(_ context.Context, p *domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.plans[p.Date]
	storedVersion := 0
	if stored != nil {
		storedVersion = stored.Version
	}
	if storedVersion != p.Version {
		return fmt.Errorf("plan %s at version %d, have %d: %w", p.Date, storedVersion, p.Version, ErrConflict)
	}

	next := p.Clone()
	if stored != nil {
		for i, j := range next.Jobs {
			old, ok := stored.JobAt(j.Position)
			if !ok {
				continue
			}
			if old.Status != domain.StatusPending {
				if j.Status == domain.StatusPending {
					return fmt.Errorf("plan %s position %d is %s: %w", p.Date, j.Position, old.Status, ErrConflict)
				}
				next.Jobs[i] = old.Clone()
			}
		}
		next.CreatedAt = stored.CreatedAt
	}
	next.Version = storedVersion + 1
	m.plans[p.Date] = next
	p.Version = next.Version
	return nil
}

func (m *Memory) UpdateJob(_ context.Context, date string, job domain.Job, expected domain.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.plans[date]
	if p == nil {
		return false, nil
	}
	cur, ok := p.JobAt(job.Position)
	if !ok || cur.ID != job.ID || cur.Status != expected {
		return false, nil
	}
	*cur = job.Clone()
	return true, nil
}

// PutPlan stores p unconditionally.
func (m *Memory) PutPlan(p *domain.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.Date] = p.Clone()
}

// PutJob overwrites the job at its position if the plan is known.
func (m *Memory) PutJob(date string, job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.plans[date]; p != nil {
		if cur, ok := p.JobAt(job.Position); ok {
			*cur = job.Clone()
		}
	}
}

func (m *Memory) UpsertTrends(_ context.Context, trends []domain.Trend, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range trends {
		old, ok := m.trends[t.ID]
		if !ok {
			if t.FirstSeen.IsZero() {
				t.FirstSeen = now
			}
			if t.LastSeen.IsZero() {
				t.LastSeen = now
			}
			t.NewsLinks = append([]string(nil), t.NewsLinks...)
			m.trends[t.ID] = t
			continue
		}
		if t.SearchVolume > old.SearchVolume {
			old.SearchVolume = t.SearchVolume
		}
		seen := t.LastSeen
		if seen.IsZero() {
			seen = now
		}
		if seen.After(old.LastSeen) {
			old.LastSeen = seen
		}
		if len(t.NewsLinks) > 0 {
			old.NewsLinks = append([]string(nil), t.NewsLinks...)
		}
		if old.Category == "" {
			old.Category = t.Category
		}
		m.trends[t.ID] = old
	}
	return nil
}

func (m *Memory) GetTrend(_ context.Context, id string) (*domain.Trend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trends[id]
	if !ok {
		return nil, nil
	}
	t.NewsLinks = append([]string(nil), t.NewsLinks...)
	return &t, nil
}

func (m *Memory) TrendSupply(_ context.Context, since time.Time) ([]domain.Trend, error) {
	return m.filterTrends(func(t domain.Trend) bool {
		return !t.ArticleGenerated && !t.LastSeen.Before(since)
	}), nil
}

func (m *Memory) RecentGenerated(_ context.Context, since time.Time) ([]domain.Trend, error) {
	return m.filterTrends(func(t domain.Trend) bool {
		return t.ArticleGenerated && !t.LastSeen.Before(since)
	}), nil
}

func (m *Memory) filterTrends(keep func(domain.Trend) bool) []domain.Trend {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trend
	for _, t := range m.trends {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SearchVolume != out[j].SearchVolume {
			return out[i].SearchVolume > out[j].SearchVolume
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) LatestTrendSeen(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, t := range m.trends {
		if t.LastSeen.After(latest) {
			latest = t.LastSeen
		}
	}
	return latest, nil
}

func (m *Memory) MarkTrendGenerated(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trends[id]
	if !ok {
		return fmt.Errorf("trend %s: %w", id, ErrNotFound)
	}
	t.ArticleGenerated = true
	m.trends[id] = t
	return nil
}

func (m *Memory) PruneTrends(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.trends {
		if t.LastSeen.Before(before) {
			delete(m.trends, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) QuotaCounts(_ context.Context, dayBucket, monthBucket string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota[dayBucket], m.quota[monthBucket], nil
}

func (m *Memory) IncrementQuota(_ context.Context, dayBucket string, dayLimit int, monthBucket string, monthLimit int, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota[dayBucket] >= dayLimit || m.quota[monthBucket] >= monthLimit {
		return false, nil
	}
	m.quota[dayBucket]++
	m.quota[monthBucket]++
	return true, nil
}

// PutQuota sets both counters unconditionally.
func (m *Memory) PutQuota(dayBucket string, day int, monthBucket string, month int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota[dayBucket] = day
	m.quota[monthBucket] = month
}

func (m *Memory) PruneQuota(_ context.Context, dayBefore, monthBefore string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.quota {
		if (strings.HasPrefix(k, "day:") && k < dayBefore) || (strings.HasPrefix(k, "month:") && k < monthBefore) {
			delete(m.quota, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveArticle(_ context.Context, a *domain.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.articles {
		if existing.ID == a.ID {
			return nil
		}
	}
	m.articles = append(m.articles, *a)
	return nil
}

func (m *Memory) RecentArticleTitles(_ context.Context, since time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for i := len(m.articles) - 1; i >= 0; i-- {
		a := m.articles[i]
		if a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, a.Title)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Articles returns a copy of every stored article, oldest first.
func (m *Memory) Articles() []domain.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Article(nil), m.articles...)
}

func (m *Memory) GetRunState(_ context.Context) (*domain.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runState == nil {
		return nil, nil
	}
	rs := *m.runState
	return &rs, nil
}

func (m *Memory) SaveRunState(_ context.Context, rs *domain.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rs
	m.runState = &c
	return nil
}

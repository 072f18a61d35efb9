package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/store"
)

var trendColumns = []string{
	"id", "title", "category", "search_volume", "source", "news_links",
	"first_seen", "last_seen", "article_generated",
}

// UpsertTrends inserts new trends and refreshes known ones: last_seen and
// search_volume only move up, everything else stays as first ingested apart
// from news links, which follow the latest feed.
func (db *DB) UpsertTrends(ctx context.Context, trends []domain.Trend, now time.Time) error {
	if len(trends) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, t := range trends {
			links, err := json.Marshal(nonNil(t.NewsLinks))
			if err != nil {
				return fmt.Errorf("encoding news links: %w", err)
			}
			first, last := t.FirstSeen, t.LastSeen
			if first.IsZero() {
				first = now
			}
			if last.IsZero() {
				last = now
			}
			_, err = tx.ExecContext(ctx, `
INSERT INTO trends (id, title, category, search_volume, source, news_links, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    search_volume = MAX(search_volume, excluded.search_volume),
    last_seen = MAX(last_seen, excluded.last_seen),
    category = CASE WHEN category = '' THEN excluded.category ELSE category END,
    news_links = CASE WHEN excluded.news_links = '[]' THEN news_links ELSE excluded.news_links END`,
				t.ID, t.Title, t.Category, t.SearchVolume, t.Source, string(links),
				formatTime(first), formatTime(last))
			if err != nil {
				return fmt.Errorf("upserting trend %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GetTrend returns the trend with id, or nil.
func (db *DB) GetTrend(ctx context.Context, id string) (*domain.Trend, error) {
	trends, err := db.selectTrends(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, err
	}
	if len(trends) == 0 {
		return nil, nil
	}
	return &trends[0], nil
}

// TrendSupply returns trends without an article that were seen at or after
// since, highest search volume first.
func (db *DB) TrendSupply(ctx context.Context, since time.Time) ([]domain.Trend, error) {
	return db.selectTrends(ctx, sq.And{
		sq.Eq{"article_generated": 0},
		sq.GtOrEq{"last_seen": formatTime(since)},
	})
}

// RecentGenerated returns trends that already produced an article and were
// seen at or after since.
func (db *DB) RecentGenerated(ctx context.Context, since time.Time) ([]domain.Trend, error) {
	return db.selectTrends(ctx, sq.And{
		sq.Eq{"article_generated": 1},
		sq.GtOrEq{"last_seen": formatTime(since)},
	})
}

func (db *DB) selectTrends(ctx context.Context, where sq.Sqlizer) ([]domain.Trend, error) {
	query, args, err := sq.Select(trendColumns...).From("trends").
		Where(where).
		OrderBy("search_volume DESC", "first_seen ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []trendRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting trends: %w", err)
	}
	out := make([]domain.Trend, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// LatestTrendSeen returns the most recent last_seen over all trends, or the
// zero time when there are none.
func (db *DB) LatestTrendSeen(ctx context.Context) (time.Time, error) {
	var latest sql.NullString
	if err := db.conn.GetContext(ctx, &latest, "SELECT MAX(last_seen) FROM trends"); err != nil {
		return time.Time{}, fmt.Errorf("reading latest trend: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return parseTime(latest.String)
}

// MarkTrendGenerated flags a trend as having produced an article.
func (db *DB) MarkTrendGenerated(ctx context.Context, id string) error {
	n, err := exec(ctx, db.conn, sq.Update("trends").Set("article_generated", 1).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("marking trend %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("trend %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// PruneTrends deletes trends last seen before the cutoff.
func (db *DB) PruneTrends(ctx context.Context, before time.Time) (int64, error) {
	n, err := exec(ctx, db.conn, sq.Delete("trends").Where(sq.Lt{"last_seen": formatTime(before)}))
	if err != nil {
		return 0, fmt.Errorf("pruning trends: %w", err)
	}
	return n, nil
}

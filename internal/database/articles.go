package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

var articleColumns = []string{
	"id", "job_id", "trend_id", "title", "slug", "category",
	"body_markdown", "body_html", "quality_score", "created_at",
}

// SaveArticle stores a generated article. Saving the same id twice is a no-op.
func (db *DB) SaveArticle(ctx context.Context, a *domain.Article) error {
	_, err := exec(ctx, db.conn, sq.Insert("articles").
		Options("OR IGNORE").
		Columns(articleColumns...).
		Values(a.ID, a.JobID, a.TrendID, a.Title, a.Slug, a.Category,
			a.BodyMarkdown, a.BodyHTML, a.QualityScore, formatTime(a.CreatedAt)))
	if err != nil {
		return fmt.Errorf("saving article %s: %w", a.ID, err)
	}
	return nil
}

// GetArticle returns the article with the given id, or nil.
func (db *DB) GetArticle(ctx context.Context, id string) (*domain.Article, error) {
	query, args, err := sq.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var rows []articleRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("loading article %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Article{
		ID:           r.ID,
		JobID:        r.JobID,
		TrendID:      r.TrendID,
		Title:        r.Title,
		Slug:         r.Slug,
		Category:     r.Category,
		BodyMarkdown: r.BodyMarkdown,
		BodyHTML:     r.BodyHTML,
		QualityScore: r.QualityScore,
		CreatedAt:    created,
	}, nil
}

// RecentArticleTitles returns titles of articles created at or after since,
// newest first. A limit of zero means no limit.
func (db *DB) RecentArticleTitles(ctx context.Context, since time.Time, limit int) ([]string, error) {
	b := sq.Select("title").From("articles").
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var titles []string
	if err := db.conn.SelectContext(ctx, &titles, query, args...); err != nil {
		return nil, fmt.Errorf("loading recent article titles: %w", err)
	}
	return titles, nil
}

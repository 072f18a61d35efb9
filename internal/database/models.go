package database

import (
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// trendRow mirrors the trends table.
type trendRow struct {
	ID               string `db:"id"`
	Title            string `db:"title"`
	Category         string `db:"category"`
	SearchVolume     int    `db:"search_volume"`
	Source           string `db:"source"`
	NewsLinks        string `db:"news_links"`
	FirstSeen        string `db:"first_seen"`
	LastSeen         string `db:"last_seen"`
	ArticleGenerated bool   `db:"article_generated"`
}

func (r trendRow) toDomain() (domain.Trend, error) {
	t := domain.Trend{
		ID:               r.ID,
		Title:            r.Title,
		Category:         r.Category,
		SearchVolume:     r.SearchVolume,
		Source:           r.Source,
		ArticleGenerated: r.ArticleGenerated,
	}
	if r.NewsLinks != "" {
		if err := json.Unmarshal([]byte(r.NewsLinks), &t.NewsLinks); err != nil {
			return t, fmt.Errorf("decoding news links of trend %s: %w", r.ID, err)
		}
	}
	var err error
	if t.FirstSeen, err = parseTime(r.FirstSeen); err != nil {
		return t, err
	}
	if t.LastSeen, err = parseTime(r.LastSeen); err != nil {
		return t, err
	}
	return t, nil
}

// jobRow mirrors the jobs table.
type jobRow struct {
	PlanDate     string  `db:"plan_date"`
	Position     int     `db:"position"`
	ID           string  `db:"id"`
	TrendID      string  `db:"trend_id"`
	TrendTitle   string  `db:"trend_title"`
	Category     string  `db:"category"`
	SearchVolume int     `db:"search_volume"`
	Status       string  `db:"status"`
	ScheduledAt  string  `db:"scheduled_at"`
	CreatedAt    string  `db:"created_at"`
	StartedAt    *string `db:"started_at"`
	CompletedAt  *string `db:"completed_at"`
	Error        *string `db:"error"`
	ArticleID    *string `db:"article_id"`
	RetryCount   int     `db:"retry_count"`
}

func (r jobRow) toDomain() (domain.Job, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return domain.Job{}, err
	}
	j := domain.Job{
		ID:           r.ID,
		TrendID:      r.TrendID,
		TrendTitle:   r.TrendTitle,
		Category:     r.Category,
		SearchVolume: r.SearchVolume,
		Position:     r.Position,
		Status:       status,
		Error:        r.Error,
		ArticleID:    r.ArticleID,
		RetryCount:   r.RetryCount,
	}
	if j.ScheduledAt, err = parseTime(r.ScheduledAt); err != nil {
		return j, err
	}
	if j.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return j, err
	}
	if j.StartedAt, err = parseTimePtr(r.StartedAt); err != nil {
		return j, err
	}
	if j.CompletedAt, err = parseTimePtr(r.CompletedAt); err != nil {
		return j, err
	}
	return j, nil
}

// jobColumns lists the jobs columns in insert order.
var jobColumns = []string{
	"plan_date", "position", "id", "trend_id", "trend_title", "category", "search_volume",
	"status", "scheduled_at", "created_at", "started_at", "completed_at", "error", "article_id", "retry_count",
}

func jobValues(date string, j domain.Job) []any {
	return []any{
		date, j.Position, j.ID, j.TrendID, j.TrendTitle, j.Category, j.SearchVolume,
		string(j.Status), formatTime(j.ScheduledAt), formatTime(j.CreatedAt),
		formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt), j.Error, j.ArticleID, j.RetryCount,
	}
}

// planRow mirrors the plans table.
type planRow struct {
	Date      string `db:"date"`
	Version   int    `db:"version"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

// articleRow mirrors the articles table.
type articleRow struct {
	ID           string  `db:"id"`
	JobID        string  `db:"job_id"`
	TrendID      string  `db:"trend_id"`
	Title        string  `db:"title"`
	Slug         string  `db:"slug"`
	Category     string  `db:"category"`
	BodyMarkdown string  `db:"body_markdown"`
	BodyHTML     string  `db:"body_html"`
	QualityScore float64 `db:"quality_score"`
	CreatedAt    string  `db:"created_at"`
}

// runStateRow mirrors the single-row run_state table.
type runStateRow struct {
	ID          int     `db:"id"`
	Running     bool    `db:"running"`
	StartedAt   *string `db:"started_at"`
	LastTickAt  *string `db:"last_tick_at"`
	LastOutcome string  `db:"last_outcome"`
	UpdatedAt   string  `db:"updated_at"`
}

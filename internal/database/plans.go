package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/store"
)

// GetPlan returns the plan for date with its jobs ordered by position, or
// nil if no plan exists.
func (db *DB) GetPlan(ctx context.Context, date string) (*domain.Plan, error) {
	var pr planRow
	err := db.conn.GetContext(ctx, &pr, "SELECT date, version, created_at, updated_at FROM plans WHERE date = ?", date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", date, err)
	}

	query, args, err := sq.Select(jobColumns...).From("jobs").
		Where(sq.Eq{"plan_date": date}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []jobRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("loading jobs of plan %s: %w", date, err)
	}

	p := &domain.Plan{Date: pr.Date, Version: pr.Version, Jobs: make([]domain.Job, 0, len(rows))}
	if p.CreatedAt, err = parseTime(pr.CreatedAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(pr.UpdatedAt); err != nil {
		return nil, err
	}
	for _, r := range rows {
		j, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("plan %s position %d: %w", date, r.Position, err)
		}
		p.Jobs = append(p.Jobs, j)
	}
	return p, nil
}

// SavePlan writes p if the stored version still equals p.Version. Only jobs
// that are pending in p are written, and only over rows that are still
// pending; a row that moved on since p was read aborts the save with
// store.ErrConflict.
func (db *DB) SavePlan(ctx context.Context, p *domain.Plan) error {
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := bumpPlanVersion(ctx, tx, p); err != nil {
			return err
		}

		var pending []int
		for _, j := range p.Jobs {
			if j.Status == domain.StatusPending {
				pending = append(pending, j.Position)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		if _, err := exec(ctx, tx, sq.Delete("jobs").Where(sq.Eq{
			"plan_date": p.Date,
			"status":    string(domain.StatusPending),
			"position":  pending,
		})); err != nil {
			return fmt.Errorf("clearing pending jobs of %s: %w", p.Date, err)
		}

		insert := sq.Insert("jobs").Columns(jobColumns...)
		for _, j := range p.Jobs {
			if j.Status == domain.StatusPending {
				insert = insert.Values(jobValues(p.Date, j)...)
			}
		}
		if _, err := exec(ctx, tx, insert); err != nil {
			return conflict(err, "writing pending jobs of %s", p.Date)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func bumpPlanVersion(ctx context.Context, tx *sqlx.Tx, p *domain.Plan) error {
	if p.Version == 0 {
		_, err := exec(ctx, tx, sq.Insert("plans").
			Columns("date", "version", "created_at", "updated_at").
			Values(p.Date, 1, formatTime(p.CreatedAt), formatTime(p.UpdatedAt)))
		if err != nil {
			return conflict(err, "creating plan %s", p.Date)
		}
		return nil
	}

	n, err := exec(ctx, tx, sq.Update("plans").
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", formatTime(p.UpdatedAt)).
		Where(sq.Eq{"date": p.Date, "version": p.Version}))
	if err != nil {
		return fmt.Errorf("updating plan %s: %w", p.Date, err)
	}
	if n == 0 {
		return fmt.Errorf("plan %s is no longer at version %d: %w", p.Date, p.Version, store.ErrConflict)
	}
	return nil
}

// UpdateJob writes job only if the stored row at its position still has the
// same id and the expected status.
func (db *DB) UpdateJob(ctx context.Context, date string, job domain.Job, expected domain.Status) (bool, error) {
	n, err := exec(ctx, db.conn, sq.Update("jobs").
		SetMap(map[string]any{
			"status":       string(job.Status),
			"started_at":   formatTimePtr(job.StartedAt),
			"completed_at": formatTimePtr(job.CompletedAt),
			"error":        job.Error,
			"article_id":   job.ArticleID,
			"retry_count":  job.RetryCount,
		}).
		Where(sq.Eq{
			"plan_date": date,
			"position":  job.Position,
			"id":        job.ID,
			"status":    string(expected),
		}))
	if err != nil {
		return false, fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	return n == 1, nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// QuotaCounts returns the current counters of a day and a month bucket.
// Missing buckets count as zero.
func (db *DB) QuotaCounts(ctx context.Context, dayBucket, monthBucket string) (int, int, error) {
	query, args, err := sq.Select("bucket", "count").From("quota_buckets").
		Where(sq.Eq{"bucket": []string{dayBucket, monthBucket}}).
		ToSql()
	if err != nil {
		return 0, 0, err
	}
	var rows []struct {
		Bucket string `db:"bucket"`
		Count  int    `db:"count"`
	}
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return 0, 0, fmt.Errorf("reading quota buckets: %w", err)
	}
	var day, month int
	for _, r := range rows {
		switch r.Bucket {
		case dayBucket:
			day = r.Count
		case monthBucket:
			month = r.Count
		}
	}
	return day, month, nil
}

// IncrementQuota bumps both buckets by one inside a single transaction, each
// through a conditional update that only matches below its ceiling. If either
// update matches nothing the transaction rolls back and false is returned.
func (db *DB) IncrementQuota(ctx context.Context, dayBucket string, dayLimit int, monthBucket string, monthLimit int, now time.Time) (bool, error) {
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, b := range []struct {
			bucket string
			limit  int
		}{{dayBucket, dayLimit}, {monthBucket, monthLimit}} {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO quota_buckets (bucket, count, updated_at) VALUES (?, 0, ?)",
				b.bucket, formatTime(now)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b.bucket, err)
			}
			n, err := exec(ctx, tx, sq.Update("quota_buckets").
				Set("count", sq.Expr("count + 1")).
				Set("updated_at", formatTime(now)).
				Where(sq.Eq{"bucket": b.bucket}).
				Where(sq.Lt{"count": b.limit}))
			if err != nil {
				return fmt.Errorf("incrementing bucket %s: %w", b.bucket, err)
			}
			if n == 0 {
				return errCeiling
			}
		}
		return nil
	})
	if errors.Is(err, errCeiling) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var errCeiling = errors.New("bucket at ceiling")

// PruneQuota deletes day buckets keyed before dayBefore and month buckets
// keyed before monthBefore.
func (db *DB) PruneQuota(ctx context.Context, dayBefore, monthBefore string) (int64, error) {
	n, err := exec(ctx, db.conn, sq.Delete("quota_buckets").Where(sq.Or{
		sq.And{sq.Like{"bucket": "day:%"}, sq.Lt{"bucket": dayBefore}},
		sq.And{sq.Like{"bucket": "month:%"}, sq.Lt{"bucket": monthBefore}},
	}))
	if err != nil {
		return 0, fmt.Errorf("pruning quota buckets: %w", err)
	}
	return n, nil
}

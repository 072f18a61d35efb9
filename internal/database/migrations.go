package database

import "github.com/jmoiron/sqlx"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sqlx.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sqlx.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS trends (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    search_volume INTEGER NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    news_links TEXT NOT NULL DEFAULT '[]',
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    article_generated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS plans (
    date TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    plan_date TEXT NOT NULL REFERENCES plans(date),
    position INTEGER NOT NULL CHECK(position > 0),
    id TEXT NOT NULL UNIQUE,
    trend_id TEXT NOT NULL,
    trend_title TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    search_volume INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('pending', 'generating', 'quality_check', 'completed', 'rejected', 'failed')),
    scheduled_at TEXT NOT NULL,
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    error TEXT,
    article_id TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (plan_date, position),
    UNIQUE (plan_date, trend_id)
);

CREATE TABLE IF NOT EXISTS quota_buckets (
    bucket TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_state (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    running INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    last_tick_at TEXT,
    last_outcome TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trends_last_seen ON trends(last_seen);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(plan_date, status);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "generated articles",
		Up: func(tx *sqlx.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    trend_id TEXT NOT NULL,
    title TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    category TEXT NOT NULL DEFAULT '',
    body_markdown TEXT NOT NULL,
    body_html TEXT NOT NULL,
    quality_score REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// Package scheduler drives the daily generation plan: on every tick it makes
// sure today's plan exists, recovers stale jobs, and runs at most one due
// job through generation.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/TobiSchelling/trendpress/internal/calendar"
	"github.com/TobiSchelling/trendpress/internal/collect"
	"github.com/TobiSchelling/trendpress/internal/dedup"
	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/generate"
	"github.com/TobiSchelling/trendpress/internal/jobs"
	"github.com/TobiSchelling/trendpress/internal/plan"
	"github.com/TobiSchelling/trendpress/internal/publish"
	"github.com/TobiSchelling/trendpress/internal/quota"
	"github.com/TobiSchelling/trendpress/internal/runstate"
	"github.com/TobiSchelling/trendpress/internal/store"
)

var (
	// ErrInvalidPosition is returned for a position that is not in the plan.
	ErrInvalidPosition = errors.New("invalid job position")

	// ErrNotResettable is returned when a job's status has no reset edge.
	ErrNotResettable = errors.New("job cannot be reset")

	// ErrNoPlan is returned by operations that need today's plan when none
	// exists yet.
	ErrNoPlan = errors.New("no plan for today")
)

// Outcome is the result of a tick.
type Outcome string

const (
	OutcomeProcessed       Outcome = "processed"
	OutcomeNoJobDue        Outcome = "no_job_due"
	OutcomeOutsideHours    Outcome = "outside_active_hours"
	OutcomeQuotaExhausted  Outcome = "quota_exhausted"
	OutcomeClaimLost       Outcome = "claim_lost"
	OutcomePlanUnavailable Outcome = "plan_unavailable"
	OutcomeError           Outcome = "error"
)

// Service is the control surface of the scheduler.
type Service interface {
	Tick(ctx context.Context) TickStatus
	ProcessNext(ctx context.Context) TickStatus
	Refresh(ctx context.Context) (RefreshResult, error)
	ResetFailedJobs(ctx context.Context) (ResetResult, error)
	ResetStuckJob(ctx context.Context, position int) (*domain.Job, error)
	Status(ctx context.Context) (*StatusReport, error)
	Cleanup(ctx context.Context) (CleanupResult, error)
}

// TickStatus describes what one tick did. Ticks never return errors; any
// failure is reported through Outcome and Error.
type TickStatus struct {
	Date      string        `json:"date"`
	At        time.Time     `json:"at"`
	Outcome   Outcome       `json:"outcome"`
	Position  int           `json:"position,omitempty"`
	JobID     string        `json:"job_id,omitempty"`
	JobStatus domain.Status `json:"job_status,omitempty"`
	ArticleID string        `json:"article_id,omitempty"`
	Recovered int           `json:"recovered"`
	Retried   int           `json:"retried"`
	Plan      *plan.Report  `json:"plan,omitempty"`
	Degraded  bool          `json:"degraded"`
	Error     string        `json:"error,omitempty"`
}

// RefreshResult reports an import and plan refresh.
type RefreshResult struct {
	Date     string                `json:"date"`
	Import   *collect.ImportResult `json:"import,omitempty"`
	Plan     *plan.Report          `json:"plan,omitempty"`
	Skipped  bool                  `json:"skipped"`
	Reason   string                `json:"reason,omitempty"`
	Degraded bool                  `json:"degraded"`
}

// ResetResult reports a bulk reset of failed jobs.
type ResetResult struct {
	Date      string `json:"date"`
	Reset     []int  `json:"reset"`
	Exhausted []int  `json:"exhausted"`
}

// CleanupResult reports retention cleanup.
type CleanupResult struct {
	TrendsDeleted       int64 `json:"trends_deleted"`
	QuotaBucketsDeleted int64 `json:"quota_buckets_deleted"`
}

// StatusReport is a snapshot of the scheduler for operators.
type StatusReport struct {
	Date        string                `json:"date"`
	Now         time.Time             `json:"now"`
	ActiveHours bool                  `json:"active_hours"`
	CurrentSlot int                   `json:"current_slot"`
	Plan        *domain.Plan          `json:"plan,omitempty"`
	Counts      map[domain.Status]int `json:"counts"`
	NextDue     *domain.Job           `json:"next_due,omitempty"`
	Quota       *domain.QuotaUsage    `json:"quota,omitempty"`
	RunState    *domain.RunState      `json:"run_state,omitempty"`
	Degraded    bool                  `json:"degraded"`
}

// Config holds scheduling parameters.
type Config struct {
	Slots             int
	StaleAfter        time.Duration
	MaxRetries        int
	AutoRetry         bool
	AutoRetryPerTick  int
	SupplyWindow      time.Duration
	TrendRetention    time.Duration
	RecentTitleWindow time.Duration
	RecentTitleLimit  int
}

// DefaultConfig returns the default scheduling parameters.
func DefaultConfig() Config {
	return Config{
		Slots:             24,
		StaleAfter:        10 * time.Minute,
		MaxRetries:        jobs.DefaultMaxRetries,
		AutoRetryPerTick:  1,
		SupplyWindow:      48 * time.Hour,
		TrendRetention:    30 * 24 * time.Hour,
		RecentTitleWindow: 7 * 24 * time.Hour,
		RecentTitleLimit:  200,
	}
}

// Deps are the collaborators of a Scheduler. Importer, Researcher,
// Publisher and Runs are optional.
type Deps struct {
	Calendar   *calendar.Calendar
	Store      store.Gateway
	Quota      *quota.Governor
	Dedup      *dedup.Deduplicator
	Importer   *collect.Importer
	Researcher *generate.Researcher
	Generator  generate.Generator
	Checker    *generate.Checker
	Publisher  publish.Publisher
	Runs       *runstate.Tracker
}

// Scheduler implements Service.
type Scheduler struct {
	cfg        Config
	cal        *calendar.Calendar
	store      store.Gateway
	quota      *quota.Governor
	dedup      *dedup.Deduplicator
	builder    *plan.Builder
	importer   *collect.Importer
	researcher *generate.Researcher
	generator  generate.Generator
	checker    *generate.Checker
	publisher  publish.Publisher
	runs       *runstate.Tracker
	now        func() time.Time
	newID      func() string
}

var _ Service = (*Scheduler)(nil)

// New creates a Scheduler. Zero config fields take their defaults.
func New(d Deps, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Slots <= 0 {
		cfg.Slots = def.Slots
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.AutoRetryPerTick <= 0 {
		cfg.AutoRetryPerTick = def.AutoRetryPerTick
	}
	if cfg.SupplyWindow <= 0 {
		cfg.SupplyWindow = def.SupplyWindow
	}
	if cfg.TrendRetention <= 0 {
		cfg.TrendRetention = def.TrendRetention
	}
	if cfg.RecentTitleWindow <= 0 {
		cfg.RecentTitleWindow = def.RecentTitleWindow
	}
	if cfg.RecentTitleLimit <= 0 {
		cfg.RecentTitleLimit = def.RecentTitleLimit
	}
	if d.Dedup == nil {
		d.Dedup = dedup.New(dedup.DefaultThreshold)
	}
	if d.Checker == nil {
		d.Checker = generate.NewChecker(generate.DefaultMinScore, generate.DefaultMinWords, dedup.DefaultThreshold)
	}
	if d.Publisher == nil {
		d.Publisher = publish.Noop{}
	}
	return &Scheduler{
		cfg:        cfg,
		cal:        d.Calendar,
		store:      d.Store,
		quota:      d.Quota,
		dedup:      d.Dedup,
		builder:    plan.NewBuilder(d.Calendar, d.Dedup),
		importer:   d.Importer,
		researcher: d.Researcher,
		generator:  d.Generator,
		checker:    d.Checker,
		publisher:  d.Publisher,
		runs:       d.Runs,
		now:        time.Now,
		newID:      newArticleID,
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

type degradedReporter interface {
	Degraded() bool
}

func (s *Scheduler) degraded() bool {
	d, ok := s.store.(degradedReporter)
	return ok && d.Degraded()
}

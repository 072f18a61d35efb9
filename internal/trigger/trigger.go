// Package trigger drives the scheduler from cron expressions.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/runstate"
	"github.com/TobiSchelling/trendpress/internal/scheduler"
)

// Job names.
const (
	JobTick    = "tick"
	JobRefresh = "refresh"
	JobCleanup = "cleanup"
)

// Specs holds the cron expressions for each job. An empty spec disables
// that job.
type Specs struct {
	Tick    string
	Refresh string
	Cleanup string
}

// DefaultSpecs ticks every five minutes, imports six times a day and cleans
// up once a night.
var DefaultSpecs = Specs{
	Tick:    "*/5 * * * *",
	Refresh: "0 6,9,12,15,18,21 * * *",
	Cleanup: "30 3 * * *",
}

// Runner owns the cron loop.
type Runner struct {
	cron *cron.Cron
	svc  scheduler.Service
	runs *runstate.Tracker
	ids  map[string]cron.EntryID
	now  func() time.Time

	mu  sync.Mutex
	ctx context.Context
}

// New registers the configured jobs. Overlapping runs of the same job are
// skipped rather than queued. runs may be nil.
func New(svc scheduler.Service, runs *runstate.Tracker, specs Specs, loc *time.Location) (*Runner, error) {
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{}
	r := &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		svc:  svc,
		runs: runs,
		ids:  make(map[string]cron.EntryID),
		now:  time.Now,
		ctx:  context.Background(),
	}

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{JobTick, specs.Tick, r.tick},
		{JobRefresh, specs.Refresh, r.refresh},
		{JobCleanup, specs.Cleanup, r.cleanup},
	}
	for _, j := range jobs {
		if j.spec == "" {
			log.Info().Str("job", j.name).Msg("Cron job disabled")
			continue
		}
		fn := j.fn
		id, err := r.cron.AddFunc(j.spec, func() { fn(r.context()) })
		if err != nil {
			return nil, fmt.Errorf("adding %s job %q: %w", j.name, j.spec, err)
		}
		r.ids[j.name] = id
	}
	return r, nil
}

// Start launches the cron loop and records the run state. Jobs run with ctx.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	if r.runs != nil {
		if err := r.runs.MarkStarted(ctx, r.now()); err != nil {
			log.Warn().Err(err).Msg("Recording scheduler start failed")
		}
	}
	r.cron.Start()
	for name, id := range r.ids {
		log.Info().Str("job", name).Time("next", r.cron.Entry(id).Next).Msg("Cron job scheduled")
	}
}

// Stop halts the loop, waits for running jobs and records the stop.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for running cron jobs")
	}
	if r.runs != nil {
		if err := r.runs.MarkStopped(context.WithoutCancel(ctx), r.now()); err != nil {
			log.Warn().Err(err).Msg("Recording scheduler stop failed")
		}
	}
}

// Job returns the wrapped job registered under name.
func (r *Runner) Job(name string) (cron.Job, bool) {
	id, ok := r.ids[name]
	if !ok {
		return nil, false
	}
	e := r.cron.Entry(id)
	return e.WrappedJob, e.Valid()
}

func (r *Runner) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func (r *Runner) tick(ctx context.Context) {
	st := r.svc.Tick(ctx)
	ev := log.Info()
	if st.Outcome == scheduler.OutcomeError || st.Outcome == scheduler.OutcomePlanUnavailable {
		ev = log.Error()
	}
	ev.Str("date", st.Date).
		Str("outcome", string(st.Outcome)).
		Int("position", st.Position).
		Str("job_id", st.JobID).
		Bool("degraded", st.Degraded).
		Str("error", st.Error).
		Msg("Tick finished")
}

func (r *Runner) refresh(ctx context.Context) {
	res, err := r.svc.Refresh(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled refresh failed")
		return
	}
	ev := log.Info().Str("date", res.Date).Bool("skipped", res.Skipped).Str("reason", res.Reason)
	if res.Plan != nil {
		ev = ev.Int("planned", res.Plan.Planned).Int("added", res.Plan.Added)
	}
	ev.Msg("Scheduled refresh finished")
}

func (r *Runner) cleanup(ctx context.Context) {
	res, err := r.svc.Cleanup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled cleanup failed")
		return
	}
	log.Info().
		Int64("trends_deleted", res.TrendsDeleted).
		Int64("quota_buckets_deleted", res.QuotaBucketsDeleted).
		Msg("Scheduled cleanup finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

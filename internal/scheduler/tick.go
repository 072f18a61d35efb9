package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/generate"
	"github.com/TobiSchelling/trendpress/internal/jobs"
)

func newArticleID() string {
	return uuid.NewString()
}

// Tick runs one scheduling step: ensure today's plan, recover stale jobs,
// then process the due job if active hours and quota allow.
func (s *Scheduler) Tick(ctx context.Context) TickStatus {
	return s.run(ctx, false)
}

// ProcessNext processes the lowest pending position now, ignoring active
// hours and slot times. The quota ceiling still applies.
func (s *Scheduler) ProcessNext(ctx context.Context) TickStatus {
	return s.run(ctx, true)
}

func (s *Scheduler) run(ctx context.Context, force bool) (st TickStatus) {
	now := s.now()
	st = TickStatus{Date: s.cal.Today(now), At: now}
	defer func() {
		st.Degraded = s.degraded()
		s.recordTick(ctx, now, &st)
	}()

	p, rep, err := s.ensurePlan(ctx, st.Date, now)
	if err != nil {
		log.Error().Err(err).Str("date", st.Date).Msg("No plan available")
		st.Outcome = OutcomePlanUnavailable
		st.Error = err.Error()
		return st
	}
	st.Plan = rep

	st.Recovered = s.sweep(ctx, p, now)
	yesterday, err := s.store.GetPlan(ctx, s.cal.Yesterday(now))
	if err != nil {
		log.Warn().Err(err).Msg("Loading yesterday's plan failed")
	} else if yesterday != nil {
		st.Recovered += s.sweep(ctx, yesterday, now)
	}
	if s.cfg.AutoRetry {
		st.Retried = s.autoRetry(ctx, p)
	}

	if !force && !s.cal.IsWithinActiveHours(now) {
		st.Outcome = OutcomeOutsideHours
		return st
	}
	if s.quota != nil && !s.quota.CanCall(ctx, now) {
		st.Outcome = OutcomeQuotaExhausted
		return st
	}

	date, job := s.pick(p, yesterday, now, force)
	if job == nil {
		st.Outcome = OutcomeNoJobDue
		return st
	}
	s.process(ctx, date, *job, &st)
	return st
}

// pick selects the job to run and the date of its plan. Today's due jobs
// come first; otherwise a pending job from yesterday whose slot wrapped into
// today and is due.
func (s *Scheduler) pick(today, yesterday *domain.Plan, now time.Time, force bool) (string, *domain.Job) {
	if force {
		return today.Date, jobs.NextPending(today)
	}
	if j := jobs.DueJob(today, now); j != nil {
		return today.Date, j
	}
	if yesterday == nil {
		return "", nil
	}
	date := today.Date
	var due *domain.Job
	for i := range yesterday.Jobs {
		j := &yesterday.Jobs[i]
		if j.Status != domain.StatusPending || j.ScheduledAt.After(now) || s.cal.Today(j.ScheduledAt) != date {
			continue
		}
		if due == nil || j.ScheduledAt.Before(due.ScheduledAt) {
			due = j
		}
	}
	return yesterday.Date, due
}

// process claims job and carries it through generation. Every failure after
// the claim ends in a terminal job state.
func (s *Scheduler) process(ctx context.Context, date string, job domain.Job, st *TickStatus) {
	st.Position, st.JobID = job.Position, job.ID
	logger := log.With().Str("date", date).Int("position", job.Position).Str("job_id", job.ID).Logger()

	claimed := job.Clone()
	if err := jobs.Start(&claimed, s.now()); err != nil {
		st.Outcome, st.Error = OutcomeError, err.Error()
		return
	}
	ok, err := s.store.UpdateJob(ctx, date, claimed, domain.StatusPending)
	if err != nil {
		logger.Error().Err(err).Msg("Claiming job failed")
		st.Outcome, st.Error = OutcomeError, err.Error()
		return
	}
	if !ok {
		logger.Info().Msg("Job already claimed")
		st.Outcome = OutcomeClaimLost
		return
	}
	logger.Info().Str("trend", claimed.TrendTitle).Msg("Generating article")

	final, articleID, err := s.generateArticle(ctx, date, &claimed)
	st.JobStatus = final
	st.ArticleID = articleID
	if err != nil {
		st.Error = err.Error()
		switch {
		case errors.Is(err, errJobMoved):
			logger.Warn().Err(err).Msg("Job moved during generation")
			st.Outcome = OutcomeClaimLost
			return
		case !final.Terminal():
			logger.Error().Err(err).Str("status", string(final)).Msg("Persisting job failed")
			st.Outcome = OutcomeError
			return
		}
	}
	st.Outcome = OutcomeProcessed
	logger.Info().Str("status", string(final)).Msg("Job finished")
}

var errJobMoved = errors.New("job changed by another writer during generation")

// generateArticle runs the generating→terminal part of the lifecycle for a
// claimed job and persists each transition.
func (s *Scheduler) generateArticle(ctx context.Context, date string, j *domain.Job) (domain.Status, string, error) {
	if s.generator == nil {
		return s.fail(ctx, date, j, errors.New("no content generator configured"))
	}

	trend := s.lookupTrend(ctx, j)
	topic := s.researcher.Research(ctx, trend, s.now())
	draft, err := s.generator.Generate(ctx, topic)
	if err != nil {
		return s.fail(ctx, date, j, err)
	}
	if draft == nil {
		return s.fail(ctx, date, j, generate.ErrEmptyDraft)
	}

	if err := jobs.SubmitDraft(j); err != nil {
		return j.Status, "", err
	}
	if err := s.persist(ctx, date, *j, domain.StatusGenerating); err != nil {
		return domain.StatusGenerating, "", err
	}

	titles, err := s.store.RecentArticleTitles(ctx, s.now().Add(-s.cfg.RecentTitleWindow), s.cfg.RecentTitleLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Loading recent article titles failed")
	}
	if cerr := s.checker.Check(draft, titles); cerr != nil {
		return s.reject(ctx, date, j, cerr.Error())
	}

	if draft.BodyHTML == "" {
		html, err := generate.NewRenderer().Render(draft.BodyMarkdown)
		if err != nil {
			return s.reject(ctx, date, j, err.Error())
		}
		draft.BodyHTML = html
	}

	now := s.now()
	id := s.newID()
	article := &domain.Article{
		ID:           id,
		JobID:        j.ID,
		TrendID:      j.TrendID,
		Title:        draft.Title,
		Slug:         generate.Slugify(draft.Title, id),
		Category:     j.Category,
		BodyMarkdown: draft.BodyMarkdown,
		BodyHTML:     draft.BodyHTML,
		QualityScore: draft.QualityScore,
		CreatedAt:    now,
	}
	if err := s.store.SaveArticle(ctx, article); err != nil {
		return s.reject(ctx, date, j, fmt.Sprintf("storing article: %v", err))
	}
	if err := jobs.Complete(j, article.ID, now); err != nil {
		return j.Status, "", err
	}
	if err := s.persist(ctx, date, *j, domain.StatusQualityCheck); err != nil {
		return domain.StatusQualityCheck, "", err
	}

	if err := s.store.MarkTrendGenerated(ctx, j.TrendID); err != nil {
		log.Warn().Err(err).Str("trend_id", j.TrendID).Msg("Marking trend generated failed")
	}
	if err := s.publisher.PublishArticle(ctx, article); err != nil {
		log.Warn().Err(err).Str("article_id", article.ID).Msg("Publishing article event failed")
	}
	return j.Status, article.ID, nil
}

func (s *Scheduler) fail(ctx context.Context, date string, j *domain.Job, cause error) (domain.Status, string, error) {
	log.Warn().Err(cause).Str("job_id", j.ID).Msg("Generation failed")
	if err := jobs.Fail(j, cause, s.now()); err != nil {
		return j.Status, "", err
	}
	if err := s.persist(ctx, date, *j, domain.StatusGenerating); err != nil {
		return domain.StatusGenerating, "", err
	}
	return j.Status, "", cause
}

func (s *Scheduler) reject(ctx context.Context, date string, j *domain.Job, reason string) (domain.Status, string, error) {
	log.Info().Str("job_id", j.ID).Str("reason", reason).Msg("Draft rejected")
	if err := jobs.Reject(j, reason, s.now()); err != nil {
		return j.Status, "", err
	}
	if err := s.persist(ctx, date, *j, domain.StatusQualityCheck); err != nil {
		return domain.StatusQualityCheck, "", err
	}
	return j.Status, "", nil
}

// persist writes j if its stored status is still expected.
func (s *Scheduler) persist(ctx context.Context, date string, j domain.Job, expected domain.Status) error {
	ok, err := s.store.UpdateJob(ctx, date, j, expected)
	if err != nil {
		return fmt.Errorf("persisting job %s: %w", j.ID, err)
	}
	if !ok {
		return fmt.Errorf("persisting job %s as %s: %w", j.ID, j.Status, errJobMoved)
	}
	return nil
}

// lookupTrend returns the stored trend behind j, falling back to the job's
// snapshot.
func (s *Scheduler) lookupTrend(ctx context.Context, j *domain.Job) domain.Trend {
	t, err := s.store.GetTrend(ctx, j.TrendID)
	if err != nil {
		log.Warn().Err(err).Str("trend_id", j.TrendID).Msg("Loading trend failed, using job snapshot")
	}
	if t == nil {
		return j.Trend()
	}
	return *t
}

func (s *Scheduler) recordTick(ctx context.Context, now time.Time, st *TickStatus) {
	if s.runs == nil {
		return
	}
	if err := s.runs.MarkTick(ctx, now, string(st.Outcome)); err != nil {
		log.Warn().Err(err).Msg("Recording tick failed")
	}
}

// Package jobs implements the generation job lifecycle: the transition table,
// retry accounting, due-job selection and the stale-job sweep.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// DefaultMaxRetries caps failed→pending resets per job.
const DefaultMaxRetries = 2

var (
	// ErrIllegalTransition is returned for any edge not in the transition
	// table. The job is left unchanged.
	ErrIllegalTransition = errors.New("illegal job transition")

	// ErrRetryLimit is returned when resetting a failed job that already
	// used all its retries.
	ErrRetryLimit = errors.New("retry limit reached")
)

var edges = map[domain.Status][]domain.Status{
	domain.StatusPending:      {domain.StatusGenerating},
	domain.StatusGenerating:   {domain.StatusQualityCheck, domain.StatusFailed, domain.StatusPending},
	domain.StatusQualityCheck: {domain.StatusCompleted, domain.StatusRejected},
	domain.StatusFailed:       {domain.StatusPending},
}

// CanTransition reports whether from→to is a defined edge.
func CanTransition(from, to domain.Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(j *domain.Job, to domain.Status) error {
	if !CanTransition(j.Status, to) {
		return illegal(j, to)
	}
	j.Status = to
	return nil
}

func illegal(j *domain.Job, to domain.Status) error {
	log.Warn().
		Str("job_id", j.ID).
		Int("position", j.Position).
		Str("from", string(j.Status)).
		Str("to", string(to)).
		Msg("Rejected job transition")
	return fmt.Errorf("job %s %s->%s: %w", j.ID, j.Status, to, ErrIllegalTransition)
}

// Start claims a pending job for generation.
func Start(j *domain.Job, now time.Time) error {
	if err := transition(j, domain.StatusGenerating); err != nil {
		return err
	}
	j.StartedAt = &now
	j.CompletedAt = nil
	j.Error = nil
	return nil
}

// SubmitDraft moves a generating job into quality check.
func SubmitDraft(j *domain.Job) error {
	return transition(j, domain.StatusQualityCheck)
}

// Complete accepts a checked draft and links the stored article.
func Complete(j *domain.Job, articleID string, now time.Time) error {
	if articleID == "" {
		return fmt.Errorf("completing job %s without article: %w", j.ID, ErrIllegalTransition)
	}
	if err := transition(j, domain.StatusCompleted); err != nil {
		return err
	}
	j.CompletedAt = &now
	j.ArticleID = &articleID
	return nil
}

// Reject discards a checked draft.
func Reject(j *domain.Job, reason string, now time.Time) error {
	if err := transition(j, domain.StatusRejected); err != nil {
		return err
	}
	j.CompletedAt = &now
	if reason != "" {
		j.Error = &reason
	}
	return nil
}

// Fail records a generation failure.
func Fail(j *domain.Job, cause error, now time.Time) error {
	if err := transition(j, domain.StatusFailed); err != nil {
		return err
	}
	msg := "generation failed"
	if cause != nil {
		msg = cause.Error()
	}
	j.Error = &msg
	j.CompletedAt = &now
	return nil
}

// Reset returns a failed job to pending for another attempt.
func Reset(j *domain.Job, maxRetries int) error {
	if j.Status != domain.StatusFailed {
		return illegal(j, domain.StatusPending)
	}
	if j.RetryCount >= maxRetries {
		return fmt.Errorf("job %s used %d of %d retries: %w", j.ID, j.RetryCount, maxRetries, ErrRetryLimit)
	}
	j.Status = domain.StatusPending
	j.RetryCount++
	clearRun(j)
	return nil
}

// Recover returns an abandoned generating job to pending. It does not count
// as a retry.
func Recover(j *domain.Job) error {
	if j.Status != domain.StatusGenerating {
		return illegal(j, domain.StatusPending)
	}
	j.Status = domain.StatusPending
	clearRun(j)
	return nil
}

func clearRun(j *domain.Job) {
	j.StartedAt = nil
	j.CompletedAt = nil
	j.Error = nil
}

// DueJob returns the pending job with the earliest ScheduledAt not after now,
// breaking ties by position. It returns nil when nothing is due.
func DueJob(p *domain.Plan, now time.Time) *domain.Job {
	if p == nil {
		return nil
	}
	var due *domain.Job
	for i := range p.Jobs {
		j := &p.Jobs[i]
		if j.Status != domain.StatusPending || j.ScheduledAt.After(now) {
			continue
		}
		if due == nil || j.ScheduledAt.Before(due.ScheduledAt) {
			due = j
		}
	}
	return due
}

// NextPending returns the pending job with the lowest position regardless of
// schedule, or nil.
func NextPending(p *domain.Plan) *domain.Job {
	if p == nil {
		return nil
	}
	for i := range p.Jobs {
		if p.Jobs[i].Status == domain.StatusPending {
			return &p.Jobs[i]
		}
	}
	return nil
}

// IsStale reports whether a generating job has no start time or started
// longer than staleAfter ago.
func IsStale(j *domain.Job, now time.Time, staleAfter time.Duration) bool {
	if j.Status != domain.StatusGenerating {
		return false
	}
	return j.StartedAt == nil || now.Sub(*j.StartedAt) > staleAfter
}

// Sweep recovers every stale generating job in p and returns the positions
// it reset. Running it again without time passing resets nothing.
func Sweep(p *domain.Plan, now time.Time, staleAfter time.Duration) []int {
	if p == nil {
		return nil
	}
	var reset []int
	for i := range p.Jobs {
		j := &p.Jobs[i]
		if !IsStale(j, now, staleAfter) {
			continue
		}
		if err := Recover(j); err != nil {
			continue
		}
		log.Info().
			Str("date", p.Date).
			Int("position", j.Position).
			Str("job_id", j.ID).
			Msg("Recovered stale job")
		reset = append(reset, j.Position)
	}
	return reset
}

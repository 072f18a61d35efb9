// Package domain holds the records shared by the scheduler, its stores and
// its control surface.
package domain

import "time"

// DateLayout is the calendar-day key format used for plans and quota buckets.
const DateLayout = "2006-01-02"

// Trend is a candidate topic surfaced by the upstream trend feed.
type Trend struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Category         string    `json:"category,omitempty"`
	SearchVolume     int       `json:"search_volume"`
	Source           string    `json:"source"`
	NewsLinks        []string  `json:"news_links,omitempty"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	ArticleGenerated bool      `json:"article_generated"`
}

// Job is one scheduled attempt to turn a trend into an article.
type Job struct {
	ID           string     `json:"id"`
	TrendID      string     `json:"trend_id"`
	TrendTitle   string     `json:"trend_title"`
	Category     string     `json:"category,omitempty"`
	SearchVolume int        `json:"search_volume"`
	Position     int        `json:"position"`
	Status       Status     `json:"status"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	ArticleID    *string    `json:"article_id,omitempty"`
	RetryCount   int        `json:"retry_count"`
}

// Trend returns the job's trend snapshot.
func (j Job) Trend() Trend {
	return Trend{
		ID:           j.TrendID,
		Title:        j.TrendTitle,
		Category:     j.Category,
		SearchVolume: j.SearchVolume,
	}
}

// Plan is the schedule of generation jobs for one calendar day.
type Plan struct {
	Date      string    `json:"date"`
	Jobs      []Job     `json:"jobs"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Jobs = make([]Job, len(p.Jobs))
	for i, j := range p.Jobs {
		c.Jobs[i] = j.Clone()
	}
	return &c
}

// JobAt returns the job at the given position.
func (p *Plan) JobAt(position int) (*Job, bool) {
	for i := range p.Jobs {
		if p.Jobs[i].Position == position {
			return &p.Jobs[i], true
		}
	}
	return nil, false
}

// Counts returns the number of jobs per status.
func (p *Plan) Counts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, j := range p.Jobs {
		counts[j.Status]++
	}
	return counts
}

// Clone returns a copy of the job that shares no pointers with the original.
func (j Job) Clone() Job {
	c := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Error != nil {
		s := *j.Error
		c.Error = &s
	}
	if j.ArticleID != nil {
		s := *j.ArticleID
		c.ArticleID = &s
	}
	return c
}

// QuotaUsage reports upstream call counters for the current day and month.
type QuotaUsage struct {
	Day              string `json:"day"`
	Month            string `json:"month"`
	DailyCount       int    `json:"daily_count"`
	DailyLimit       int    `json:"daily_limit"`
	DailyRemaining   int    `json:"daily_remaining"`
	MonthlyCount     int    `json:"monthly_count"`
	MonthlyLimit     int    `json:"monthly_limit"`
	MonthlyRemaining int    `json:"monthly_remaining"`
}

// Article is a generated article handed to the presentation layer.
type Article struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	TrendID      string    `json:"trend_id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Category     string    `json:"category,omitempty"`
	BodyMarkdown string    `json:"body_markdown"`
	BodyHTML     string    `json:"body_html"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunState is the persisted record of whether the scheduler loop is running.
type RunState struct {
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Source      string     `json:"source,omitempty"`
}

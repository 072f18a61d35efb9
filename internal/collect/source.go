// Package collect pulls trend candidates and related news from upstream
// sources and stores them for the plan builder.
package collect

import (
	"context"
	"errors"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// ErrUpstream marks a failed or unusable upstream response.
var ErrUpstream = errors.New("upstream trend source failed")

// Headline is a news item related to a trend.
type Headline struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Source  string `json:"source,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// TrendSource returns the currently trending topics.
type TrendSource interface {
	Trending(ctx context.Context) ([]domain.Trend, error)
}

// RelatedSource looks up news coverage for a topic.
type RelatedSource interface {
	Related(ctx context.Context, topic string, limit int) ([]Headline, error)
}

// Source is an upstream provider of both trends and related news.
type Source interface {
	TrendSource
	RelatedSource
}

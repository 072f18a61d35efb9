package generate

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/collect"
	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/fetch"
)

// Researcher collects news context for a trend before generation. Context
// is best effort: failures are logged and the topic is returned without it.
type Researcher struct {
	related  collect.RelatedSource
	gate     collect.Gate
	fetcher  *fetch.Fetcher
	maxLinks int
	maxDocs  int
}

// NewResearcher creates a Researcher. related, gate and fetcher may be nil.
// A related lookup is only made when the trend carries no links and the gate
// admits another upstream call.
func NewResearcher(related collect.RelatedSource, gate collect.Gate, fetcher *fetch.Fetcher, maxLinks, maxDocs int) *Researcher {
	return &Researcher{related: related, gate: gate, fetcher: fetcher, maxLinks: maxLinks, maxDocs: maxDocs}
}

// Research builds the generation topic for t.
func (r *Researcher) Research(ctx context.Context, t domain.Trend, now time.Time) Topic {
	topic := Topic{TrendID: t.ID, Title: t.Title, Category: t.Category, SearchVolume: t.SearchVolume}
	if r == nil {
		return topic
	}

	links := t.NewsLinks
	if len(links) == 0 && r.related != nil && r.admit(ctx, now) {
		headlines, err := r.related.Related(ctx, t.Title, r.maxLinks)
		if err != nil {
			log.Warn().Err(err).Str("trend", t.Title).Msg("Related news lookup failed")
		}
		topic.Headlines = headlines
		for _, h := range headlines {
			links = append(links, h.URL)
		}
	}
	if r.maxLinks > 0 && len(links) > r.maxLinks {
		links = links[:r.maxLinks]
	}

	if r.fetcher != nil && len(links) > 0 && r.maxDocs > 0 {
		docs, res := r.fetcher.Gather(ctx, links, r.maxDocs)
		topic.Documents = docs
		log.Debug().Str("trend", t.Title).Int("fetched", res.Fetched).Int("failed", res.Failed).Msg("Gathered context")
	}
	return topic
}

func (r *Researcher) admit(ctx context.Context, now time.Time) bool {
	if r.gate == nil {
		return true
	}
	if !r.gate.CanCall(ctx, now) {
		log.Debug().Msg("Quota exhausted, skipping related news lookup")
		return false
	}
	if err := r.gate.RecordCall(ctx, now); err != nil {
		log.Debug().Err(err).Msg("Quota refused related news lookup")
		return false
	}
	return true
}

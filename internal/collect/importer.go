package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/dedup"
	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/quota"
)

// Reasons reported on a skipped import.
const (
	ReasonQuota    = "quota_exhausted"
	ReasonUpstream = "upstream_error"
	ReasonEmpty    = "empty_response"
)

// Gate admits upstream calls.
type Gate interface {
	CanCall(ctx context.Context, now time.Time) bool
	RecordCall(ctx context.Context, now time.Time) error
}

// TrendStore persists imported trends.
type TrendStore interface {
	UpsertTrends(ctx context.Context, trends []domain.Trend, now time.Time) error
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Fetched   int    `json:"fetched"`
	Stored    int    `json:"stored"`
	FromCache bool   `json:"from_cache"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// Importer fetches the trending batch under the quota and stores it.
type Importer struct {
	source TrendSource
	gate   Gate
	cache  Cache
	store  TrendStore
}

// NewImporter creates an Importer. cache may be nil.
func NewImporter(source TrendSource, gate Gate, cache Cache, store TrendStore) *Importer {
	return &Importer{source: source, gate: gate, cache: cache, store: store}
}

// Import runs one import. When the quota blocks the upstream call the last
// cached batch is stored instead. An upstream failure skips the import and
// returns an error wrapping ErrUpstream.
func (im *Importer) Import(ctx context.Context, now time.Time) (ImportResult, error) {
	if !im.gate.CanCall(ctx, now) {
		return im.fromCache(ctx, now)
	}
	if err := im.gate.RecordCall(ctx, now); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return im.fromCache(ctx, now)
		}
		return ImportResult{Skipped: true, Reason: ReasonQuota}, err
	}

	trends, err := im.source.Trending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Trend import failed, keeping existing data")
		if !errors.Is(err, ErrUpstream) {
			err = fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return ImportResult{Skipped: true, Reason: ReasonUpstream}, err
	}
	if len(trends) == 0 {
		log.Info().Msg("Trend source returned no data")
		return ImportResult{Skipped: true, Reason: ReasonEmpty}, nil
	}

	for i := range trends {
		if trends[i].ID == "" {
			trends[i].ID = dedup.Hash(trends[i].Title)
		}
		trends[i].FirstSeen = now
		trends[i].LastSeen = now
	}
	if im.cache != nil {
		if err := im.cache.Put(ctx, trends); err != nil {
			log.Warn().Err(err).Msg("Caching trend batch failed")
		}
	}
	if err := im.store.UpsertTrends(ctx, trends, now); err != nil {
		return ImportResult{Fetched: len(trends)}, fmt.Errorf("storing trends: %w", err)
	}
	log.Info().Int("count", len(trends)).Msg("Imported trends")
	return ImportResult{Fetched: len(trends), Stored: len(trends)}, nil
}

func (im *Importer) fromCache(ctx context.Context, now time.Time) (ImportResult, error) {
	skipped := ImportResult{Skipped: true, Reason: ReasonQuota}
	if im.cache == nil {
		log.Info().Msg("Quota exhausted and no trend cache configured, skipping import")
		return skipped, nil
	}
	trends, ok, err := im.cache.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Reading trend cache failed")
		return skipped, nil
	}
	if !ok || len(trends) == 0 {
		log.Info().Msg("Quota exhausted and trend cache empty, skipping import")
		return skipped, nil
	}
	if err := im.store.UpsertTrends(ctx, trends, now); err != nil {
		return skipped, fmt.Errorf("storing cached trends: %w", err)
	}
	log.Info().Int("count", len(trends)).Msg("Quota exhausted, stored cached trend batch")
	return ImportResult{Fetched: len(trends), Stored: len(trends), FromCache: true, Reason: ReasonQuota}, nil
}

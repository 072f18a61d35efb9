package generate

import (
	"errors"
	"fmt"

	"github.com/TobiSchelling/trendpress/internal/dedup"
)

// ErrRejected wraps every quality-check rejection.
var ErrRejected = errors.New("draft rejected")

// Defaults for Checker.
const (
	DefaultMinScore = 0.5
	DefaultMinWords = 150
)

// Checker decides whether a draft may be published.
type Checker struct {
	MinScore float64
	MinWords int
	dedup    *dedup.Deduplicator
}

// NewChecker creates a Checker. Titles at or above titleThreshold similarity
// to a recent article title are rejected.
func NewChecker(minScore float64, minWords int, titleThreshold float64) *Checker {
	return &Checker{MinScore: minScore, MinWords: minWords, dedup: dedup.New(titleThreshold)}
}

// Check returns nil when d passes, or an error wrapping ErrRejected with the
// reason.
func (c *Checker) Check(d *Draft, recentTitles []string) error {
	if d.QualityScore < c.MinScore {
		return fmt.Errorf("%w: quality score %.2f below %.2f", ErrRejected, d.QualityScore, c.MinScore)
	}
	if n := d.WordCount(); n < c.MinWords {
		return fmt.Errorf("%w: %d words, need %d", ErrRejected, n, c.MinWords)
	}
	for _, t := range recentTitles {
		if c.dedup.IsDuplicate(d.Title, t) {
			return fmt.Errorf("%w: title too similar to %q", ErrRejected, t)
		}
	}
	return nil
}

// Package dedup filters trend candidates that duplicate already-known trends
// or each other, first by exact normalized-title hash and then by normalized
// Levenshtein similarity.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// DefaultThreshold is the similarity at or above which two titles are
// considered the same story.
const DefaultThreshold = 0.80

// Deduplicator compares trend titles.
type Deduplicator struct {
	Threshold float64
}

// New returns a Deduplicator using threshold, or DefaultThreshold when
// threshold is outside (0, 1].
func New(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{Threshold: threshold}
}

// Normalize lowercases a title, drops punctuation and symbols, and collapses
// whitespace.
func Normalize(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Hash returns the stable identifier for a title: the first 16 hex characters
// of the SHA-256 of its normalized form.
func Hash(title string) string {
	sum := sha256.Sum256([]byte(Normalize(title)))
	return hex.EncodeToString(sum[:])[:16]
}

// Similarity returns 1 - distance/maxLen over the normalized titles, in [0, 1].
func Similarity(a, b string) float64 {
	return similarityNormalized(Normalize(a), Normalize(b))
}

func similarityNormalized(na, nb string) float64 {
	la, lb := len([]rune(na)), len([]rune(nb))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(na, nb))/float64(maxLen)
}

// IsDuplicate reports whether two titles hash equal or are at least
// Threshold similar.
func (d *Deduplicator) IsDuplicate(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	return similarityNormalized(na, nb) >= d.Threshold
}

type entry struct {
	norm string
	hash string
}

func newEntry(title string) entry {
	n := Normalize(title)
	sum := sha256.Sum256([]byte(n))
	return entry{norm: n, hash: hex.EncodeToString(sum[:])[:16]}
}

// FilterNew returns the candidates that duplicate neither a known trend nor a
// higher-traffic candidate in the same batch. Known entries always win.
// Candidates are accepted greedily by descending SearchVolume, ties going to
// the earlier one, so no two returned titles are duplicates of each other.
// Output preserves candidate order.
func (d *Deduplicator) FilterNew(candidates, known []domain.Trend) []domain.Trend {
	knownHashes := make(map[string]bool, len(known))
	knownEntries := make([]entry, 0, len(known))
	for _, k := range known {
		e := newEntry(k.Title)
		knownHashes[e.hash] = true
		knownEntries = append(knownEntries, e)
	}

	entries := make([]entry, len(candidates))
	order := make([]int, len(candidates))
	for i, c := range candidates {
		entries[i] = newEntry(c.Title)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].SearchVolume > candidates[order[b]].SearchVolume
	})

	keep := make([]bool, len(candidates))
	var accepted []int

candidate:
	for _, i := range order {
		e := entries[i]
		if knownHashes[e.hash] {
			continue
		}
		for _, k := range knownEntries {
			if similarityNormalized(e.norm, k.norm) >= d.Threshold {
				continue candidate
			}
		}
		for _, j := range accepted {
			if e.hash == entries[j].hash || similarityNormalized(e.norm, entries[j].norm) >= d.Threshold {
				continue candidate
			}
		}
		keep[i] = true
		accepted = append(accepted, i)
	}

	out := make([]domain.Trend, 0, len(accepted))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

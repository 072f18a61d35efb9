package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

func trend(title string, volume int) domain.Trend {
	return domain.Trend{ID: Hash(title), Title: title, SearchVolume: volume}
}

func titles(ts []domain.Trend) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Taylor Swift", "taylor swift"},
		{"  Taylor   Swift!! ", "taylor swift"},
		{"Sparta–Slavia: 2:1 (derby)", "spartaslavia 21 derby"},
		{"Příliš žluťoučký kůň", "příliš žluťoučký kůň"},
		{"$100 + tax", "100 tax"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestHashStableAcrossFormatting(t *testing.T) {
	h := Hash("Taylor Swift new album")
	assert.Len(t, h, 16)
	assert.Equal(t, h, Hash("taylor swift: NEW album!"))
	assert.NotEqual(t, h, Hash("Taylor Swift new tour"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Taylor Swift", "taylor swift!"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.InDelta(t, 0.8387, Similarity("Weather forecast Prague weekend", "Weather forecast Brno weekend"), 0.001)
	assert.InDelta(t, 0.7586, Similarity("Nobel Prize in Physics 2026", "Nobel Prize in Chemistry 2026"), 0.001)
}

func TestIsDuplicateThreshold(t *testing.T) {
	d := New(DefaultThreshold)
	assert.True(t, d.IsDuplicate("Weather forecast Prague weekend", "Weather forecast Brno weekend"))
	assert.True(t, d.IsDuplicate("Apple iPhone 18 launch event", "Apple iPhone 18 launch date"))
	assert.False(t, d.IsDuplicate("Nobel Prize in Physics 2026", "Nobel Prize in Chemistry 2026"))
	assert.False(t, d.IsDuplicate("Bitcoin price today", "Bitcoin price record"))

	strict := New(0.95)
	assert.False(t, strict.IsDuplicate("Weather forecast Prague weekend", "Weather forecast Brno weekend"))
}

func TestNewFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultThreshold, New(0).Threshold)
	assert.Equal(t, DefaultThreshold, New(1.5).Threshold)
	assert.Equal(t, 0.9, New(0.9).Threshold)
}

func TestFilterNewDropsKnown(t *testing.T) {
	d := New(DefaultThreshold)
	known := []domain.Trend{
		trend("Taylor Swift new album", 5000),
		trend("Weather forecast Prague weekend", 100),
	}
	candidates := []domain.Trend{
		trend("taylor swift: NEW album!", 90000),
		trend("Weather forecast Brno weekend", 80000),
		trend("Bitcoin price today", 10),
	}

	got := d.FilterNew(candidates, known)
	// Known entries win even against a higher-traffic candidate.
	assert.Equal(t, []string{"Bitcoin price today"}, titles(got))
}

func TestFilterNewKeepsHigherTrafficWithinBatch(t *testing.T) {
	d := New(DefaultThreshold)
	candidates := []domain.Trend{
		trend("Apple iPhone 18 launch event", 100),
		trend("Bitcoin price today", 50),
		trend("Apple iPhone 18 launch date", 900),
		trend("Apple iPhone 18 launch event!", 20),
	}

	got := d.FilterNew(candidates, nil)
	assert.Equal(t, []string{"Bitcoin price today", "Apple iPhone 18 launch date"}, titles(got))
}

func TestFilterNewTieKeepsEarlier(t *testing.T) {
	d := New(DefaultThreshold)
	got := d.FilterNew([]domain.Trend{
		trend("Apple iPhone 18 launch event", 100),
		trend("Apple iPhone 18 launch date", 100),
	}, nil)
	assert.Equal(t, []string{"Apple iPhone 18 launch event"}, titles(got))
}

func TestFilterNewOutputHasNoDuplicatePairs(t *testing.T) {
	d := New(DefaultThreshold)
	candidates := []domain.Trend{
		trend("Weather forecast Prague weekend", 10),
		trend("Weather forecast Brno weekend", 30),
		trend("Weather forecast Prague weekend!", 20),
		trend("Nobel Prize in Physics 2026", 40),
		trend("Nobel Prize in Chemistry 2026", 35),
		trend("Bitcoin price today", 5),
		trend("Bitcoin price record", 6),
	}
	got := d.FilterNew(candidates, nil)
	require.NotEmpty(t, got)
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			assert.False(t, d.IsDuplicate(got[i].Title, got[j].Title), "%q and %q", got[i].Title, got[j].Title)
		}
	}
	assert.Contains(t, titles(got), "Weather forecast Brno weekend")
	assert.Contains(t, titles(got), "Nobel Prize in Chemistry 2026")

	// The heaviest title overlaps both lighter ones, which do not overlap
	// each other; only it may survive.
	chain := []domain.Trend{
		trend("abcdefghij", 10),
		trend("abcdefgXYZ", 10),
		trend("abcdefgXij", 100),
	}
	got = d.FilterNew(chain, nil)
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			assert.False(t, d.IsDuplicate(got[i].Title, got[j].Title), "%q and %q", got[i].Title, got[j].Title)
		}
	}
	assert.Equal(t, []string{"abcdefgXij"}, titles(got))
}

func TestFilterNewEmpty(t *testing.T) {
	d := New(DefaultThreshold)
	assert.Empty(t, d.FilterNew(nil, []domain.Trend{trend("x", 1)}))
}

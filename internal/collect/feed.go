package collect

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/dedup"
	"github.com/TobiSchelling/trendpress/internal/domain"
)

const (
	// DefaultTrendsURL is the Google Trends daily RSS feed.
	DefaultTrendsURL = "https://trends.google.com/trending/rss?geo=CZ"
	// DefaultNewsSearchURL is a Google News search feed; %s receives the query.
	DefaultNewsSearchURL = "https://news.google.com/rss/search?q=%s&hl=cs&gl=CZ&ceid=CZ:cs"

	maxPerFeed = 50
	trendsNS   = "ht"
)

// FeedConfig configures a FeedSource.
type FeedConfig struct {
	TrendsURL     string
	NewsSearchURL string
	Name          string
}

// FeedSource reads trends from a Google-Trends style RSS feed and related
// news from a search feed.
type FeedSource struct {
	cfg    FeedConfig
	parser *gofeed.Parser
}

// NewFeedSource creates a FeedSource, filling unset URLs with defaults.
func NewFeedSource(cfg FeedConfig) *FeedSource {
	if cfg.TrendsURL == "" {
		cfg.TrendsURL = DefaultTrendsURL
	}
	if cfg.NewsSearchURL == "" {
		cfg.NewsSearchURL = DefaultNewsSearchURL
	}
	if cfg.Name == "" {
		cfg.Name = extractSourceName(cfg.TrendsURL)
	}
	return &FeedSource{cfg: cfg, parser: gofeed.NewParser()}
}

// Trending parses the trends feed.
func (s *FeedSource) Trending(ctx context.Context) ([]domain.Trend, error) {
	feed, err := s.parser.ParseURLWithContext(s.cfg.TrendsURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrUpstream, s.cfg.TrendsURL, err)
	}
	trends := ParseTrends(feed, s.cfg.Name)
	log.Debug().Int("count", len(trends)).Str("source", s.cfg.Name).Msg("Parsed trends feed")
	return trends, nil
}

// Related searches the news feed for topic.
func (s *FeedSource) Related(ctx context.Context, topic string, limit int) ([]Headline, error) {
	feedURL := fmt.Sprintf(s.cfg.NewsSearchURL, url.QueryEscape(topic))
	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: searching news for %q: %v", ErrUpstream, topic, err)
	}
	var out []Headline
	for _, item := range feed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if h, ok := parseHeadline(item); ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// ParseTrends converts feed items into trends. Items without a title are
// skipped and duplicate titles keep the first occurrence.
func ParseTrends(feed *gofeed.Feed, source string) []domain.Trend {
	seen := make(map[string]bool)
	var trends []domain.Trend
	for _, item := range feed.Items {
		if len(trends) >= maxPerFeed {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		id := dedup.Hash(title)
		if seen[id] {
			continue
		}
		seen[id] = true

		t := domain.Trend{
			ID:           id,
			Title:        title,
			Source:       source,
			SearchVolume: ParseTraffic(extValue(item.Extensions, "approx_traffic")),
		}
		if len(item.Categories) > 0 {
			t.Category = item.Categories[0]
		}
		for _, news := range item.Extensions[trendsNS]["news_item"] {
			if u := childValue(news, "news_item_url"); u != "" {
				t.NewsLinks = append(t.NewsLinks, u)
			}
		}
		trends = append(trends, t)
	}
	return trends
}

// ParseTraffic converts an approximate traffic label such as "20,000+" or
// "2K+" into a number. Unparseable labels yield 0.
func ParseTraffic(label string) int {
	s := strings.TrimSpace(label)
	s = strings.TrimSuffix(s, "+")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}
	mult := 1.0
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		mult, s = 1e3, s[:len(s)-1]
	case "M":
		mult, s = 1e6, s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int(n * mult)
}

func extValue(exts ext.Extensions, name string) string {
	vals := exts[trendsNS][name]
	if len(vals) == 0 {
		return ""
	}
	return vals[0].Value
}

func childValue(e ext.Extension, name string) string {
	vals := e.Children[name]
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0].Value)
}

func parseHeadline(item *gofeed.Item) (Headline, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return Headline{}, false
	}
	h := Headline{URL: link, Title: title, Snippet: stripHTML(item.Description)}
	if item.Author != nil {
		h.Source = item.Author.Name
	}
	if h.Source == "" {
		h.Source = extractSourceName(link)
	}
	return h, true
}

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	s := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'",
	).Replace(b.String())
	return strings.Join(strings.Fields(s), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "news.", "trends.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}
	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

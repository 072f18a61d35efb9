// Package fetch downloads related news pages and extracts their readable
// text as context for article generation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"
)

const (
	userAgent    = "trendpress/1.0 (article generator)"
	maxBodyBytes = 4 << 20
	minTextChars = 100
)

// Document is the readable text of one page.
type Document struct {
	URL   string
	Title string
	Text  string
}

// Result counts the outcome of a Gather call.
type Result struct {
	Fetched int
	Failed  int
	Skipped int
}

// Fetcher extracts article text via HTTP and readability.
type Fetcher struct {
	client   *http.Client
	maxChars int
}

// New creates a Fetcher. maxChars truncates each document; zero keeps all.
func New(timeout time.Duration, maxChars int) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		maxChars: maxChars,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Gather fetches up to limit readable documents from urls in order. A host
// that answers with an HTTP error is not contacted again in the same call.
func (f *Fetcher) Gather(ctx context.Context, urls []string, limit int) ([]Document, Result) {
	var (
		docs   []Document
		res    Result
		failed = make(map[string]bool)
	)
	for _, raw := range urls {
		if limit > 0 && len(docs) >= limit {
			break
		}
		if ctx.Err() != nil {
			break
		}
		host := hostOf(raw)
		if failed[host] {
			res.Skipped++
			continue
		}

		doc, err := f.Fetch(ctx, raw)
		if err != nil {
			res.Failed++
			var he *HTTPError
			if errors.As(err, &he) && host != "" {
				failed[host] = true
			}
			log.Debug().Err(err).Str("url", raw).Msg("Fetching context page failed")
			continue
		}
		if doc == nil {
			res.Failed++
			continue
		}
		docs = append(docs, *doc)
		res.Fetched++
	}
	return docs, res
}

// Fetch downloads one page. It returns a nil Document when the page has no
// extractable text.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Code: resp.StatusCode}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), parsed)
	if err != nil {
		log.Debug().Err(err).Str("url", pageURL).Msg("Readability extraction failed")
		return nil, nil
	}
	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) < minTextChars {
		return nil, nil
	}
	if f.maxChars > 0 && len(text) > f.maxChars {
		text = truncate(text, f.maxChars)
	}
	return &Document{URL: pageURL, Title: strings.TrimSpace(article.Title), Text: text}, nil
}

// HTTPError is returned for 4xx and 5xx responses.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, http.StatusText(e.Code))
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

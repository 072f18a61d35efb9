package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient looks up related coverage through the NewsAPI "everything"
// endpoint.
type NewsAPIClient struct {
	apiKey   string
	baseURL  string
	language string
	daysBack int
	client   *http.Client
}

// NewNewsAPIClient creates a client. An empty baseURL uses the public API.
func NewNewsAPIClient(apiKey, baseURL, language string, daysBack int) *NewsAPIClient {
	if baseURL == "" {
		baseURL = newsAPIBaseURL
	}
	if daysBack <= 0 {
		daysBack = 3
	}
	return &NewsAPIClient{
		apiKey:   apiKey,
		baseURL:  baseURL,
		language: language,
		daysBack: daysBack,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Related searches for articles about topic, most relevant first.
func (c *NewsAPIClient) Related(ctx context.Context, topic string, limit int) ([]Headline, error) {
	if !c.IsConfigured() {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	params := url.Values{
		"q":        {topic},
		"from":     {time.Now().AddDate(0, 0, -c.daysBack).Format("2006-01-02")},
		"pageSize": {strconv.Itoa(limit)},
		"sortBy":   {"relevancy"},
	}
	if c.language != "" {
		params.Set("language", c.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building NewsAPI request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: NewsAPI: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: NewsAPI HTTP %d", ErrUpstream, resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding NewsAPI response: %v", ErrUpstream, err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("%w: NewsAPI status %q: %s", ErrUpstream, result.Status, result.Message)
	}

	var out []Headline
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" || a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		source := a.Source.Name
		if source == "" {
			source = "NewsAPI"
		}
		out = append(out, Headline{
			URL:     a.URL,
			Title:   strings.TrimSpace(a.Title),
			Source:  source,
			Snippet: strings.TrimSpace(a.Description),
		})
	}
	log.Debug().Int("count", len(out)).Str("topic", topic).Msg("Fetched related articles from NewsAPI")
	return out, nil
}

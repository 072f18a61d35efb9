// Package generate turns a trend topic into an article draft with an LLM and
// decides whether the draft is good enough to publish.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/trendpress/internal/collect"
	"github.com/TobiSchelling/trendpress/internal/fetch"
	"github.com/TobiSchelling/trendpress/internal/llm"
)

// ErrEmptyDraft is returned when the model produced no usable article.
var ErrEmptyDraft = errors.New("generator returned an empty draft")

const defaultMaxTokens = 2048

const articlePrompt = `You are a news editor writing a short article for a general audience about a topic that is trending in search right now.

Topic: %s
Category: %s
Approximate search traffic: %d

%s
Write in %s. Stick to facts supported by the context; when the context is thin, explain why people are searching for the topic without inventing details. Use markdown with two or three "##" subheadings. Aim for 350-600 words. Avoid clickbait and marketing language.

Respond with ONLY this JSON:
{
    "title": "A specific, factual headline of 6-12 words",
    "body_markdown": "The article body in markdown, without the headline",
    "quality_score": 0.0
}
Set quality_score between 0 and 1 to reflect how well the context supports the article.`

// Topic is everything the generator knows about a trend.
type Topic struct {
	TrendID      string
	Title        string
	Category     string
	SearchVolume int
	Headlines    []collect.Headline
	Documents    []fetch.Document
}

// Draft is a generated article before it is stored.
type Draft struct {
	Title        string  `json:"title"`
	BodyMarkdown string  `json:"body_markdown"`
	BodyHTML     string  `json:"-"`
	QualityScore float64 `json:"quality_score"`
}

// WordCount returns the number of words in the markdown body.
func (d *Draft) WordCount() int {
	return len(strings.Fields(d.BodyMarkdown))
}

// Generator produces a draft for a topic.
type Generator interface {
	Generate(ctx context.Context, topic Topic) (*Draft, error)
}

// LLMGenerator writes drafts with an llm.Provider.
type LLMGenerator struct {
	provider  llm.Provider
	renderer  *Renderer
	language  string
	maxTokens int
}

// NewLLMGenerator creates an LLMGenerator.
func NewLLMGenerator(provider llm.Provider, language string, maxTokens int) *LLMGenerator {
	if language == "" {
		language = "English"
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &LLMGenerator{provider: provider, renderer: NewRenderer(), language: language, maxTokens: maxTokens}
}

// Generate asks the model for a JSON draft and renders its body to HTML.
func (g *LLMGenerator) Generate(ctx context.Context, topic Topic) (*Draft, error) {
	if g.provider == nil {
		return nil, fmt.Errorf("generating %q: %w", topic.Title, llm.ErrNotConfigured)
	}
	prompt := g.prompt(topic)
	text, err := g.provider.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("generating %q: %w", topic.Title, err)
	}

	var d Draft
	if err := llm.DecodeJSON(text, &d); err != nil {
		return nil, fmt.Errorf("generating %q: %w", topic.Title, err)
	}
	d.Title = strings.TrimSpace(d.Title)
	d.BodyMarkdown = strings.TrimSpace(d.BodyMarkdown)
	if d.Title == "" || d.BodyMarkdown == "" {
		return nil, ErrEmptyDraft
	}
	d.QualityScore = min(max(d.QualityScore, 0), 1)

	html, err := g.renderer.Render(d.BodyMarkdown)
	if err != nil {
		return nil, err
	}
	d.BodyHTML = html
	return &d, nil
}

func (g *LLMGenerator) prompt(t Topic) string {
	category := t.Category
	if category == "" {
		category = "general"
	}
	return fmt.Sprintf(articlePrompt, t.Title, category, t.SearchVolume, formatContext(t), g.language)
}

func formatContext(t Topic) string {
	if len(t.Headlines) == 0 && len(t.Documents) == 0 {
		return "No news context is available.\n"
	}
	var b strings.Builder
	if len(t.Headlines) > 0 {
		b.WriteString("Related headlines:\n")
		for i, h := range t.Headlines {
			fmt.Fprintf(&b, "[%d] %s", i+1, h.Title)
			if h.Source != "" {
				fmt.Fprintf(&b, " (%s)", h.Source)
			}
			if h.Snippet != "" {
				fmt.Fprintf(&b, "\n  %s", h.Snippet)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	for i, d := range t.Documents {
		fmt.Fprintf(&b, "Source article %d: %s\nURL: %s\n%s\n\n", i+1, d.Title, d.URL, d.Text)
	}
	return b.String()
}

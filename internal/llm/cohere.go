package llm

import (
	"context"
	"fmt"
	"net/http"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// CohereProvider generates text with the Cohere chat API.
type CohereProvider struct {
	Model  string
	APIKey string
	client *cohereclient.Client
}

// NewCohereProvider creates a Cohere provider. The client is only built when
// an API key is present.
func NewCohereProvider(model, apiKey string) *CohereProvider {
	p := &CohereProvider{Model: model, APIKey: apiKey}
	if apiKey != "" {
		p.client = cohereclient.NewClient(
			cohereclient.WithToken(apiKey),
			cohereclient.WithHTTPClient(&http.Client{Timeout: defaultTimeout}),
		)
	}
	return p
}

func (c *CohereProvider) Name() string { return "cohere" }

func (c *CohereProvider) IsConfigured() bool {
	return c.client != nil
}

func (c *CohereProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("cohere: %w", ErrNotConfigured)
	}
	temperature := defaultTemperature
	req := &cohere.ChatRequest{
		Message:     prompt,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
	if c.Model != "" {
		req.Model = &c.Model
	}
	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("cohere chat: %w", err)
	}
	return resp.Text, nil
}

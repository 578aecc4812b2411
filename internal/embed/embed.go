// Package embed produces text embeddings through an OpenAI-compatible endpoint.
package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/unpieceof/meemoo/internal/config"
)

// maxInputRunes keeps embedding inputs well under provider token limits.
const maxInputRunes = 6000

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Client struct {
	client      openaigo.Client
	model       string
	expectedDim int
}

// New returns nil when embeddings are disabled or no API key is available;
// callers treat a nil Embedder as "vector search off".
func New(cfg *config.Config) Embedder {
	if cfg == nil || !cfg.Embedding.Enabled {
		return nil
	}
	apiKey := firstNonEmpty(cfg.Embedding.APIKey, openAIKey(cfg))
	if apiKey == "" {
		return nil
	}
	timeout := time.Duration(cfg.Embedding.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = config.DefaultEmbeddingMs * time.Millisecond
	}
	return NewClient(cfg.Embedding.BaseURL, apiKey, cfg.Embedding.Model, cfg.Embedding.Dimension, &http.Client{Timeout: timeout})
}

func NewClient(baseURL, apiKey, model string, dim int, httpClient *http.Client) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(1),
	}
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = config.DefaultEmbeddingModel
	}
	return &Client{
		client:      openaigo.NewClient(opts...),
		model:       model,
		expectedDim: dim,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	if r := []rune(text); len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}

	resp, err := c.client.Embeddings.New(ctx, openaigo.EmbeddingNewParams{
		Model: openaigo.EmbeddingModel(c.model),
		Input: openaigo.EmbeddingNewParamsInputUnion{OfString: openaigo.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}

	raw := resp.Data[0].Embedding
	if c.expectedDim > 0 && len(raw) != c.expectedDim {
		return nil, fmt.Errorf("embed: dimension mismatch: got %d, want %d", len(raw), c.expectedDim)
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// openAIKey reuses the chat provider key only when that provider speaks the OpenAI API.
func openAIKey(cfg *config.Config) string {
	if cfg.Provider.Type == "openai" {
		return cfg.Provider.APIKey
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Package llm adapts agentsdk-go model providers to schema-constrained
// generation and short free-text generation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/unpieceof/meemoo/internal/config"
)

var (
	// ErrTruncated is returned when output hit the token ceiling even after the retry.
	ErrTruncated = errors.New("llm output truncated")
	// ErrNoStructuredOutput is returned when neither a tool call nor a JSON body was produced.
	ErrNoStructuredOutput = errors.New("llm returned no structured output")
)

// Request describes one structured generation. Schema is a JSON Schema object
// sent as the single tool's input schema.
type Request struct {
	Name        string
	Description string
	System      string
	User        string
	Schema      map[string]any
	MaxTokens   int
}

// Generator produces a JSON value conforming to a request schema.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// Texter produces a short free-text reply.
type Texter interface {
	Text(ctx context.Context, system, user string, maxTokens int) (string, error)
}

type Client struct {
	provider  model.Provider
	maxTokens int
}

var (
	_ Generator = (*Client)(nil)
	_ Texter    = (*Client)(nil)
)

// New builds a client on the provider selected by cfg.Provider.Type.
func New(cfg *config.Config) *Client {
	var provider model.Provider
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}
	return NewWithProvider(provider, cfg.Agent.MaxTokens)
}

func NewWithProvider(p model.Provider, maxTokens int) *Client {
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokens
	}
	return &Client{provider: p, maxTokens: maxTokens}
}

// Generate asks the model to call a single tool whose input schema is
// req.Schema and returns the tool arguments. A response cut off at the token
// ceiling is retried once with twice the budget.
func (c *Client) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	mdl, err := c.provider.Model(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	budget := req.MaxTokens
	if budget <= 0 {
		budget = c.maxTokens
	}
	system := strings.TrimSpace(req.System) +
		"\n\nRespond only by calling the `" + req.Name + "` tool exactly once with arguments matching its schema."

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := mdl.Complete(ctx, model.Request{
			System:    system,
			Messages:  []model.Message{{Role: "user", Content: req.User}},
			Tools:     []model.ToolDefinition{{Name: req.Name, Description: req.Description, Parameters: req.Schema}},
			MaxTokens: budget,
		})
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", req.Name, err)
		}
		if resp == nil {
			return nil, fmt.Errorf("generate %s: %w", req.Name, ErrNoStructuredOutput)
		}
		if isTruncated(resp.StopReason) {
			log.Printf("[llm] %s truncated at max_tokens=%d (attempt %d)", req.Name, budget, attempt+1)
			budget *= 2
			continue
		}
		out, err := structuredOutput(resp.Message, req.Name)
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", req.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("generate %s: %w", req.Name, ErrTruncated)
}

// Text returns the first non-empty line of a plain completion.
func (c *Client) Text(ctx context.Context, system, user string, maxTokens int) (string, error) {
	mdl, err := c.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve model: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	resp, err := mdl.Complete(ctx, model.Request{
		System:    system,
		Messages:  []model.Message{{Role: "user", Content: user}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("text: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("text: empty response")
	}
	for _, line := range strings.Split(resp.Message.TextContent(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("text: empty response")
}

func isTruncated(stopReason string) bool {
	switch strings.ToLower(strings.TrimSpace(stopReason)) {
	case "max_tokens", "length":
		return true
	}
	return false
}

// structuredOutput prefers the named tool call and falls back to a JSON
// object in the text body, with markdown fences removed.
func structuredOutput(msg model.Message, name string) (json.RawMessage, error) {
	var call *model.ToolCall
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].Name == name {
			call = &msg.ToolCalls[i]
			break
		}
	}
	if call == nil && len(msg.ToolCalls) > 0 {
		call = &msg.ToolCalls[0]
	}
	if call != nil && call.Arguments != nil {
		// Arguments that failed to parse arrive as {"raw": "<text>"}.
		if raw, ok := call.Arguments["raw"].(string); ok && len(call.Arguments) == 1 {
			if body := jsonFromText(raw); body != nil {
				return body, nil
			}
		} else {
			data, err := json.Marshal(call.Arguments)
			if err != nil {
				return nil, fmt.Errorf("marshal tool arguments: %w", err)
			}
			return data, nil
		}
	}

	if body := jsonFromText(msg.TextContent()); body != nil {
		return body, nil
	}
	return nil, ErrNoStructuredOutput
}

func jsonFromText(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			text = rest
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil
	}
	return json.RawMessage(candidate)
}

package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/latticecode/semindex/internal/config"
)

// AnthropicProvider wraps the Messages API for a single completion call.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate sends messages as one request: the system message (if any)
// becomes the system prompt, and every other message becomes a user turn.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(p.model),
		MaxTokens: anthropic.F(p.maxTokens),
		Messages:  anthropic.F(turns),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(system)})
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: anthropic generate: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			out += block.Text
		}
	}
	return out, nil
}

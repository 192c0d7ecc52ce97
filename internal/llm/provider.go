// Package llm is the optional query-expansion client search_directory uses
// (internal/semindex.expandQuery): one non-streaming completion call over a
// short system/user exchange, nothing more. There is no tool-calling or
// multi-turn chat anywhere in this pipeline, so the surface here stays to a
// single Generate call rather than a general-purpose chat client.
package llm

import (
	"context"
	"fmt"

	"github.com/latticecode/semindex/internal/config"
)

// Role distinguishes the instruction message from the query text in the
// two-message exchange expandQuery sends.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of the exchange.
type Message struct {
	Role    Role
	Content string
}

// Provider generates one completion from a short message list.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// NewProvider constructs the provider named by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai", "openai-compatible":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

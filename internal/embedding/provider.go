// Package embedding turns span text into vectors for the vector store:
// Ollama's local /api/embeddings endpoint, or any OpenAI-compatible
// embeddings endpoint.
package embedding

import (
	"context"
	"fmt"

	"github.com/latticecode/semindex/internal/config"
)

// Provider embeds text into fixed-length vectors. Callers that persist a
// vector must match it against Dimension before writing it to the store.
type Provider interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// NewProvider constructs the provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

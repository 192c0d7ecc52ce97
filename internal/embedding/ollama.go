package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticecode/semindex/internal/config"
	"github.com/latticecode/semindex/internal/httpclient"
)

const (
	defaultOllamaBaseURL   = "http://localhost:11434"
	defaultOllamaDimension = 768 // nomic-embed-text
	defaultMaxConcurrency  = 10
)

// OllamaProvider calls a local Ollama server's /api/embeddings endpoint once
// per text, since Ollama has no batch embedding API. Embed fans individual
// EmbedSingle calls out across a bounded pool of goroutines instead.
type OllamaProvider struct {
	baseURL        string
	model          string
	dimension      int
	maxConcurrency int
	client         *http.Client
}

func NewOllamaProvider(cfg config.EmbeddingConfig) (*OllamaProvider, error) {
	p := &OllamaProvider{
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		dimension:      cfg.Dimension,
		maxConcurrency: cfg.MaxConcurrency,
		client:         httpclient.GetSharedClient(60 * time.Second),
	}
	if p.baseURL == "" {
		p.baseURL = defaultOllamaBaseURL
	}
	if p.dimension <= 0 {
		p.dimension = defaultOllamaDimension
	}
	if p.maxConcurrency <= 0 {
		p.maxConcurrency = defaultMaxConcurrency
	}
	return p, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Dimension() int { return p.dimension }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	payload, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama encode error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embedding error: %s - %s", resp.Status, string(body))
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama decode error: %w", err)
	}
	return decoded.Embedding, nil
}

// Embed runs EmbedSingle per text across up to maxConcurrency goroutines. A
// partial failure still returns whatever embeddings succeeded alongside the
// first error encountered; only a total failure returns a nil slice.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("cannot embed empty text list")
	}

	embeddings := make([][]float32, len(texts))
	failures := make([]error, len(texts))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.maxConcurrency)

	for i, text := range texts {
		i, text := i, text
		group.Go(func() error {
			emb, err := p.EmbedSingle(gctx, text)
			if err != nil {
				failures[i] = err
				return nil
			}
			embeddings[i] = emb
			return nil
		})
	}
	// The goroutines above never return a non-nil error themselves, so
	// group.Wait() can't fail; per-text outcomes live in failures so one slow
	// failure doesn't cancel embeddings already in flight for its siblings.
	_ = group.Wait()

	var firstErr error
	failed := 0
	for i, err := range failures {
		if err == nil {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to embed text %d: %w", i, err)
		}
	}

	switch {
	case failed == 0:
		return embeddings, nil
	case failed == len(texts):
		return nil, firstErr
	default:
		return embeddings, firstErr
	}
}

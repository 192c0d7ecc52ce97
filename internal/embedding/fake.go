package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
)

// FakeProvider is a deterministic, in-process Provider for tests: it derives
// each vector from the text's FNV hash rather than calling out to a model.
// Same text always yields the same vector, and distinct texts yield distinct
// vectors with overwhelming probability, which is all the order-preserving
// neighbour-search tests in this module need.
type FakeProvider struct {
	dimension int
}

func NewFakeProvider(dimension int) *FakeProvider {
	if dimension <= 0 {
		dimension = 8
	}
	return &FakeProvider{dimension: dimension}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) Dimension() int { return p.dimension }

func (p *FakeProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	return deterministicVector(text, p.dimension), nil
}

func (p *FakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("cannot embed empty text list")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// deterministicVector expands a seed hash of text into dimension float32s by
// re-hashing the seed with its own index, so every coordinate varies instead
// of repeating the same few hash bytes.
func deterministicVector(text string, dimension int) []float32 {
	vec := make([]float32, dimension)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	for i := 0; i < dimension; i++ {
		h2 := fnv.New64a()
		fmt.Fprintf(h2, "%d:%d", seed, i)
		v := h2.Sum64()
		vec[i] = float32(v%2000) / 1000.0 - 1.0 // in [-1, 1)
	}
	return vec
}

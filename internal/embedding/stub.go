package embedding

import (
	"hash/fnv"

	"github.com/anthropics/memory-go/pkg/types"
)

// StubEngine produces deterministic unit-length embeddings by hashing the
// input text per dimension. It has no notion of semantics — identical texts
// map to identical vectors and distinct texts to (almost surely) distinct
// ones — which is exactly what tests and model-less deployments need.
type StubEngine struct {
	dim int
}

// NewStubEngine creates a stub engine at the service's standard dimension.
func NewStubEngine() *StubEngine {
	return &StubEngine{dim: types.EmbeddingDim}
}

func (e *StubEngine) Embed(text string) (types.Embedding, error) {
	return e.hashVector(text), nil
}

func (e *StubEngine) EmbedBatch(texts []string) ([]types.Embedding, error) {
	out := make([]types.Embedding, len(texts))
	for i, text := range texts {
		out[i] = e.hashVector(text)
	}
	return out, nil
}

func (e *StubEngine) Dimension() int { return e.dim }

func (e *StubEngine) Provider() string { return "stub" }

func (e *StubEngine) Close() error { return nil }

// hashVector derives one FNV hash per dimension, seeded with the dimension
// index, and maps each to [-1, 1] before normalizing. Empty text yields the
// zero vector.
func (e *StubEngine) hashVector(text string) types.Embedding {
	vec := make(types.Embedding, e.dim)
	if text == "" {
		return vec
	}

	h := fnv.New64a()
	for i := range vec {
		h.Reset()
		h.Write([]byte{byte(i), byte(i >> 8)})
		h.Write([]byte(text))
		vec[i] = float32(int64(h.Sum64())>>32) / float32(1<<31)
	}
	return Normalize(vec)
}

var _ Engine = (*StubEngine)(nil)

// Package embedding generates dense text embeddings for semantic search.
// The production engine runs an ONNX sentence-transformer via hugot; the
// stub engine hashes text deterministically for tests and model-less runs.
package embedding

import (
	"math"

	"github.com/anthropics/memory-go/pkg/types"
)

// Engine turns text into fixed-dimension vectors. Implementations are safe
// for concurrent use.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(text string) (types.Embedding, error)

	// EmbedBatch generates embeddings for multiple texts in one pass.
	EmbedBatch(texts []string) ([]types.Embedding, error)

	// Dimension returns the embedding dimension D, fixed at startup.
	Dimension() int

	// Provider returns the execution provider name (cpu, cuda, stub, ...).
	Provider() string

	// Close releases resources.
	Close() error
}

// Similarity computes the cosine similarity between two embeddings; zero or
// mismatched vectors score 0.
func Similarity(a, b types.Embedding) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize returns e scaled to unit length. The zero vector is returned
// unchanged.
func Normalize(e types.Embedding) types.Embedding {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return e
	}
	norm := float32(math.Sqrt(sum))

	result := make(types.Embedding, len(e))
	for i, v := range e {
		result[i] = v / norm
	}
	return result
}

// MeanPool averages multiple embeddings into one unit-length vector.
func MeanPool(embeddings []types.Embedding) types.Embedding {
	if len(embeddings) == 0 {
		return nil
	}

	result := make(types.Embedding, len(embeddings[0]))
	for _, e := range embeddings {
		for i, v := range e {
			result[i] += v
		}
	}
	n := float32(len(embeddings))
	for i := range result {
		result[i] /= n
	}
	return Normalize(result)
}

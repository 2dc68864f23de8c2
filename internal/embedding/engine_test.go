package embedding

import (
	"math"
	"testing"

	"github.com/anthropics/memory-go/pkg/types"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Embedding
		want float32
	}{
		{"identical", types.Embedding{1, 0, 0}, types.Embedding{1, 0, 0}, 1},
		{"orthogonal", types.Embedding{1, 0, 0}, types.Embedding{0, 1, 0}, 0},
		{"opposite", types.Embedding{1, 0, 0}, types.Embedding{-1, 0, 0}, -1},
		{"scaled", types.Embedding{2, 0, 0}, types.Embedding{5, 0, 0}, 1},
		{"zero vector", types.Embedding{0, 0, 0}, types.Embedding{1, 0, 0}, 0},
		{"length mismatch", types.Embedding{1, 0}, types.Embedding{1, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); !approx(got, tt.want) {
				t.Errorf("Similarity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize(types.Embedding{3, 4})
	if !approx(v[0], 0.6) || !approx(v[1], 0.8) {
		t.Errorf("Normalize(3,4) = %v, want (0.6, 0.8)", v)
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("norm² = %f, want 1", sum)
	}

	zero := Normalize(types.Embedding{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want unchanged zero vector", zero)
	}
}

func TestMeanPool(t *testing.T) {
	pooled := MeanPool([]types.Embedding{
		{1, 0},
		{0, 1},
	})
	// Mean is (0.5, 0.5), normalized to (1/√2, 1/√2).
	want := float32(1 / math.Sqrt2)
	if !approx(pooled[0], want) || !approx(pooled[1], want) {
		t.Errorf("MeanPool = %v, want (%f, %f)", pooled, want, want)
	}

	if MeanPool(nil) != nil {
		t.Error("MeanPool(nil) should be nil")
	}
}

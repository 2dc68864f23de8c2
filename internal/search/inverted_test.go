package search

import (
	"reflect"
	"testing"

	"github.com/anthropics/memory-go/pkg/types"
)

func TestInvertedIndex_AddAndSize(t *testing.T) {
	idx := NewInvertedIndex()

	if idx.Size() != 0 || idx.NodeCount() != 0 {
		t.Fatalf("fresh index: Size=%d NodeCount=%d, want 0/0", idx.Size(), idx.NodeCount())
	}

	idx.Add(1, "hello world")
	idx.Add(2, "hello everyone")
	idx.Add(3, "goodbye world")

	if idx.NodeCount() != 3 {
		t.Errorf("NodeCount() = %d, want 3", idx.NodeCount())
	}
	// hello, world, everyone, goodbye
	if idx.Size() != 4 {
		t.Errorf("Size() = %d, want 4", idx.Size())
	}
}

func TestInvertedIndex_SearchOR(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add(1, "alpha beta")
	idx.Add(2, "beta gamma")
	idx.Add(3, "delta")

	got := idx.SearchOR("alpha gamma")
	want := map[types.NodeID]bool{1: true, 2: true}
	if len(got) != len(want) {
		t.Fatalf("SearchOR returned %v, want ids 1 and 2", got)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected id %d in OR results", id)
		}
	}
}

func TestInvertedIndex_ScoresAccumulateTermFrequency(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add(1, "cache cache cache miss")
	idx.Add(2, "cache hit")
	idx.Add(3, "eviction policy")

	results := idx.SearchWithScores("cache", 10)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].NodeID != 1 {
		t.Errorf("top result = %d, want node 1 (highest term frequency)", results[0].NodeID)
	}
	if results[0].Score != 3 {
		t.Errorf("top score = %f, want raw term count 3", results[0].Score)
	}
	if results[1].Score != 1 {
		t.Errorf("second score = %f, want 1", results[1].Score)
	}
}

func TestInvertedIndex_MultiTokenScoresSum(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add(1, "red green")
	idx.Add(2, "red red")

	results := idx.SearchWithScores("red green", 10)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Both nodes score 2: node 1 has red(1)+green(1), node 2 has red(2).
	for _, r := range results {
		if r.Score != 2 {
			t.Errorf("node %d score = %f, want 2", r.NodeID, r.Score)
		}
	}
}

func TestInvertedIndex_EmptyAndMissing(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add(1, "content")

	if got := idx.SearchWithScores("", 10); got != nil {
		t.Errorf("empty query returned %v, want nil", got)
	}
	if got := idx.SearchWithScores("absent", 10); len(got) != 0 {
		t.Errorf("no-match query returned %d results, want 0", len(got))
	}
}

func TestInvertedIndex_RemoveTombstones(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add(1, "target phrase")
	idx.Add(2, "target other")

	idx.Remove(1)

	for _, r := range idx.SearchWithScores("target", 10) {
		if r.NodeID == 1 {
			t.Error("tombstoned node 1 appeared in results")
		}
	}
	if idx.NodeCount() != 1 {
		t.Errorf("NodeCount() after remove = %d, want 1", idx.NodeCount())
	}
	if idx.Contains("phrase") {
		t.Error("Contains matched only a tombstoned node")
	}
}

func TestInvertedIndex_ReAddReplacesPostings(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add(1, "original words here")
	idx.Add(1, "replacement text")

	if idx.NodeCount() != 1 {
		t.Errorf("NodeCount() = %d, want 1 after re-add", idx.NodeCount())
	}
	if len(idx.SearchWithScores("original", 10)) != 0 {
		t.Error("old tokens still match after re-add")
	}
	if len(idx.SearchWithScores("replacement", 10)) != 1 {
		t.Error("new tokens don't match after re-add")
	}
}

func TestInvertedIndex_MaxResults(t *testing.T) {
	idx := NewInvertedIndex()
	for i := types.NodeID(1); i <= 20; i++ {
		idx.Add(i, "common token")
	}

	if got := idx.SearchWithScores("common", 5); len(got) != 5 {
		t.Errorf("got %d results, want 5 (capped)", len(got))
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello World", []string{"hello", "world"}},
		{"foo_bar baz2", []string{"foo_bar", "baz2"}},
		{"a.b,c", []string{"a", ".", "b", ",", "c"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := tokenize(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

package search

import (
	"strings"
	"sync"
	"unicode"

	"github.com/anthropics/memory-go/pkg/types"
)

// InvertedIndex provides keyword-based search: raw term-count scoring with
// OR semantics (a node matches if it contains ANY query token; its score is
// the sum of term frequencies for the tokens it does contain). There is no
// stop-word filtering, no minimum token length, and no BM25-style length
// normalization — ranking-level normalization happens in the search engine,
// not here.
type InvertedIndex struct {
	index      map[string]map[types.NodeID]uint32 // token -> node -> term frequency
	nodeTokens map[types.NodeID][]string           // node -> tokens (for re-indexing/removal)
	tombstoned map[types.NodeID]bool
	mu         sync.RWMutex
}

// NewInvertedIndex creates a new inverted index.
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		index:      make(map[string]map[types.NodeID]uint32),
		nodeTokens: make(map[types.NodeID][]string),
		tombstoned: make(map[types.NodeID]bool),
	}
}

// Add indexes a node's content, replacing any prior entry for the node.
func (ii *InvertedIndex) Add(id types.NodeID, content string) {
	tokens := tokenize(content)

	ii.mu.Lock()
	defer ii.mu.Unlock()

	if oldTokens, exists := ii.nodeTokens[id]; exists {
		ii.removeUnlocked(id, oldTokens)
	}
	if len(tokens) == 0 {
		return
	}

	termFreqs := make(map[string]uint32)
	for _, token := range tokens {
		termFreqs[token]++
	}

	ii.nodeTokens[id] = tokens
	delete(ii.tombstoned, id)

	for token, freq := range termFreqs {
		if ii.index[token] == nil {
			ii.index[token] = make(map[types.NodeID]uint32)
		}
		ii.index[token][id] = freq
	}
}

// Remove tombstones a node: it's excluded from search results but its
// postings remain in place, mirroring the vector index's never-reclaim
// soft-delete policy.
func (ii *InvertedIndex) Remove(id types.NodeID) {
	ii.mu.Lock()
	defer ii.mu.Unlock()
	ii.tombstoned[id] = true
}

func (ii *InvertedIndex) removeUnlocked(id types.NodeID, tokens []string) {
	for _, token := range tokens {
		if nodeSet, ok := ii.index[token]; ok {
			delete(nodeSet, id)
			if len(nodeSet) == 0 {
				delete(ii.index, token)
			}
		}
	}
	delete(ii.nodeTokens, id)
}

// SearchOR finds nodes containing ANY query token.
func (ii *InvertedIndex) SearchOR(query string) []types.NodeID {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	ii.mu.RLock()
	defer ii.mu.RUnlock()

	result := make(map[types.NodeID]struct{})
	for _, token := range tokens {
		if nodeSet, ok := ii.index[token]; ok {
			for id := range nodeSet {
				if !ii.tombstoned[id] {
					result[id] = struct{}{}
				}
			}
		}
	}

	ids := make([]types.NodeID, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	return ids
}

// SearchWithScores finds nodes matching any query token and returns them
// with a raw term-count score: the sum, over query tokens the node
// contains, of that token's term frequency in the node. Results are sorted
// by score descending; no normalization is applied here.
func (ii *InvertedIndex) SearchWithScores(query string, maxResults int) []KeywordMatch {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	ii.mu.RLock()
	defer ii.mu.RUnlock()

	scores := make(map[types.NodeID]float32)
	for _, token := range tokens {
		postingList, ok := ii.index[token]
		if !ok {
			continue
		}
		for docID, tf := range postingList {
			if ii.tombstoned[docID] {
				continue
			}
			scores[docID] += float32(tf)
		}
	}

	results := make([]KeywordMatch, 0, len(scores))
	for id, score := range scores {
		results = append(results, KeywordMatch{NodeID: id, Score: score})
	}
	sortByScore(results)

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// KeywordMatch represents a keyword search result.
type KeywordMatch struct {
	NodeID types.NodeID
	Score  float32
}

// sortByScore sorts matches by score (descending) using insertion sort.
func sortByScore(matches []KeywordMatch) {
	for i := 1; i < len(matches); i++ {
		j := i
		for j > 0 && matches[j].Score > matches[j-1].Score {
			matches[j], matches[j-1] = matches[j-1], matches[j]
			j--
		}
	}
}

// Contains checks whether any indexed, non-tombstoned node matches the query.
func (ii *InvertedIndex) Contains(query string) bool {
	return len(ii.SearchOR(query)) > 0
}

// Size returns the number of unique tokens in the index.
func (ii *InvertedIndex) Size() int {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return len(ii.index)
}

// NodeCount returns the number of indexed, non-tombstoned nodes.
func (ii *InvertedIndex) NodeCount() int {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	count := 0
	for id := range ii.nodeTokens {
		if !ii.tombstoned[id] {
			count++
		}
	}
	return count
}

// Clear removes all entries from the index.
func (ii *InvertedIndex) Clear() {
	ii.mu.Lock()
	defer ii.mu.Unlock()
	ii.index = make(map[string]map[types.NodeID]uint32)
	ii.nodeTokens = make(map[types.NodeID][]string)
	ii.tombstoned = make(map[types.NodeID]bool)
}

// Stats returns index statistics.
func (ii *InvertedIndex) Stats() map[string]interface{} {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return map[string]interface{}{
		"unique_tokens": len(ii.index),
		"indexed_nodes": len(ii.nodeTokens),
	}
}

// tokenize splits text into lowercase tokens: runs of letters/digits/
// underscore form one token each; every other non-space rune (punctuation,
// symbols) is its own single-character token. There is no stop-word
// filtering and no minimum token length.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			current.WriteRune(r)
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()

	return tokens
}

package search

import (
	"math"
	"sort"
	"time"

	"github.com/anthropics/memory-go/internal/core"
	"github.com/anthropics/memory-go/internal/embedding"
	"github.com/anthropics/memory-go/pkg/types"
)

// levelBoostTable implements the level_boost term of the ranking formula: higher
// levels of the hierarchy carry more weight since they summarize more.
var levelBoostTable = map[types.HierarchyLevel]float32{
	types.LevelSession:   1.0,
	types.LevelMessage:   0.9,
	types.LevelBlock:     0.8,
	types.LevelStatement: 0.7,
}

// Engine provides unified search combining semantic and keyword search.
type Engine struct {
	hm            *core.HierarchyManager
	vectorIndex   *VectorIndex
	invertedIndex *InvertedIndex
	meta          *nodeMetaTable
	embedder      embedding.Engine
	config        types.SearchConfig
}

// hnswSeed is the fixed PRNG seed used to make HNSW layer assignment
// reproducible across restarts for a given insertion order.
const hnswSeed = 0x6d656d6f7279 // "memory" in hex, arbitrary but stable

// NewEngine creates a new search engine.
func NewEngine(hm *core.HierarchyManager, embedder embedding.Engine, config types.SearchConfig) (*Engine, error) {
	e := &Engine{
		hm:            hm,
		vectorIndex:   NewVectorIndex(config, hnswSeed),
		invertedIndex: NewInvertedIndex(),
		meta:          newNodeMetaTable(),
		embedder:      embedder,
		config:        config,
	}

	if err := e.rebuildIndices(); err != nil {
		return nil, err
	}

	return e, nil
}

// rebuildIndices reconstructs search indices from storage.
func (e *Engine) rebuildIndices() error {
	return e.hm.IterNodes(func(id types.NodeID) error {
		node, err := e.hm.GetNode(id)
		if err != nil {
			return nil
		}
		e.recordMeta(node)
		e.invertedIndex.Add(id, node.Content)

		emb, err := e.hm.GetEmbedding(id)
		if err == nil && len(emb) > 0 {
			e.vectorIndex.Add(node.Level, id, emb)
		}
		return nil
	})
}

func (e *Engine) recordMeta(node *types.Node) {
	e.meta.set(node.ID, node.Level, node.CreatedAt.UnixNano(), len(tokenize(node.Content)))
}

// IndexNode adds a node to all search indices.
func (e *Engine) IndexNode(node *types.Node, emb types.Embedding) error {
	e.recordMeta(node)
	e.invertedIndex.Add(node.ID, node.Content)

	if len(emb) > 0 {
		if err := e.vectorIndex.Add(node.Level, node.ID, emb); err != nil {
			return err
		}
	}

	return nil
}

// RemoveNode removes a node from all search indices.
func (e *Engine) RemoveNode(id types.NodeID, level types.HierarchyLevel) error {
	e.invertedIndex.Remove(id)
	return e.vectorIndex.Remove(level, id)
}

// Search performs a hybrid search combining semantic and keyword matching.
func (e *Engine) Search(opts types.SearchOptions) ([]types.SearchResult, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = e.config.DefaultMaxResults
	}
	if opts.MaxResults > 100 {
		opts.MaxResults = 100
	}
	// A zero-value [statement, statement] bound is a valid single-level
	// query; callers wanting all levels pass [statement, session]
	// explicitly, as the RPC layer's defaults do.

	// An embedder failure degrades the query to keyword-only rather than
	// failing it; semantic recall returns once the embedder recovers.
	var semanticMatches []SearchMatch
	if queryEmb, err := e.embedder.Embed(opts.Query); err == nil && len(queryEmb) > 0 {
		semanticMatches, err = e.vectorIndex.SearchMultiLevel(
			queryEmb,
			opts.TopLevel,
			opts.BottomLevel,
			opts.MaxResults*2,
		)
		if err != nil {
			return nil, err
		}
	}

	keywordMatches := e.invertedIndex.SearchWithScores(opts.Query, opts.MaxResults*2)

	results := e.combineResults(semanticMatches, keywordMatches, opts)

	sort.Slice(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	if opts.MaxTokens > 0 {
		results = e.applyTokenBudget(results, opts.MaxTokens)
	}

	return results, nil
}

// SearchWithResponse performs search and returns full response with metadata.
func (e *Engine) SearchWithResponse(opts types.SearchOptions) (*types.SearchResponse, error) {
	allResults, err := e.Search(types.SearchOptions{
		Query:       opts.Query,
		TopLevel:    opts.TopLevel,
		BottomLevel: opts.BottomLevel,
		MaxResults:  opts.MaxResults * 2,
		SessionID:   opts.SessionID,
		AgentID:     opts.AgentID,
		AfterTime:   opts.AfterTime,
		BeforeTime:  opts.BeforeTime,
		MaxTokens:   0,
	})
	if err != nil {
		return nil, err
	}

	totalResults := len(allResults)
	truncated := false
	tokensUsed := 0

	if len(allResults) > opts.MaxResults {
		allResults = allResults[:opts.MaxResults]
		truncated = true
	}

	if opts.MaxTokens > 0 {
		before := len(allResults)
		allResults = e.applyTokenBudget(allResults, opts.MaxTokens)
		for _, r := range allResults {
			tokensUsed += r.TokenCount
		}
		if len(allResults) < before {
			truncated = true
		}
	}

	return &types.SearchResponse{
		Results:      allResults,
		TotalResults: totalResults,
		Truncated:    truncated,
		TokensUsed:   tokensUsed,
	}, nil
}

// applyTokenBudget truncates results to fit within token budget.
func (e *Engine) applyTokenBudget(results []types.SearchResult, maxTokens int) []types.SearchResult {
	tokenCount := 0
	for i := range results {
		results[i].TokenCount = (len(results[i].Content) + 3) / 4
		tokenCount += results[i].TokenCount

		if tokenCount > maxTokens {
			return results[:i]
		}
	}
	return results
}

// sanitizeScore coerces NaN/Inf to 0, per the ranking formula's contract
// that a malformed partial score never propagates into the final ordering.
func sanitizeScore(v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return v
}

// combineResults merges semantic and keyword results using the fusion
// formula: score = w_rel*(w_sem*semantic + w_exact*exact) + w_rec*recency +
// w_lvl*level_boost. exact is the raw term-count score normalized by the
// max score in this candidate set; recency decays exponentially with a
// configurable half-life and is capped at 1 for (clock-skewed) future
// timestamps.
func (e *Engine) combineResults(
	semantic []SearchMatch,
	keyword []KeywordMatch,
	opts types.SearchOptions,
) []types.SearchResult {
	semanticScores := make(map[types.NodeID]float32)
	for _, m := range semantic {
		similarity := 1.0 - m.Distance
		if similarity < 0 {
			similarity = 0
		}
		semanticScores[m.NodeID] = similarity
	}

	var maxKeywordScore float32
	for _, m := range keyword {
		if m.Score > maxKeywordScore {
			maxKeywordScore = m.Score
		}
	}
	keywordScores := make(map[types.NodeID]float32)
	for _, m := range keyword {
		if maxKeywordScore > 0 {
			keywordScores[m.NodeID] = m.Score / maxKeywordScore
		} else {
			keywordScores[m.NodeID] = 0
		}
	}

	allNodes := make(map[types.NodeID]struct{})
	for id := range semanticScores {
		allNodes[id] = struct{}{}
	}
	for id := range keywordScores {
		allNodes[id] = struct{}{}
	}

	now := time.Now()
	halfLife := float64(e.config.HalfLifeMs)
	if halfLife <= 0 {
		halfLife = 3_600_000
	}

	results := make([]types.SearchResult, 0, len(allNodes))

	for id := range allNodes {
		// Level and time filters resolve from the engine's own metadata
		// table; only survivors pay for a hierarchy lookup.
		meta, ok := e.meta.get(id)
		if !ok {
			continue
		}
		if meta.level < opts.BottomLevel || meta.level > opts.TopLevel {
			continue
		}
		if opts.AfterTime > 0 && meta.createdAtNs < opts.AfterTime {
			continue
		}
		if opts.BeforeTime > 0 && meta.createdAtNs > opts.BeforeTime {
			continue
		}

		node, err := e.hm.GetNode(id)
		if err != nil || node.Tombstoned {
			continue
		}
		if opts.SessionID != "" && node.SessionID != opts.SessionID {
			continue
		}
		if opts.AgentID != "" && node.AgentID != opts.AgentID {
			continue
		}

		semScore := semanticScores[id]
		exactScore := keywordScores[id]
		if exactScore == 0 && semScore < e.config.MinSemanticScore {
			continue
		}

		ageMs := float64(now.Sub(node.CreatedAt).Milliseconds())
		var recencyScore float32
		if ageMs <= 0 {
			recencyScore = 1.0
		} else {
			recencyScore = float32(math.Exp(-math.Ln2 * ageMs / halfLife))
			if recencyScore > 1 {
				recencyScore = 1
			}
		}

		levelBoost := levelBoostTable[node.Level]

		relevanceScore := e.config.SemanticWeight*semScore + e.config.ExactWeight*exactScore
		combinedScore := e.config.RelevanceWeight*relevanceScore +
			e.config.RecencyWeight*recencyScore +
			e.config.LevelBoostWeight*levelBoost

		results = append(results, types.SearchResult{
			NodeID:         id,
			Level:          node.Level,
			Content:        node.Content,
			AgentID:        node.AgentID,
			SessionID:      node.SessionID,
			CreatedAt:      node.CreatedAt,
			RelevanceScore: sanitizeScore(relevanceScore),
			RecencyScore:   sanitizeScore(recencyScore),
			CombinedScore:  sanitizeScore(combinedScore),
		})
	}

	return results
}

// SemanticSearch performs pure semantic search.
func (e *Engine) SemanticSearch(query string, level types.HierarchyLevel, k int) ([]types.SearchResult, error) {
	queryEmb, err := e.embedder.Embed(query)
	if err != nil {
		return nil, types.WrapError("search.SemanticSearch", types.ErrEmbeddingFailed, err)
	}

	matches, err := e.vectorIndex.Search(level, queryEmb, k)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(matches))
	for _, m := range matches {
		node, err := e.hm.GetNode(m.NodeID)
		if err != nil || node.Tombstoned {
			continue
		}

		similarity := 1.0 - m.Distance
		if similarity < 0 {
			similarity = 0
		}

		results = append(results, types.SearchResult{
			NodeID:         m.NodeID,
			Level:          node.Level,
			Content:        node.Content,
			AgentID:        node.AgentID,
			SessionID:      node.SessionID,
			CreatedAt:      node.CreatedAt,
			RelevanceScore: similarity,
			CombinedScore:  similarity,
		})
	}

	return results, nil
}

// KeywordSearch performs pure keyword search.
func (e *Engine) KeywordSearch(query string, maxResults int) ([]types.SearchResult, error) {
	matches := e.invertedIndex.SearchWithScores(query, maxResults)

	results := make([]types.SearchResult, 0, len(matches))
	for _, m := range matches {
		node, err := e.hm.GetNode(m.NodeID)
		if err != nil || node.Tombstoned {
			continue
		}

		results = append(results, types.SearchResult{
			NodeID:         m.NodeID,
			Level:          node.Level,
			Content:        node.Content,
			AgentID:        node.AgentID,
			SessionID:      node.SessionID,
			CreatedAt:      node.CreatedAt,
			RelevanceScore: m.Score,
			CombinedScore:  m.Score,
		})
	}

	return results, nil
}

// Stats returns search engine statistics.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"vector_index":   e.vectorIndex.Stats(),
		"inverted_index": e.invertedIndex.Stats(),
		"metadata_nodes": e.meta.size(),
	}
}

// Clear removes all entries from all indices.
func (e *Engine) Clear() {
	e.vectorIndex.Clear()
	e.invertedIndex.Clear()
	e.meta = newNodeMetaTable()
}

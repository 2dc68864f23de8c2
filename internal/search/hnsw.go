// Package search provides semantic and keyword search capabilities.
package search

import (
	"math"
	"math/rand"
	"sync"

	"github.com/anthropics/memory-go/pkg/types"
)

// maxLayers bounds how tall any single node's tower of layers can grow.
// A node's assigned layer is drawn from an exponential distribution and
// then clamped to this ceiling, so the graph never over-commits memory to
// a pathologically unlucky draw.
const maxLayers = 16

// hnswNode is one vector's entry in a single level's graph: its embedding,
// the highest layer it participates in, and its per-layer neighbor lists.
type hnswNode struct {
	id         types.NodeID
	vector     types.Embedding
	layer      int
	neighbors  [][]types.NodeID // neighbors[l] for l in [0, layer]
	tombstoned bool
}

// hnswGraph is a single hierarchy level's HNSW index: greedy descent from
// an entry point through upper layers, then a bounded beam search at layer
// 0, matching the standard Malkov/Yashunin construction.
type hnswGraph struct {
	mu             sync.RWMutex
	nodes          map[types.NodeID]*hnswNode
	entryPoint     types.NodeID
	hasEntry       bool
	m              int // max bidirectional connections per node at layer > 0
	mMax0          int // max connections at layer 0 (conventionally 2*m)
	efConstruction int
	efSearch       int
	levelMult      float64 // 1/ln(m), controls how quickly layer probability decays
	rng            *rand.Rand
}

func newHNSWGraph(cfg types.SearchConfig, seed int64) *hnswGraph {
	m := cfg.HNSWM
	if m < 2 {
		m = 16
	}
	efConstruct := cfg.HNSWEfConstruct
	if efConstruct < 1 {
		efConstruct = 200
	}
	efSearch := cfg.HNSWEfSearch
	if efSearch < 1 {
		efSearch = 50
	}
	return &hnswGraph{
		nodes:          make(map[types.NodeID]*hnswNode),
		m:              m,
		mMax0:          2 * m,
		efConstruction: efConstruct,
		efSearch:       efSearch,
		levelMult:      1.0 / math.Log(float64(m)),
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// assignLayer draws a random layer per the standard HNSW exponential decay
// (P(layer=l) shrinks by 1/m per level), clamped to maxLayers-1.
func (g *hnswGraph) assignLayer() int {
	r := g.rng.Float64()
	for r == 0 {
		r = g.rng.Float64()
	}
	layer := int(math.Floor(-math.Log(r) * g.levelMult))
	if layer >= maxLayers {
		layer = maxLayers - 1
	}
	return layer
}

// cosineDistance returns 1-cos(a,b), so identical directions score 0 and
// opposite directions score 2. Zero vectors are treated as maximally distant
// from everything including themselves, to avoid a divide-by-zero NaN.
func cosineDistance(a, b types.Embedding) float32 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return float32(1 - cos)
}

type candidate struct {
	id   types.NodeID
	dist float32
}

// searchLayer runs a bounded beam search for query starting from entry,
// restricted to nodes participating in layer lc, returning up to ef
// candidates sorted nearest-first. Tombstoned nodes are still traversed
// (they remain valid graph waypoints) but never returned.
func (g *hnswGraph) searchLayer(entry types.NodeID, query types.Embedding, ef, lc int) []candidate {
	visited := map[types.NodeID]bool{entry: true}
	entryNode := g.nodes[entry]
	entryDist := cosineDistance(query, entryNode.vector)

	candidates := []candidate{{entry, entryDist}} // min-first frontier to expand
	var results []candidate
	if !entryNode.tombstoned {
		results = []candidate{{entry, entryDist}}
	}

	for len(candidates) > 0 {
		// Pop the closest unexplored candidate.
		bestIdx := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].dist < candidates[bestIdx].dist {
				bestIdx = i
			}
		}
		cur := candidates[bestIdx]
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)

		if len(results) >= ef {
			worst := worstDistance(results)
			if cur.dist > worst {
				break
			}
		}

		node := g.nodes[cur.id]
		if lc > node.layer {
			continue
		}
		for _, nbrID := range node.neighbors[lc] {
			if visited[nbrID] {
				continue
			}
			visited[nbrID] = true
			nbr := g.nodes[nbrID]
			d := cosineDistance(query, nbr.vector)

			if len(results) < ef || d < worstDistance(results) {
				candidates = append(candidates, candidate{nbrID, d})
				if !nbr.tombstoned {
					results = insertSorted(results, candidate{nbrID, d}, ef)
				}
			}
		}
	}

	return results
}

func worstDistance(results []candidate) float32 {
	worst := float32(0)
	for _, r := range results {
		if r.dist > worst {
			worst = r.dist
		}
	}
	return worst
}

// insertSorted inserts c into results (kept sorted ascending by distance),
// evicting the farthest entry once results exceeds cap.
func insertSorted(results []candidate, c candidate, cap int) []candidate {
	i := 0
	for i < len(results) && results[i].dist < c.dist {
		i++
	}
	results = append(results, candidate{})
	copy(results[i+1:], results[i:])
	results[i] = c
	if len(results) > cap {
		results = results[:cap]
	}
	return results
}

// insert adds id/vector to the graph, wiring it into the neighbor lists of
// every layer it participates in. Duplicate ids are rejected; re-embedding
// a node means tombstoning the old entry, not rewiring it.
func (g *hnswGraph) insert(id types.NodeID, vector types.Embedding) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.nodes[id]; dup {
		return types.Errorf("search.insert", types.ErrAlreadyExists, "node %d already indexed", id)
	}

	layer := g.assignLayer()
	node := &hnswNode{
		id:        id,
		vector:    vector,
		layer:     layer,
		neighbors: make([][]types.NodeID, layer+1),
	}
	g.nodes[id] = node

	if !g.hasEntry {
		g.entryPoint = id
		g.hasEntry = true
		return nil
	}

	entry := g.entryPoint
	entryLayer := g.nodes[entry].layer

	for lc := entryLayer; lc > layer; lc-- {
		results := g.searchLayer(entry, vector, 1, lc)
		if len(results) > 0 {
			entry = results[0].id
		}
	}

	for lc := min(layer, entryLayer); lc >= 0; lc-- {
		candidates := g.searchLayer(entry, vector, g.efConstruction, lc)
		maxConn := g.m
		if lc == 0 {
			maxConn = g.mMax0
		}
		neighbors := selectNeighbors(candidates, maxConn)

		node.neighbors[lc] = neighbors
		for _, nbrID := range neighbors {
			g.connect(nbrID, id, lc, maxConn)
		}

		if len(candidates) > 0 {
			entry = candidates[0].id
		}
	}

	if layer > entryLayer {
		g.entryPoint = id
	}
	return nil
}

func selectNeighbors(candidates []candidate, maxConn int) []types.NodeID {
	if len(candidates) > maxConn {
		candidates = candidates[:maxConn]
	}
	out := make([]types.NodeID, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// connect adds the edge from -> to at layer lc (insert sets the new node's
// own neighbor list, so the pair of calls wires both directions), pruning the
// from-node's neighbor list back to maxConn by farthest-replacement if it
// would otherwise overflow.
func (g *hnswGraph) connect(from, to types.NodeID, lc, maxConn int) {
	node := g.nodes[from]
	if node == nil || lc > node.layer {
		return
	}
	node.neighbors[lc] = append(node.neighbors[lc], to)
	if len(node.neighbors[lc]) <= maxConn {
		return
	}

	type scored struct {
		id   types.NodeID
		dist float32
	}
	scoredList := make([]scored, len(node.neighbors[lc]))
	for i, nid := range node.neighbors[lc] {
		scoredList[i] = scored{nid, cosineDistance(node.vector, g.nodes[nid].vector)}
	}
	for i := 1; i < len(scoredList); i++ {
		j := i
		for j > 0 && scoredList[j].dist < scoredList[j-1].dist {
			scoredList[j], scoredList[j-1] = scoredList[j-1], scoredList[j]
			j--
		}
	}
	scoredList = scoredList[:maxConn]
	kept := make([]types.NodeID, len(scoredList))
	for i, s := range scoredList {
		kept[i] = s.id
	}
	node.neighbors[lc] = kept
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// tombstone marks id as soft-deleted without unlinking it from the graph;
// it remains a valid waypoint for traversal but is never returned by search.
// Per-level HNSW graphs never reclaim a tombstoned slot's neighbor slots.
func (g *hnswGraph) tombstone(id types.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.tombstoned = true
	}
}

func (g *hnswGraph) search(query types.Embedding, k int) []candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil
	}

	entry := g.entryPoint
	entryLayer := g.nodes[entry].layer

	for lc := entryLayer; lc > 0; lc-- {
		results := g.searchLayer(entry, query, 1, lc)
		if len(results) > 0 {
			entry = results[0].id
		}
	}

	ef := g.efSearch
	if ef < k {
		ef = k
	}
	results := g.searchLayer(entry, query, ef, 0)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (g *hnswGraph) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// VectorIndex provides approximate nearest neighbor search using a
// hand-rolled per-level HNSW graph with cosine distance.
type VectorIndex struct {
	graphs map[types.HierarchyLevel]*hnswGraph
	config types.SearchConfig
	seed   int64
}

// NewVectorIndex creates a new HNSW-based vector index. seed fixes the
// per-level layer-assignment PRNGs so index construction is reproducible
// across restarts given the same insertion order.
func NewVectorIndex(config types.SearchConfig, seed int64) *VectorIndex {
	vi := &VectorIndex{
		graphs: make(map[types.HierarchyLevel]*hnswGraph),
		config: config,
		seed:   seed,
	}
	for level := types.LevelStatement; level <= types.LevelAgent; level++ {
		vi.graphs[level] = newHNSWGraph(config, seed+int64(level))
	}
	return vi
}

// Add adds a vector to the index at the specified level.
func (vi *VectorIndex) Add(level types.HierarchyLevel, id types.NodeID, embedding types.Embedding) error {
	if len(embedding) == 0 {
		return types.Errorf("search.Add", types.ErrInvalidArg, "empty embedding")
	}
	graph, ok := vi.graphs[level]
	if !ok {
		return types.Errorf("search.Add", types.ErrInvalidLevel, "invalid level: %d", level)
	}
	return graph.insert(id, embedding)
}

// Remove soft-deletes a vector (tombstone), per the HNSW graph's
// never-reclaim-a-slot policy.
func (vi *VectorIndex) Remove(level types.HierarchyLevel, id types.NodeID) error {
	graph, ok := vi.graphs[level]
	if !ok {
		return types.Errorf("search.Remove", types.ErrInvalidLevel, "invalid level: %d", level)
	}
	graph.tombstone(id)
	return nil
}

// Search finds the k nearest neighbors to the query vector at one level.
func (vi *VectorIndex) Search(level types.HierarchyLevel, query types.Embedding, k int) ([]SearchMatch, error) {
	if len(query) == 0 {
		return nil, types.Errorf("search.Search", types.ErrInvalidArg, "empty query vector")
	}
	graph, ok := vi.graphs[level]
	if !ok {
		return nil, types.Errorf("search.Search", types.ErrInvalidLevel, "invalid level: %d", level)
	}

	matches := graph.search(query, k)
	results := make([]SearchMatch, len(matches))
	for i, m := range matches {
		results[i] = SearchMatch{NodeID: m.id, Level: level, Distance: m.dist}
	}
	return results, nil
}

// SearchMultiLevel searches across multiple hierarchy levels and returns
// the overall top k by distance.
func (vi *VectorIndex) SearchMultiLevel(query types.Embedding, topLevel, bottomLevel types.HierarchyLevel, k int) ([]SearchMatch, error) {
	if len(query) == 0 {
		return nil, types.Errorf("search.SearchMultiLevel", types.ErrInvalidArg, "empty query vector")
	}

	var allResults []SearchMatch

	for level := bottomLevel; level <= topLevel; level++ {
		graph, ok := vi.graphs[level]
		if !ok {
			continue
		}
		for _, m := range graph.search(query, k) {
			allResults = append(allResults, SearchMatch{NodeID: m.id, Level: level, Distance: m.dist})
		}
	}

	sortByDistance(allResults)
	if len(allResults) > k {
		allResults = allResults[:k]
	}

	return allResults, nil
}

// SearchMatch represents a search result from the vector index.
type SearchMatch struct {
	NodeID   types.NodeID
	Level    types.HierarchyLevel
	Distance float32
}

// sortByDistance sorts matches by distance (ascending).
func sortByDistance(matches []SearchMatch) {
	for i := 1; i < len(matches); i++ {
		j := i
		for j > 0 && matches[j].Distance < matches[j-1].Distance {
			matches[j], matches[j-1] = matches[j-1], matches[j]
			j--
		}
	}
}

// Size returns the number of vectors in a level's index.
func (vi *VectorIndex) Size(level types.HierarchyLevel) int {
	graph, ok := vi.graphs[level]
	if !ok {
		return 0
	}
	return graph.size()
}

// TotalSize returns the total number of vectors across all levels.
func (vi *VectorIndex) TotalSize() int {
	total := 0
	for _, graph := range vi.graphs {
		total += graph.size()
	}
	return total
}

// Stats returns index statistics.
func (vi *VectorIndex) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"total_vectors": vi.TotalSize(),
	}
	for level := types.LevelStatement; level <= types.LevelAgent; level++ {
		if graph, ok := vi.graphs[level]; ok {
			stats[level.String()+"_count"] = graph.size()
		}
	}
	return stats
}

// Clear removes all vectors from all indices, reseeding each level's PRNG
// so a cleared-and-rebuilt index is reproducible again.
func (vi *VectorIndex) Clear() {
	for level := types.LevelStatement; level <= types.LevelAgent; level++ {
		vi.graphs[level] = newHNSWGraph(vi.config, vi.seed+int64(level))
	}
}

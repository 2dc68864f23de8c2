// Package core provides the hierarchy manager for the memory tree structure.
package core

import (
	"sync"
	"time"

	"github.com/anthropics/memory-go/internal/storage"
	"github.com/anthropics/memory-go/pkg/types"
)

// HierarchyManager manages the hierarchical AGENT -> SESSION -> MESSAGE ->
// BLOCK -> STATEMENT node structure. Agent and session identity is looked
// up idempotently by caller-supplied key; every other node is created fresh.
type HierarchyManager struct {
	store *storage.Store
	mu    sync.RWMutex

	// In-memory caches for fast traversal, rebuilt from the store on open.
	children   map[types.NodeID][]types.NodeID // parent -> children, in sibling order
	parents    map[types.NodeID]types.NodeID   // child -> parent
	tombstoned map[types.NodeID]bool
}

// NewHierarchyManager creates a new hierarchy manager over an opened store.
func NewHierarchyManager(store *storage.Store) (*HierarchyManager, error) {
	hm := &HierarchyManager{
		store:      store,
		children:   make(map[types.NodeID][]types.NodeID),
		parents:    make(map[types.NodeID]types.NodeID),
		tombstoned: make(map[types.NodeID]bool),
	}

	if err := hm.rebuildCaches(); err != nil {
		return nil, err
	}

	return hm, nil
}

// rebuildCaches reconstructs the in-memory relationship caches by walking
// the dense id space of the node table. Sibling order within each parent's
// children slice follows the next_sibling_id chain recorded by the node
// that holds first_child_id, not allocation order, so callers that rely on
// GetChildren ordering see the tree's actual left-to-right structure.
func (hm *HierarchyManager) rebuildCaches() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.children = make(map[types.NodeID][]types.NodeID)
	hm.parents = make(map[types.NodeID]types.NodeID)
	hm.tombstoned = make(map[types.NodeID]bool)

	count := hm.store.NodeCount()
	for i := uint64(1); i <= count; i++ {
		id := types.NodeID(i)
		rec, err := hm.store.GetRecord(id)
		if err != nil {
			continue
		}
		if rec.Tombstoned {
			hm.tombstoned[id] = true
		}
		if rec.ParentID != types.InvalidNodeID {
			hm.parents[id] = rec.ParentID
		}
	}

	// Build children lists by walking each parent's first_child/next_sibling
	// chain, which is the durable source of truth for sibling order.
	for i := uint64(1); i <= count; i++ {
		id := types.NodeID(i)
		rec, err := hm.store.GetRecord(id)
		if err != nil || rec.FirstChildID == types.InvalidNodeID {
			continue
		}
		var ordered []types.NodeID
		cur := rec.FirstChildID
		for cur != types.InvalidNodeID {
			ordered = append(ordered, cur)
			childRec, err := hm.store.GetRecord(cur)
			if err != nil {
				break
			}
			cur = childRec.NextSiblingID
		}
		hm.children[id] = ordered
	}

	return nil
}

// linkChild appends child to parent's sibling chain, updating both the
// durable record pointers and the in-memory cache. Caller holds hm.mu.
func (hm *HierarchyManager) linkChild(parentID, childID types.NodeID) error {
	siblings := hm.children[parentID]
	if len(siblings) == 0 {
		if err := hm.store.SetFirstChild(parentID, childID); err != nil {
			return err
		}
	} else {
		last := siblings[len(siblings)-1]
		if err := hm.store.SetNextSibling(last, childID); err != nil {
			return err
		}
	}
	hm.children[parentID] = append(siblings, childID)
	hm.parents[childID] = parentID
	return nil
}

// createChild allocates a node at level beneath parentID, hard-failing if
// parentID's own level isn't exactly one above level. A parentID of
// InvalidNodeID is only valid when level is LevelAgent (the tree root).
func (hm *HierarchyManager) createChild(level types.HierarchyLevel, parentID types.NodeID) (types.NodeID, error) {
	if parentID == types.InvalidNodeID {
		if level != types.LevelAgent {
			return types.InvalidNodeID, types.Errorf("hierarchy.createChild", types.ErrInvalidLevel,
				"only an agent node may have no parent")
		}
	} else {
		parentRec, err := hm.store.GetRecord(parentID)
		if err != nil {
			return types.InvalidNodeID, types.WrapError("hierarchy.createChild", types.ErrNotFound, err)
		}
		if parentRec.Tombstoned {
			return types.InvalidNodeID, types.Errorf("hierarchy.createChild", types.ErrNotFound,
				"parent %d is deleted", parentID)
		}
		if parentRec.Level != level+1 {
			return types.InvalidNodeID, types.Errorf("hierarchy.createChild", types.ErrInvalidLevel,
				"cannot create %s node under %s parent", level, parentRec.Level)
		}
	}

	id, err := hm.store.AllocNode(level, parentID, time.Now().UnixNano())
	if err != nil {
		return types.InvalidNodeID, err
	}

	if parentID != types.InvalidNodeID {
		if err := hm.linkChild(parentID, id); err != nil {
			return types.InvalidNodeID, err
		}
	}

	return id, nil
}

// CreateAgent returns the node id bound to agentKey, creating an AGENT root
// node the first time the key is seen. existed reports whether the agent
// already existed.
func (hm *HierarchyManager) CreateAgent(agentKey string) (id types.NodeID, existed bool, err error) {
	if agentKey == "" || len(agentKey) > types.MaxAgentKeyLen {
		return types.InvalidNodeID, false, types.Errorf("hierarchy.CreateAgent", types.ErrInvalidArg,
			"agent key must be 1-%d bytes", types.MaxAgentKeyLen)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	if existingID, ok := hm.store.LookupAgent(agentKey); ok {
		return existingID, true, nil
	}

	id, err = hm.createChild(types.LevelAgent, types.InvalidNodeID)
	if err != nil {
		return types.InvalidNodeID, false, err
	}
	if err := hm.store.BindAgent(agentKey, id); err != nil {
		return types.InvalidNodeID, false, err
	}
	if err := hm.store.SaveNodeMeta(id, storage.NodeMeta{AgentID: agentKey}); err != nil {
		return types.InvalidNodeID, false, err
	}
	return id, false, nil
}

// CreateSession returns the node id bound to sessionKey under agentKey,
// creating the agent (if needed) and a SESSION node the first time the
// session key is seen.
func (hm *HierarchyManager) CreateSession(agentKey, sessionKey string) (id types.NodeID, existed bool, err error) {
	if sessionKey == "" || len(sessionKey) > types.MaxSessionKeyLen {
		return types.InvalidNodeID, false, types.Errorf("hierarchy.CreateSession", types.ErrInvalidArg,
			"session key must be 1-%d bytes", types.MaxSessionKeyLen)
	}

	if existingID, ok := hm.store.LookupSession(sessionKey); ok {
		return existingID, true, nil
	}

	agentID, _, err := hm.CreateAgent(agentKey)
	if err != nil {
		return types.InvalidNodeID, false, err
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	if existingID, ok := hm.store.LookupSession(sessionKey); ok {
		return existingID, true, nil
	}

	id, err = hm.createChild(types.LevelSession, agentID)
	if err != nil {
		return types.InvalidNodeID, false, err
	}
	if err := hm.store.BindSession(sessionKey, id); err != nil {
		return types.InvalidNodeID, false, err
	}
	if err := hm.store.SaveNodeMeta(id, storage.NodeMeta{AgentID: agentKey, SessionID: sessionKey}); err != nil {
		return types.InvalidNodeID, false, err
	}
	return id, false, nil
}

// CreateMessage adds a MESSAGE node under a SESSION node.
func (hm *HierarchyManager) CreateMessage(sessionID types.NodeID, role, content string) (*types.Node, error) {
	return hm.createTextNode(types.LevelMessage, sessionID, role, content)
}

// CreateBlock adds a BLOCK node under a MESSAGE node.
func (hm *HierarchyManager) CreateBlock(messageID types.NodeID, content string) (*types.Node, error) {
	return hm.createTextNode(types.LevelBlock, messageID, "", content)
}

// CreateStatement adds a STATEMENT node under a BLOCK node.
func (hm *HierarchyManager) CreateStatement(blockID types.NodeID, content string) (*types.Node, error) {
	return hm.createTextNode(types.LevelStatement, blockID, "", content)
}

func (hm *HierarchyManager) createTextNode(level types.HierarchyLevel, parentID types.NodeID, role, content string) (*types.Node, error) {
	hm.mu.Lock()
	id, err := hm.createChild(level, parentID)
	hm.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := hm.store.SetText(id, []byte(content)); err != nil {
		return nil, err
	}

	parentMeta, err := hm.store.GetNodeMeta(parentID)
	if err != nil {
		return nil, err
	}
	seq := hm.store.NextSequence()
	meta := storage.NodeMeta{AgentID: parentMeta.AgentID, SessionID: parentMeta.SessionID, Role: role, SequenceNum: seq}
	if err := hm.store.SaveNodeMeta(id, meta); err != nil {
		return nil, err
	}

	return hm.GetNode(id)
}

// toNode assembles the public Node view from the record, text, and meta.
func (hm *HierarchyManager) toNode(id types.NodeID, rec storage.Record) (*types.Node, error) {
	text, err := hm.store.GetText(id)
	if err != nil {
		return nil, err
	}
	meta, err := hm.store.GetNodeMeta(id)
	if err != nil {
		return nil, err
	}

	return &types.Node{
		ID:              id,
		Level:           rec.Level,
		ParentID:        rec.ParentID,
		FirstChildID:    rec.FirstChildID,
		NextSiblingID:   rec.NextSiblingID,
		AgentID:         meta.AgentID,
		SessionID:       meta.SessionID,
		Content:         string(text),
		Role:            meta.Role,
		CreatedAt:       time.Unix(0, rec.CreatedAtNs),
		SequenceNum:     meta.SequenceNum,
		TextOffset:      rec.TextOffset,
		TextLen:         rec.TextLen,
		EmbeddingOffset: rec.EmbeddingOffset,
		Tombstoned:      rec.Tombstoned,
	}, nil
}

// GetNode retrieves a node by ID, including tombstoned ones (callers that
// must exclude deleted nodes check Node.Tombstoned themselves).
func (hm *HierarchyManager) GetNode(id types.NodeID) (*types.Node, error) {
	rec, err := hm.store.GetRecord(id)
	if err != nil {
		return nil, err
	}
	return hm.toNode(id, rec)
}

// SetText replaces a node's stored text. The old bytes stay in the arena;
// the record just points at the new copy.
func (hm *HierarchyManager) SetText(id types.NodeID, data []byte) error {
	return hm.store.SetText(id, data)
}

// GetText returns a node's stored bytes, or nil when it holds no text.
func (hm *HierarchyManager) GetText(id types.NodeID) ([]byte, error) {
	return hm.store.GetText(id)
}

// SetEmbedding stores an embedding vector for a node.
func (hm *HierarchyManager) SetEmbedding(id types.NodeID, vec types.Embedding) error {
	return hm.store.SetEmbedding(id, vec)
}

// GetEmbedding retrieves a node's embedding vector, if any.
func (hm *HierarchyManager) GetEmbedding(id types.NodeID) (types.Embedding, error) {
	return hm.store.GetEmbedding(id)
}

// DeleteNode soft-deletes a node and all of its descendants. Tombstoned
// nodes and their text/embeddings remain on disk; they're excluded from
// traversal and search but nothing is reclaimed.
func (hm *HierarchyManager) DeleteNode(id types.NodeID) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	toDelete := append([]types.NodeID{id}, hm.collectDescendantsLocked(id)...)
	for _, nodeID := range toDelete {
		if err := hm.store.SetTombstone(nodeID, true); err != nil {
			return err
		}
		hm.tombstoned[nodeID] = true
	}
	return nil
}

func (hm *HierarchyManager) collectDescendantsLocked(parentID types.NodeID) []types.NodeID {
	var descendants []types.NodeID
	for _, childID := range hm.children[parentID] {
		descendants = append(descendants, childID)
		descendants = append(descendants, hm.collectDescendantsLocked(childID)...)
	}
	return descendants
}

// GetChildren returns all non-tombstoned children of a node, in sibling order.
func (hm *HierarchyManager) GetChildren(parentID types.NodeID) ([]*types.Node, error) {
	hm.mu.RLock()
	childIDs := append([]types.NodeID(nil), hm.children[parentID]...)
	hm.mu.RUnlock()

	children := make([]*types.Node, 0, len(childIDs))
	for _, id := range childIDs {
		node, err := hm.GetNode(id)
		if err != nil || node.Tombstoned {
			continue
		}
		children = append(children, node)
	}

	return children, nil
}

// GetParent returns the parent of a node.
func (hm *HierarchyManager) GetParent(id types.NodeID) (*types.Node, error) {
	hm.mu.RLock()
	parentID, exists := hm.parents[id]
	hm.mu.RUnlock()

	if !exists || parentID == types.InvalidNodeID {
		return nil, types.ErrNotFound
	}

	return hm.GetNode(parentID)
}

// GetAncestors returns the node's ancestors, immediate parent first, then
// up to the root. The node itself is excluded.
func (hm *HierarchyManager) GetAncestors(id types.NodeID) ([]*types.Node, error) {
	var ancestors []*types.Node

	hm.mu.RLock()
	currentID := hm.parents[id]
	hm.mu.RUnlock()

	for currentID != types.InvalidNodeID {
		node, err := hm.GetNode(currentID)
		if err != nil {
			break
		}
		ancestors = append(ancestors, node)

		hm.mu.RLock()
		currentID = hm.parents[currentID]
		hm.mu.RUnlock()
	}

	return ancestors, nil
}

// GetSiblings returns the other children of the node's parent, excluding the
// node itself, in sibling order.
func (hm *HierarchyManager) GetSiblings(id types.NodeID) ([]*types.Node, error) {
	hm.mu.RLock()
	parentID, hasParent := hm.parents[id]
	hm.mu.RUnlock()

	if !hasParent || parentID == types.InvalidNodeID {
		return nil, nil
	}

	all, err := hm.GetChildren(parentID)
	if err != nil {
		return nil, err
	}
	siblings := make([]*types.Node, 0, len(all))
	for _, n := range all {
		if n.ID != id {
			siblings = append(siblings, n)
		}
	}
	return siblings, nil
}

// NextSibling returns the node following id in its parent's sibling chain,
// or nil if id is the last sibling.
func (hm *HierarchyManager) NextSibling(id types.NodeID) (*types.Node, error) {
	rec, err := hm.store.GetRecord(id)
	if err != nil {
		return nil, err
	}
	if rec.NextSiblingID == types.InvalidNodeID {
		return nil, nil
	}
	return hm.GetNode(rec.NextSiblingID)
}

// GetDescendants returns all non-tombstoned descendants of a node.
func (hm *HierarchyManager) GetDescendants(id types.NodeID) ([]*types.Node, error) {
	hm.mu.RLock()
	descendantIDs := hm.collectDescendantsLocked(id)
	hm.mu.RUnlock()

	descendants := make([]*types.Node, 0, len(descendantIDs))
	for _, descID := range descendantIDs {
		node, err := hm.GetNode(descID)
		if err != nil || node.Tombstoned {
			continue
		}
		descendants = append(descendants, node)
	}

	return descendants, nil
}

// Count returns the total number of allocated nodes, tombstoned included.
func (hm *HierarchyManager) Count() uint64 {
	return hm.store.NodeCount()
}

// CountDescendants returns the number of non-tombstoned descendants of id,
// used for the query result's children_count field.
func (hm *HierarchyManager) CountDescendants(id types.NodeID) int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	count := 0
	for _, childID := range hm.collectDescendantsLocked(id) {
		if !hm.tombstoned[childID] {
			count++
		}
	}
	return count
}

// GetSubtree returns a node and all its descendants.
func (hm *HierarchyManager) GetSubtree(rootID types.NodeID) ([]*types.Node, error) {
	root, err := hm.GetNode(rootID)
	if err != nil {
		return nil, err
	}

	descendants, err := hm.GetDescendants(rootID)
	if err != nil {
		return nil, err
	}

	return append([]*types.Node{root}, descendants...), nil
}

// IterSessions calls fn for every SESSION node id currently known, in
// ascending id order. Callers needing created_at_ns-descending order (as
// list_sessions requires) sort the results themselves.
func (hm *HierarchyManager) IterSessions(fn func(id types.NodeID) error) error {
	count := hm.store.NodeCount()
	for i := uint64(1); i <= count; i++ {
		id := types.NodeID(i)
		rec, err := hm.store.GetRecord(id)
		if err != nil || rec.Level != types.LevelSession || rec.Tombstoned {
			continue
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// IterNodes calls fn for every non-tombstoned node id currently known, in
// ascending id order. Used to rebuild search indices from storage.
func (hm *HierarchyManager) IterNodes(fn func(id types.NodeID) error) error {
	count := hm.store.NodeCount()
	for i := uint64(1); i <= count; i++ {
		id := types.NodeID(i)
		rec, err := hm.store.GetRecord(id)
		if err != nil || rec.Tombstoned {
			continue
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns hierarchy statistics.
func (hm *HierarchyManager) Stats() map[string]interface{} {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	return map[string]interface{}{
		"total_relationships":   len(hm.parents),
		"parents_with_children": len(hm.children),
		"tombstoned":            len(hm.tombstoned),
	}
}

package search

import (
	"sync"

	"github.com/anthropics/memory-go/pkg/types"
)

// nodeMetaEntry caches the per-node facts ranking needs on every candidate:
// its level, ingest time, and token count. Content still comes from the
// hierarchy, but level/time filtering never has to leave the engine.
type nodeMetaEntry struct {
	level       types.HierarchyLevel
	createdAtNs int64
	tokenCount  uint32
	present     bool
}

// nodeMetaTable is a sparse array indexed by NodeID, grown by doubling.
// A missing entry means "not in the index".
type nodeMetaTable struct {
	mu      sync.RWMutex
	entries []nodeMetaEntry
}

func newNodeMetaTable() *nodeMetaTable {
	return &nodeMetaTable{}
}

func (t *nodeMetaTable) set(id types.NodeID, level types.HierarchyLevel, createdAtNs int64, tokenCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int(id)
	if idx >= len(t.entries) {
		newCap := len(t.entries)
		if newCap == 0 {
			newCap = 64
		}
		for newCap <= idx {
			newCap *= 2
		}
		grown := make([]nodeMetaEntry, newCap)
		copy(grown, t.entries)
		t.entries = grown
	}

	t.entries[idx] = nodeMetaEntry{
		level:       level,
		createdAtNs: createdAtNs,
		tokenCount:  uint32(tokenCount),
		present:     true,
	}
}

func (t *nodeMetaTable) get(id types.NodeID) (nodeMetaEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := int(id)
	if idx >= len(t.entries) || !t.entries[idx].present {
		return nodeMetaEntry{}, false
	}
	return t.entries[idx], true
}

func (t *nodeMetaTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.present {
			n++
		}
	}
	return n
}

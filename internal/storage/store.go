// Package storage provides persistent storage for the memory hierarchy: a
// dense arena-backed node table for the tree itself, and a pebble-backed
// index for everything that needs key lookups or durable counters.
package storage

import (
	"path/filepath"
	"sync/atomic"

	"github.com/anthropics/memory-go/pkg/types"
)

// Store is the façade the rest of the service talks to. It composes the
// arena-backed NodeTable (relations/text/embeddings) with the pebble-backed
// KeyIndex (agent/session key idempotency, sequence counters, session
// metadata documents, per-node agent/session/role association).
type Store struct {
	nt     *NodeTable
	ki     *KeyIndex
	config types.StorageConfig
	closed atomic.Bool
}

// Open opens or creates a store at config.DataDir. dim is the embedding
// dimension used to size the embeddings arena's per-record stride.
func Open(config types.StorageConfig, dim int) (*Store, error) {
	nt, err := OpenNodeTable(config.DataDir, dim, config)
	if err != nil {
		return nil, err
	}

	idxPath := config.DataDir
	if idxPath != "" {
		idxPath = filepath.Join(config.DataDir, "relations", "idx")
	} else {
		idxPath = "" // in-memory fallback path below
	}

	var ki *KeyIndex
	if idxPath == "" {
		ki, err = OpenKeyIndex("", config.CacheSize)
	} else {
		ki, err = OpenKeyIndex(idxPath, config.CacheSize)
	}
	if err != nil {
		nt.Close()
		return nil, err
	}

	return &Store{nt: nt, ki: ki, config: config}, nil
}

// Close flushes and releases both the node table and the key index.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.nt.Close(); err != nil {
		return err
	}
	return s.ki.Close()
}

// Node tree operations, delegated to the NodeTable.

func (s *Store) AllocNode(level types.HierarchyLevel, parentID types.NodeID, createdAtNs int64) (types.NodeID, error) {
	return s.nt.AllocNode(level, parentID, createdAtNs)
}

func (s *Store) GetRecord(id types.NodeID) (Record, error) {
	return s.nt.GetRecord(id)
}

func (s *Store) SetFirstChild(parent, child types.NodeID) error {
	return s.nt.SetFirstChild(parent, child)
}

func (s *Store) SetNextSibling(id, sibling types.NodeID) error {
	return s.nt.SetNextSibling(id, sibling)
}

func (s *Store) SetText(id types.NodeID, data []byte) error {
	return s.nt.SetText(id, data)
}

func (s *Store) GetText(id types.NodeID) ([]byte, error) {
	return s.nt.GetText(id)
}

func (s *Store) SetEmbedding(id types.NodeID, vec types.Embedding) error {
	return s.nt.SetEmbedding(id, vec)
}

func (s *Store) GetEmbedding(id types.NodeID) (types.Embedding, error) {
	return s.nt.GetEmbedding(id)
}

// NodeCount returns the number of allocated node records.
func (s *Store) NodeCount() uint64 {
	return s.nt.Count()
}

// SetTombstone soft-deletes or restores a node.
func (s *Store) SetTombstone(id types.NodeID, tombstoned bool) error {
	return s.nt.SetTombstone(id, tombstoned)
}

// Node metadata (agent/session/role), delegated to the KeyIndex.

func (s *Store) SaveNodeMeta(id types.NodeID, meta NodeMeta) error {
	return s.ki.SaveNodeMeta(id, meta)
}

func (s *Store) GetNodeMeta(id types.NodeID) (NodeMeta, error) {
	return s.ki.GetNodeMeta(id)
}

// Key-based idempotency lookups, delegated to the KeyIndex.

func (s *Store) LookupAgent(key string) (types.NodeID, bool) {
	return s.ki.LookupAgent(key)
}

func (s *Store) BindAgent(key string, id types.NodeID) error {
	return s.ki.BindAgent(key, id)
}

func (s *Store) LookupSession(key string) (types.NodeID, bool) {
	return s.ki.LookupSession(key)
}

func (s *Store) BindSession(key string, id types.NodeID) error {
	return s.ki.BindSession(key, id)
}

// NextSequence returns a fresh monotonic sequence number.
func (s *Store) NextSequence() uint64 {
	return s.ki.NextSequence()
}

// Session metadata documents, delegated to the KeyIndex.

func (s *Store) SaveSessionDoc(id string, data []byte) error {
	return s.ki.SaveSessionDoc(id, data)
}

func (s *Store) GetSessionDoc(id string) ([]byte, error) {
	return s.ki.GetSessionDoc(id)
}

func (s *Store) ListSessionDocs(fn func(data []byte) error) error {
	return s.ki.ListSessionDocs(fn)
}

// Sync flushes the node table arenas to durable storage. The key index
// writes through pebble's WAL on every Set and is not included.
func (s *Store) Sync() error {
	return s.nt.Sync()
}

// Stats returns storage statistics for metrics/debug endpoints.
func (s *Store) Stats() map[string]interface{} {
	return map[string]interface{}{
		"node_count": s.nt.Count(),
		"sequence":   s.ki.seq.Load(),
	}
}

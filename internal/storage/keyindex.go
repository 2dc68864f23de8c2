package storage

import (
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/anthropics/memory-go/pkg/types"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key prefixes within the pebble idempotency index.
const (
	prefixAgentKey   byte = 0x01 // agent:<key> -> NodeID
	prefixSessionKey byte = 0x02 // session:<key> -> NodeID
	prefixMeta       byte = 0x03 // meta:<name> -> uint64
	prefixSessDoc    byte = 0x04 // sessdoc:<session_id> -> Session JSON
	prefixNodeMeta   byte = 0x05 // nodemeta:<node_id> -> NodeMeta JSON
)

// NodeMeta holds the denormalized per-node fields the fixed-size arena
// record has no room for: which agent/session a node belongs to, and the
// conversational role of a message node. These are looked up far less often
// than the hot tree-walk fields, so pebble is a fine home for them.
type NodeMeta struct {
	AgentID     string `json:"agent_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Role        string `json:"role,omitempty"`
	SequenceNum uint64 `json:"sequence_num,omitempty"`
}

const metaSeqCounter = "seq_counter"

// KeyIndex is the pebble-backed side index that the arena-based node table
// doesn't and shouldn't hold: agent_key/session_key -> NodeID lookups needed
// for idempotent create_agent/create_session, the monotonic sequence
// counter, and (as a convenience extension) session metadata documents.
type KeyIndex struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// OpenKeyIndex opens or creates the pebble database at path. An empty path
// opens an in-memory pebble instance, used for tests and ephemeral runs with
// no data_dir.
func OpenKeyIndex(path string, cacheSize int64) (*KeyIndex, error) {
	opts := &pebble.Options{}
	if cacheSize > 0 {
		opts.Cache = pebble.NewCache(cacheSize)
	}
	if path == "" {
		opts.FS = vfs.NewMem()
		path = ""
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, types.WrapError("storage.OpenKeyIndex", types.ErrStorageIO, err)
	}
	ki := &KeyIndex{db: db}
	if err := ki.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return ki, nil
}

func (ki *KeyIndex) loadSeq() error {
	val, closer, err := ki.db.Get(metaKey(metaSeqCounter))
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return types.WrapError("storage.loadSeq", types.ErrStorageIO, err)
	}
	defer closer.Close()
	ki.seq.Store(binary.BigEndian.Uint64(val))
	return nil
}

func metaKey(name string) []byte {
	key := make([]byte, 1+len(name))
	key[0] = prefixMeta
	copy(key[1:], name)
	return key
}

func agentKeyBytes(key string) []byte {
	b := make([]byte, 1+len(key))
	b[0] = prefixAgentKey
	copy(b[1:], key)
	return b
}

func sessionKeyBytes(key string) []byte {
	b := make([]byte, 1+len(key))
	b[0] = prefixSessionKey
	copy(b[1:], key)
	return b
}

func sessDocKeyBytes(sessionID string) []byte {
	b := make([]byte, 1+len(sessionID))
	b[0] = prefixSessDoc
	copy(b[1:], sessionID)
	return b
}

// LookupAgent returns the NodeID previously bound to an agent key, if any.
func (ki *KeyIndex) LookupAgent(key string) (types.NodeID, bool) {
	val, closer, err := ki.db.Get(agentKeyBytes(key))
	if err != nil {
		return types.InvalidNodeID, false
	}
	defer closer.Close()
	return types.NodeID(binary.BigEndian.Uint64(val)), true
}

// BindAgent records the id assigned to an agent key. Returns ErrAlreadyExists
// if the key was already bound (callers use this for the idempotency signal).
func (ki *KeyIndex) BindAgent(key string, id types.NodeID) error {
	if _, exists := ki.LookupAgent(key); exists {
		return types.ErrAlreadyExists
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	if err := ki.db.Set(agentKeyBytes(key), buf, pebble.NoSync); err != nil {
		return types.WrapError("storage.BindAgent", types.ErrStorageIO, err)
	}
	return nil
}

// LookupSession returns the NodeID previously bound to a session key, if any.
func (ki *KeyIndex) LookupSession(key string) (types.NodeID, bool) {
	val, closer, err := ki.db.Get(sessionKeyBytes(key))
	if err != nil {
		return types.InvalidNodeID, false
	}
	defer closer.Close()
	return types.NodeID(binary.BigEndian.Uint64(val)), true
}

// BindSession records the id assigned to a session key.
func (ki *KeyIndex) BindSession(key string, id types.NodeID) error {
	if _, exists := ki.LookupSession(key); exists {
		return types.ErrAlreadyExists
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	if err := ki.db.Set(sessionKeyBytes(key), buf, pebble.NoSync); err != nil {
		return types.WrapError("storage.BindSession", types.ErrStorageIO, err)
	}
	return nil
}

// NextSequence returns a fresh monotonic sequence number, used to order
// commits within and across concurrent store calls.
func (ki *KeyIndex) NextSequence() uint64 {
	return ki.seq.Add(1)
}

// SaveSessionDoc persists a session metadata document.
func (ki *KeyIndex) SaveSessionDoc(id string, data []byte) error {
	return ki.db.Set(sessDocKeyBytes(id), data, pebble.NoSync)
}

// GetSessionDoc retrieves a session metadata document.
func (ki *KeyIndex) GetSessionDoc(id string) ([]byte, error) {
	val, closer, err := ki.db.Get(sessDocKeyBytes(id))
	if err == pebble.ErrNotFound {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.WrapError("storage.GetSessionDoc", types.ErrStorageIO, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// ListSessionDocs iterates all session metadata documents.
func (ki *KeyIndex) ListSessionDocs(fn func(data []byte) error) error {
	iter, err := ki.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixSessDoc},
		UpperBound: []byte{prefixSessDoc + 1},
	})
	if err != nil {
		return types.WrapError("storage.ListSessionDocs", types.ErrStorageIO, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func nodeMetaKeyBytes(id types.NodeID) []byte {
	b := make([]byte, 9)
	b[0] = prefixNodeMeta
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b
}

// SaveNodeMeta persists a node's agent/session/role association.
func (ki *KeyIndex) SaveNodeMeta(id types.NodeID, meta NodeMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return types.WrapError("storage.SaveNodeMeta", types.ErrInvalidArg, err)
	}
	if err := ki.db.Set(nodeMetaKeyBytes(id), data, pebble.NoSync); err != nil {
		return types.WrapError("storage.SaveNodeMeta", types.ErrStorageIO, err)
	}
	return nil
}

// GetNodeMeta retrieves a node's agent/session/role association. A node with
// no meta ever saved (e.g. a BLOCK/STATEMENT that inherits from an ancestor)
// returns a zero NodeMeta, not an error.
func (ki *KeyIndex) GetNodeMeta(id types.NodeID) (NodeMeta, error) {
	val, closer, err := ki.db.Get(nodeMetaKeyBytes(id))
	if err == pebble.ErrNotFound {
		return NodeMeta{}, nil
	}
	if err != nil {
		return NodeMeta{}, types.WrapError("storage.GetNodeMeta", types.ErrStorageIO, err)
	}
	defer closer.Close()

	var meta NodeMeta
	if err := json.Unmarshal(val, &meta); err != nil {
		return NodeMeta{}, types.WrapError("storage.GetNodeMeta", types.ErrStorageCorrupt, err)
	}
	return meta, nil
}

// Close persists the sequence counter and closes the database.
func (ki *KeyIndex) Close() error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, ki.seq.Load())
	ki.db.Set(metaKey(metaSeqCounter), buf, pebble.Sync)
	return ki.db.Close()
}

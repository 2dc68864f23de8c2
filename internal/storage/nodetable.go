package storage

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/anthropics/memory-go/internal/arena"
	"github.com/anthropics/memory-go/pkg/types"
)

func mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// recordSize is the fixed on-disk width of a node record in the relations
// arena: level(1, padded to 8) + parent(8) + first_child(8) + next_sibling(8)
// + text_offset(8) + text_len(8) + embedding_offset(8, signed) + created_at_ns(8).
const recordSize = 64

const (
	offLevel     = 0
	offParent    = 8
	offFirstChld = 16
	offNextSib   = 24
	offTextOff   = 32
	offTextLen   = 40
	offEmbOff    = 48
	offCreatedAt = 56
)

// levelMask isolates the level value from the tombstone flag packed into
// the same byte; HierarchyLevel only ever needs the low nibble (0-4).
const (
	levelMask     = 0x0F
	tombstoneFlag = 0x80
)

// NodeTable is the arena-backed persistence layer for the hierarchy: a dense
// array of fixed-size node records (relations arena), an append-only text
// buffer, and a packed float32 embedding buffer. It has no notion of agent
// keys or session keys — that idempotency index lives in the pebble-backed
// KeyIndex alongside it.
type NodeTable struct {
	mu           sync.RWMutex
	rel          arena.Arena
	text         arena.Arena
	emb          arena.Arena
	dim          int
	count        uint64 // number of allocated records; next id is count+1
	maxCount     uint64 // 0 means unbounded
	manifestPath string // empty for heap-backed (ephemeral) tables
}

// manifest records the logical fill of each arena file. The arenas
// themselves only know their physical (truncated) size, so the bump
// pointers must be replayed from here on reopen. It is rewritten on every
// Sync and on Close; a crash between syncs loses at most the nodes
// allocated since the last flush, which is the crash-consistency contract.
type manifest struct {
	Count    uint64 `json:"count"`
	RelUsed  int64  `json:"rel_used"`
	TextUsed int64  `json:"text_used"`
	EmbUsed  int64  `json:"emb_used"`
}

// OpenNodeTable creates or reopens the three arena files under dir
// (relations/, embeddings/, text/), per the persisted state layout.
func OpenNodeTable(dir string, dim int, cfg types.StorageConfig) (*NodeTable, error) {
	relDir := filepath.Join(dir, "relations")
	embDir := filepath.Join(dir, "embeddings")
	txtDir := filepath.Join(dir, "text")

	var rel, text, emb arena.Arena
	var err error

	initCap := cfg.ArenaSize
	if initCap <= 0 {
		initCap = 4 << 20
	}

	if cfg.UseMmap && dir != "" {
		for _, d := range []string{relDir, embDir, txtDir} {
			if mkErr := mkdirAll(d); mkErr != nil {
				return nil, types.WrapError("storage.OpenNodeTable", types.ErrStorageIO, mkErr)
			}
		}
		if rel, err = arena.OpenMmap(filepath.Join(relDir, "nodes.arena"), initCap); err != nil {
			return nil, types.WrapError("storage.OpenNodeTable", types.ErrStorageIO, err)
		}
		if text, err = arena.OpenMmap(filepath.Join(txtDir, "text.arena"), initCap); err != nil {
			rel.Close()
			return nil, types.WrapError("storage.OpenNodeTable", types.ErrStorageIO, err)
		}
		if emb, err = arena.OpenMmap(filepath.Join(embDir, "embeddings.arena"), initCap); err != nil {
			rel.Close()
			text.Close()
			return nil, types.WrapError("storage.OpenNodeTable", types.ErrStorageIO, err)
		}
	} else {
		rel = arena.NewHeap(initCap)
		text = arena.NewHeap(initCap)
		emb = arena.NewHeap(initCap)
	}

	nt := &NodeTable{rel: rel, text: text, emb: emb, dim: dim, maxCount: cfg.MaxNodeCount}
	if cfg.UseMmap && dir != "" {
		nt.manifestPath = filepath.Join(relDir, "manifest.json")
		if err := nt.loadManifest(); err != nil {
			nt.Close()
			return nil, err
		}
	}
	return nt, nil
}

// loadManifest replays the bump pointers and record count saved by the last
// Sync/Close. A missing manifest means a fresh table.
func (nt *NodeTable) loadManifest() error {
	data, err := os.ReadFile(nt.manifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.WrapError("storage.loadManifest", types.ErrStorageIO, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return types.WrapError("storage.loadManifest", types.ErrStorageCorrupt, err)
	}
	nt.rel.SetUsed(m.RelUsed)
	nt.text.SetUsed(m.TextUsed)
	nt.emb.SetUsed(m.EmbUsed)
	nt.count = m.Count
	return nil
}

// saveManifestLocked writes the current bump pointers. Caller holds nt.mu.
func (nt *NodeTable) saveManifestLocked() error {
	if nt.manifestPath == "" {
		return nil
	}
	data, err := json.Marshal(manifest{
		Count:    nt.count,
		RelUsed:  nt.rel.Used(),
		TextUsed: nt.text.Used(),
		EmbUsed:  nt.emb.Used(),
	})
	if err != nil {
		return err
	}
	tmp := nt.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.WrapError("storage.saveManifest", types.ErrStorageIO, err)
	}
	if err := os.Rename(tmp, nt.manifestPath); err != nil {
		return types.WrapError("storage.saveManifest", types.ErrStorageIO, err)
	}
	return nil
}

// AllocNode reserves a new record and returns its id. Level and parentID are
// recorded immediately; child-sibling pointers are patched in later by the
// hierarchy via SetFirstChild/SetNextSibling.
func (nt *NodeTable) AllocNode(level types.HierarchyLevel, parentID types.NodeID, createdAtNs int64) (types.NodeID, error) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if nt.maxCount > 0 && nt.count >= nt.maxCount {
		return types.InvalidNodeID, types.Errorf("storage.AllocNode", types.ErrFull,
			"node table at capacity (%d)", nt.maxCount)
	}

	off, err := nt.rel.Alloc(recordSize, 8)
	if err != nil {
		return types.InvalidNodeID, types.WrapError("storage.AllocNode", types.ErrNomem, err)
	}

	buf := nt.rel.Bytes()[off : off+recordSize]
	buf[offLevel] = byte(level) & levelMask
	binary.LittleEndian.PutUint64(buf[offParent:], uint64(parentID))
	binary.LittleEndian.PutUint64(buf[offFirstChld:], 0)
	binary.LittleEndian.PutUint64(buf[offNextSib:], 0)
	binary.LittleEndian.PutUint64(buf[offTextOff:], 0)
	binary.LittleEndian.PutUint64(buf[offTextLen:], 0)
	invalidOff := types.InvalidOffset
	binary.LittleEndian.PutUint64(buf[offEmbOff:], uint64(invalidOff))
	binary.LittleEndian.PutUint64(buf[offCreatedAt:], uint64(createdAtNs))

	nt.count++
	return types.NodeID(nt.count), nil
}

func (nt *NodeTable) recordOffset(id types.NodeID) (int64, error) {
	if id == types.InvalidNodeID || uint64(id) > nt.count {
		return 0, types.ErrNotFound
	}
	return int64(id-1) * recordSize, nil
}

// Record is a decoded view of a node's fixed fields.
type Record struct {
	Level           types.HierarchyLevel
	Tombstoned      bool
	ParentID        types.NodeID
	FirstChildID    types.NodeID
	NextSiblingID   types.NodeID
	TextOffset      int64
	TextLen         int64
	EmbeddingOffset int64
	CreatedAtNs     int64
}

// GetRecord decodes the fixed-size record for id.
func (nt *NodeTable) GetRecord(id types.NodeID) (Record, error) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	off, err := nt.recordOffset(id)
	if err != nil {
		return Record{}, err
	}
	buf := nt.rel.Bytes()[off : off+recordSize]
	return Record{
		Level:           types.HierarchyLevel(buf[offLevel] & levelMask),
		Tombstoned:      buf[offLevel]&tombstoneFlag != 0,
		ParentID:        types.NodeID(binary.LittleEndian.Uint64(buf[offParent:])),
		FirstChildID:    types.NodeID(binary.LittleEndian.Uint64(buf[offFirstChld:])),
		NextSiblingID:   types.NodeID(binary.LittleEndian.Uint64(buf[offNextSib:])),
		TextOffset:      int64(binary.LittleEndian.Uint64(buf[offTextOff:])),
		TextLen:         int64(binary.LittleEndian.Uint64(buf[offTextLen:])),
		EmbeddingOffset: int64(binary.LittleEndian.Uint64(buf[offEmbOff:])),
		CreatedAtNs:     int64(binary.LittleEndian.Uint64(buf[offCreatedAt:])),
	}, nil
}

// SetTombstone marks id as soft-deleted. Tombstoned nodes keep their text
// and embedding in place (compaction is a separate, unimplemented concern)
// but are skipped by search and tree traversal.
func (nt *NodeTable) SetTombstone(id types.NodeID, tombstoned bool) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	off, err := nt.recordOffset(id)
	if err != nil {
		return err
	}
	if tombstoned {
		nt.rel.Bytes()[off+offLevel] |= tombstoneFlag
	} else {
		nt.rel.Bytes()[off+offLevel] &^= tombstoneFlag
	}
	return nil
}

// SetFirstChild patches the first_child_id field of parent's record.
func (nt *NodeTable) SetFirstChild(parent, child types.NodeID) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	off, err := nt.recordOffset(parent)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(nt.rel.Bytes()[off+offFirstChld:], uint64(child))
	return nil
}

// SetNextSibling patches the next_sibling_id field of id's record.
func (nt *NodeTable) SetNextSibling(id, sibling types.NodeID) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	off, err := nt.recordOffset(id)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(nt.rel.Bytes()[off+offNextSib:], uint64(sibling))
	return nil
}

// SetText copies data into the text arena and points id's record at it.
func (nt *NodeTable) SetText(id types.NodeID, data []byte) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	recOff, err := nt.recordOffset(id)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		binary.LittleEndian.PutUint64(nt.rel.Bytes()[recOff+offTextOff:], 0)
		binary.LittleEndian.PutUint64(nt.rel.Bytes()[recOff+offTextLen:], 0)
		return nil
	}

	textOff, err := nt.text.Alloc(int64(len(data)), 1)
	if err != nil {
		return types.WrapError("storage.SetText", types.ErrNomem, err)
	}
	copy(nt.text.Bytes()[textOff:textOff+int64(len(data))], data)

	binary.LittleEndian.PutUint64(nt.rel.Bytes()[recOff+offTextOff:], uint64(textOff))
	binary.LittleEndian.PutUint64(nt.rel.Bytes()[recOff+offTextLen:], uint64(len(data)))
	return nil
}

// GetText returns the bytes referenced by id's record, or nil if empty.
func (nt *NodeTable) GetText(id types.NodeID) ([]byte, error) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	recOff, err := nt.recordOffset(id)
	if err != nil {
		return nil, err
	}
	buf := nt.rel.Bytes()
	textOff := int64(binary.LittleEndian.Uint64(buf[recOff+offTextOff:]))
	textLen := int64(binary.LittleEndian.Uint64(buf[recOff+offTextLen:]))
	if textLen == 0 {
		return nil, nil
	}
	out := make([]byte, textLen)
	copy(out, nt.text.Bytes()[textOff:textOff+textLen])
	return out, nil
}

// SetEmbedding packs vec as float32[D] into the embeddings arena and points
// id's record at it. A node's embedding may be replaced; the old bytes are
// intentionally leaked (append-dominated workload, no compaction).
func (nt *NodeTable) SetEmbedding(id types.NodeID, vec types.Embedding) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	recOff, err := nt.recordOffset(id)
	if err != nil {
		return err
	}

	size := int64(len(vec) * 4)
	embOff, err := nt.emb.Alloc(size, 4)
	if err != nil {
		return types.WrapError("storage.SetEmbedding", types.ErrNomem, err)
	}
	buf := nt.emb.Bytes()[embOff : embOff+size]
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	binary.LittleEndian.PutUint64(nt.rel.Bytes()[recOff+offEmbOff:], uint64(embOff))
	return nil
}

// GetEmbedding returns the D-dimensional vector for id, or nil if absent.
func (nt *NodeTable) GetEmbedding(id types.NodeID) (types.Embedding, error) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	recOff, err := nt.recordOffset(id)
	if err != nil {
		return nil, err
	}
	embOff := int64(binary.LittleEndian.Uint64(nt.rel.Bytes()[recOff+offEmbOff:]))
	if embOff == types.InvalidOffset || nt.dim == 0 {
		return nil, nil
	}
	size := int64(nt.dim * 4)
	buf := nt.emb.Bytes()[embOff : embOff+size]
	vec := make(types.Embedding, nt.dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// Count returns the number of allocated node records.
func (nt *NodeTable) Count() uint64 {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return nt.count
}

// Sync flushes all three arenas to durable storage and checkpoints the
// bump pointers.
func (nt *NodeTable) Sync() error {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if err := nt.rel.Sync(); err != nil {
		return err
	}
	if err := nt.text.Sync(); err != nil {
		return err
	}
	if err := nt.emb.Sync(); err != nil {
		return err
	}
	return nt.saveManifestLocked()
}

// Close checkpoints the bump pointers and releases the arenas.
func (nt *NodeTable) Close() error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.saveManifestLocked()
	nt.rel.Close()
	nt.text.Close()
	nt.emb.Close()
	return nil
}

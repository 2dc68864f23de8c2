// Package types defines the core data types for the memory service.
package types

import (
	"time"
)

// EmbeddingDim is the dimension of embedding vectors (all-MiniLM-L6-v2).
const EmbeddingDim = 384

// HierarchyLevel represents the level in the memory hierarchy.
type HierarchyLevel uint8

const (
	LevelStatement HierarchyLevel = iota // Individual sentence or code line
	LevelBlock                           // Logical section (code, explanation, tool output)
	LevelMessage                         // Single turn in conversation
	LevelSession                         // Entire agent work session
	LevelAgent                           // Agent instance (optional)
)

func (l HierarchyLevel) String() string {
	switch l {
	case LevelStatement:
		return "statement"
	case LevelBlock:
		return "block"
	case LevelMessage:
		return "message"
	case LevelSession:
		return "session"
	case LevelAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// NodeID is a unique identifier for a node in the hierarchy. Ids are dense,
// allocated sequentially starting at 1, and never reused.
type NodeID uint64

// InvalidNodeID is the sentinel marking the absence of a node (e.g. a root's
// parent). Node id 0 is reserved for it, so real ids start at 1.
const InvalidNodeID NodeID = 0

// InvalidOffset marks the absence of an arena offset (e.g. a node with no
// embedding yet).
const InvalidOffset int64 = -1

// Embedding represents a vector embedding.
type Embedding []float32

// Node represents a node in the memory hierarchy. TextOffset/TextLen and
// EmbeddingOffset point into the text and embedding arenas owned by the
// hierarchy; Content is a materialized copy of the arena bytes kept for
// convenient JSON responses and in-memory search, not a second source of
// truth.
type Node struct {
	ID              NodeID         `json:"id"`
	Level           HierarchyLevel `json:"level"`
	ParentID        NodeID         `json:"parent_id,omitempty"`
	FirstChildID    NodeID         `json:"first_child_id,omitempty"`
	NextSiblingID   NodeID         `json:"next_sibling_id,omitempty"`
	AgentID         string         `json:"agent_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Content         string         `json:"content,omitempty"`
	Role            string         `json:"role,omitempty"` // user, assistant, tool
	CreatedAt       time.Time      `json:"created_at"`
	SequenceNum     uint64         `json:"sequence_num"`
	TextOffset      int64          `json:"-"`
	TextLen         int64          `json:"-"`
	EmbeddingOffset int64          `json:"-"`
	Tombstoned      bool           `json:"tombstoned,omitempty"`
}

// Session represents a conversation session.
type Session struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	Title        string    `json:"title,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Identifiers  []string  `json:"identifiers,omitempty"`
	FilesTouched []string  `json:"files_touched,omitempty"`
	RootNodeID   NodeID    `json:"root_node_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	SequenceNum  uint64    `json:"sequence_num"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	NodeID         NodeID         `json:"node_id"`
	Level          HierarchyLevel `json:"level"`
	Content        string         `json:"content"`
	AgentID        string         `json:"agent_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	RelevanceScore float32        `json:"relevance_score"`
	RecencyScore   float32        `json:"recency_score"`
	CombinedScore  float32        `json:"combined_score"`
	TokenCount     int            `json:"token_count,omitempty"` // Estimated token count
}

// SearchResponse wraps search results with metadata.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	Truncated    bool           `json:"truncated"`
	TokensUsed   int            `json:"tokens_used,omitempty"`
}

// SearchOptions configures a search query.
type SearchOptions struct {
	Query       string         `json:"query"`
	TopLevel    HierarchyLevel `json:"top_level,omitempty"`
	BottomLevel HierarchyLevel `json:"bottom_level,omitempty"`
	MaxResults  int            `json:"max_results,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`   // Token budget for results
	SessionID   string         `json:"session_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	AfterTime   int64          `json:"after_time,omitempty"`  // Unix timestamp (nanoseconds)
	BeforeTime  int64          `json:"before_time,omitempty"` // Unix timestamp (nanoseconds)
}

// MaxKeywords is the maximum number of keywords per session.
const MaxKeywords = 32

// MaxIdentifiers is the maximum number of identifiers per session.
const MaxIdentifiers = 128

// MaxFilesTouched is the maximum number of files tracked per session.
const MaxFilesTouched = 64

// MaxSessionKeyLen is the maximum byte length of an external session key.
const MaxSessionKeyLen = 127

// MaxAgentKeyLen is the maximum byte length of an external agent key.
const MaxAgentKeyLen = 63

// MaxContentLen is the maximum byte length of a stored message's content.
const MaxContentLen = 65536

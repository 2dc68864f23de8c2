package types

import (
	"time"
)

// Config holds all configuration for the memory service.
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Embedding configuration
	Embedding EmbeddingConfig `json:"embedding"`

	// Search configuration
	Search SearchConfig `json:"search"`

	// Logging configuration
	Log LogConfig `json:"log"`

	// Events configuration
	Events EventsConfig `json:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	DataDir      string `json:"data_dir"`
	MaxNodeCount uint64 `json:"max_node_count"`
	SyncWrites   bool   `json:"sync_writes"`
	CacheSize    int64  `json:"cache_size"` // Pebble idempotency-index cache size in bytes

	// ArenaSize is the initial size in bytes of each mmap-backed arena file
	// (relations, text, embeddings) before growth kicks in.
	ArenaSize int64 `json:"arena_size"`

	// UseMmap selects the mmap arena flavor; false uses heap arenas (useful
	// for tests and ephemeral runs with no data_dir).
	UseMmap bool `json:"use_mmap"`
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	ModelPath     string `json:"model_path"`
	VocabPath     string `json:"vocab_path"`
	BatchSize     int    `json:"batch_size"`
	MaxSeqLength  int    `json:"max_seq_length"`
	UseGPU        bool   `json:"use_gpu"`
	DeviceID      int    `json:"device_id"`
	Provider      string `json:"provider"` // cpu, cuda, coreml, directml, migraphx
}

// SearchConfig holds search configuration.
type SearchConfig struct {
	// HNSW parameters
	HNSWM            int `json:"hnsw_m"`              // Max connections per layer
	HNSWEfConstruct  int `json:"hnsw_ef_construct"`   // Construction search width
	HNSWEfSearch     int `json:"hnsw_ef_search"`      // Query search width

	// Ranking weights. RelevanceWeight/RecencyWeight/LevelBoostWeight combine
	// at the top level (w_rel/w_rec/w_lvl); SemanticWeight/ExactWeight
	// combine the two relevance partials (w_sem/w_exact) before that.
	RelevanceWeight  float32 `json:"relevance_weight"`
	RecencyWeight    float32 `json:"recency_weight"`
	LevelBoostWeight float32 `json:"level_boost_weight"`
	SemanticWeight   float32 `json:"semantic_weight"`
	ExactWeight      float32 `json:"exact_weight"`

	// HalfLifeMs controls the recency decay: recency = exp(-ln2*age_ms/HalfLifeMs).
	HalfLifeMs int64 `json:"half_life_ms"`

	// MinSemanticScore drops semantic-only candidates below this cosine
	// similarity; approximate nearest neighbor search always returns k
	// results however distant, and the tail is noise. Keyword matches are
	// never dropped.
	MinSemanticScore float32 `json:"min_semantic_score"`

	// Default limits
	DefaultMaxResults int `json:"default_max_results"`
	MaxTokenBudget    int `json:"max_token_budget"`
}

// EventsConfig controls the JSONL event log.
type EventsConfig struct {
	Emit bool `json:"emit_events"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `json:"level"`  // trace, debug, info, warn, error
	Format string `json:"format"` // text, json
	Output string `json:"output"` // stdout, stderr, file path
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:      "./data",
			MaxNodeCount: 10_000_000,
			SyncWrites:   false,
			CacheSize:    256 << 20, // 256 MB
			ArenaSize:    4 << 20,   // 4 MB initial mmap size per arena file
			UseMmap:      true,
		},
		Embedding: EmbeddingConfig{
			ModelPath:    "./models/all-MiniLM-L6-v2.onnx",
			VocabPath:    "./models/vocab.txt",
			BatchSize:    32,
			MaxSeqLength: 512,
			UseGPU:       false,
			DeviceID:     0,
			Provider:     "cpu",
		},
		Search: SearchConfig{
			HNSWM:             16,
			HNSWEfConstruct:   200,
			HNSWEfSearch:      50,
			RelevanceWeight:   0.6,
			RecencyWeight:     0.3,
			LevelBoostWeight:  0.1,
			SemanticWeight:    0.5,
			ExactWeight:       0.5,
			HalfLifeMs:        3_600_000,
			MinSemanticScore:  0.25,
			DefaultMaxResults: 10,
			MaxTokenBudget:    4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Events: EventsConfig{
			Emit: true,
		},
	}
}

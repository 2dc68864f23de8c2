// Command memory-server runs the hierarchical memory service: JSON-RPC over
// HTTP (and optionally stdio), backed by the arena-based hierarchy store and
// the per-level HNSW + inverted search indices.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/memory-go/internal/api"
	"github.com/anthropics/memory-go/internal/core"
	"github.com/anthropics/memory-go/internal/embedding"
	"github.com/anthropics/memory-go/internal/events"
	"github.com/anthropics/memory-go/internal/search"
	"github.com/anthropics/memory-go/internal/session"
	"github.com/anthropics/memory-go/internal/storage"
	"github.com/anthropics/memory-go/pkg/types"
)

func main() {
	config, stdio := parseFlags()

	svc, err := buildService(config)
	if err != nil {
		log.Fatalf("initialization failed: %v", err)
	}

	if stdio {
		runStdio(svc)
		return
	}
	runHTTP(config, svc)
}

type service struct {
	store    *storage.Store
	server   *api.Server
	emitter  *events.Emitter
	embedder embedding.Engine
}

func parseFlags() (*types.Config, bool) {
	config := types.DefaultConfig()

	// The config file loads before flag parsing so that explicit flags
	// override file values; find it with a pre-scan of the arguments.
	if path := configArg(os.Args[1:]); path != "" {
		if err := loadConfigFile(path, config); err != nil {
			log.Fatalf("config file %s: %v", path, err)
		}
	}

	flag.String("config", "", "JSON config file; flags override its values")
	stdio := flag.Bool("stdio", false, "serve JSON-RPC over stdin/stdout instead of HTTP")

	flag.IntVar(&config.Server.Port, "port", config.Server.Port, "HTTP listener port")
	flag.StringVar(&config.Storage.DataDir, "data-dir", config.Storage.DataDir, "root of persisted state")
	flag.Int64Var(&config.Storage.ArenaSize, "arena-size", config.Storage.ArenaSize, "initial size of each mmap arena file in bytes")
	flag.BoolVar(&config.Storage.UseMmap, "mmap", config.Storage.UseMmap, "use mmap-backed arenas (false keeps everything on the heap)")

	flag.IntVar(&config.Search.HNSWM, "hnsw-m", config.Search.HNSWM, "HNSW max neighbors per layer")
	flag.IntVar(&config.Search.HNSWEfConstruct, "hnsw-ef-construct", config.Search.HNSWEfConstruct, "HNSW construction beam width")
	flag.IntVar(&config.Search.HNSWEfSearch, "hnsw-ef-search", config.Search.HNSWEfSearch, "HNSW query beam width")
	flag.IntVar(&config.Search.DefaultMaxResults, "max-results", config.Search.DefaultMaxResults, "default query result cap")

	wRel := flag.Float64("w-relevance", float64(config.Search.RelevanceWeight), "ranking weight for relevance")
	wRec := flag.Float64("w-recency", float64(config.Search.RecencyWeight), "ranking weight for recency")
	wLvl := flag.Float64("w-level", float64(config.Search.LevelBoostWeight), "ranking weight for level boost")

	flag.StringVar(&config.Embedding.ModelPath, "model", config.Embedding.ModelPath, "ONNX embedding model path")
	flag.StringVar(&config.Embedding.Provider, "provider", config.Embedding.Provider, "embedding provider (cpu, cuda, coreml, stub)")
	flag.BoolVar(&config.Events.Emit, "emit-events", config.Events.Emit, "append to the JSONL event log")

	flag.Parse()

	config.Search.RelevanceWeight = float32(*wRel)
	config.Search.RecencyWeight = float32(*wRec)
	config.Search.LevelBoostWeight = float32(*wLvl)

	return config, *stdio
}

// configArg extracts the -config value from raw arguments without parsing
// the rest of the flag set.
func configArg(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		for _, prefix := range []string{"-config", "--config"} {
			if arg == prefix && i+1 < len(args) {
				return args[i+1]
			}
			if len(arg) > len(prefix)+1 && arg[:len(prefix)+1] == prefix+"=" {
				return arg[len(prefix)+1:]
			}
		}
	}
	return ""
}

func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, config)
}

func buildService(config *types.Config) (*service, error) {
	if config.Storage.DataDir != "" {
		if err := os.MkdirAll(config.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	embedder, err := embedding.NewEngine(config.Embedding)
	if err != nil {
		log.Printf("embedding engine unavailable (%v), falling back to stub", err)
		embedder = embedding.NewStubEngine()
	}
	log.Printf("embedding provider: %s (dim %d)", embedder.Provider(), embedder.Dimension())

	store, err := storage.Open(config.Storage, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	hierarchy, err := core.NewHierarchyManager(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("hierarchy: %w", err)
	}

	sessions, err := session.NewManager(store, hierarchy)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sessions: %w", err)
	}

	searchEngine, err := search.NewEngine(hierarchy, embedder, config.Search)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("search: %w", err)
	}

	emitter, err := events.NewEmitter(config.Storage.DataDir, config.Events.Emit)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("events: %w", err)
	}

	server := api.NewServer(config.Server, store, hierarchy, searchEngine, sessions, embedder, emitter)
	return &service{store: store, server: server, emitter: emitter, embedder: embedder}, nil
}

func runHTTP(config *types.Config, svc *service) {
	done := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()
		if err := svc.server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		svc.teardown()
		close(done)
	}()

	log.Printf("memory service listening on :%d (data: %s)", config.Server.Port, config.Storage.DataDir)
	if err := svc.server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
	<-done
}

func runStdio(svc *service) {
	defer svc.teardown()
	if err := svc.server.ServeStdio(os.Stdin, os.Stdout); err != nil {
		log.Fatalf("stdio transport: %v", err)
	}
}

func (svc *service) teardown() {
	if svc.emitter != nil {
		svc.emitter.Flush()
		svc.emitter.Close()
	}
	if svc.embedder != nil {
		svc.embedder.Close()
	}
	if svc.store != nil {
		if err := svc.store.Sync(); err != nil {
			log.Printf("storage sync: %v", err)
		}
		if err := svc.store.Close(); err != nil {
			log.Printf("storage close: %v", err)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/memory-go/internal/core"
	"github.com/anthropics/memory-go/internal/embedding"
	"github.com/anthropics/memory-go/internal/events"
	"github.com/anthropics/memory-go/internal/parser"
	"github.com/anthropics/memory-go/internal/search"
	"github.com/anthropics/memory-go/internal/session"
	"github.com/anthropics/memory-go/internal/storage"
	"github.com/anthropics/memory-go/pkg/types"
)

// maxQueryResults and maxDrillDownResults bound the result set an RPC
// caller may request, regardless of what they ask for.
const (
	maxQueryResults     = 100
	maxDrillDownResults = 100
	contentPreviewLen   = 1000
	siblingPreviewLen   = 100
	maxZoomOutSiblings  = 20
)

// Server is the HTTP server for the memory service.
type Server struct {
	config     types.ServerConfig
	store      *storage.Store
	hierarchy  *core.HierarchyManager
	search     *search.Engine
	sessions   *session.Manager
	embedder   embedding.Engine
	emitter    *events.Emitter
	extractor  *session.Extractor
	decomposer *parser.TextDecomposer

	httpServer   *http.Server
	startTime    time.Time
	requestCount atomic.Uint64
	successCount atomic.Uint64
	errorCount   atomic.Uint64
	latencySumMs atomic.Uint64
	latencies    latencyRing
}

// latencyRing keeps the most recent request latencies for percentile
// estimation on /metrics scrapes.
type latencyRing struct {
	mu      sync.Mutex
	samples [1024]float64
	count   int
	next    int
}

func (r *latencyRing) record(ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = ms
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

// percentile returns the p-th percentile (p in (0,1]) over the retained
// window, or 0 with no samples yet.
func (r *latencyRing) percentile(p float64) float64 {
	r.mu.Lock()
	window := make([]float64, r.count)
	copy(window, r.samples[:r.count])
	r.mu.Unlock()

	if len(window) == 0 {
		return 0
	}
	sort.Float64s(window)
	idx := int(p*float64(len(window))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(window) {
		idx = len(window) - 1
	}
	return window[idx]
}

// NewServer creates a new HTTP server.
func NewServer(
	config types.ServerConfig,
	store *storage.Store,
	hierarchy *core.HierarchyManager,
	searchEngine *search.Engine,
	sessions *session.Manager,
	embedder embedding.Engine,
	emitter *events.Emitter,
) *Server {
	return &Server{
		config:     config,
		store:      store,
		hierarchy:  hierarchy,
		search:     searchEngine,
		sessions:   sessions,
		embedder:   embedder,
		emitter:    emitter,
		extractor:  session.NewExtractor(),
		decomposer: parser.NewTextDecomposer(),
		startTime:  time.Now(),
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/rpc", s.handleRPC)

	mux.HandleFunc("/store", s.handleRESTStore)
	mux.HandleFunc("/query", s.handleRESTQuery)
	mux.HandleFunc("/drill_down", s.handleRESTDrillDown)
	mux.HandleFunc("/zoom_out", s.handleRESTZoomOut)
	mux.HandleFunc("/get_context", s.handleRESTGetContext)
	mux.HandleFunc("/sessions", s.handleRESTSessions)
	mux.HandleFunc("/sessions/", s.handleRESTSessionByID)
	mux.HandleFunc("/nodes/", s.handleRESTNodeByID)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)

	handler := s.loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		log.Printf("%s %s %d %s", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleRPC handles JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.requestCount.Add(1)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.recordError(start)
		s.writeError(w, nil, types.RPCParseError, "failed to read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.recordError(start)
		s.writeError(w, nil, types.RPCParseError, "invalid JSON")
		return
	}

	if rpcErr := req.Validate(); rpcErr != nil {
		s.recordError(start)
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	result, rpcErr := s.dispatch(&req, events.NewTraceID())
	if rpcErr != nil {
		s.recordError(start)
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	s.recordSuccess(start)
	s.writeResult(w, req.ID, result)
}

func (s *Server) recordSuccess(start time.Time) {
	s.successCount.Add(1)
	elapsed := time.Since(start)
	s.latencySumMs.Add(uint64(elapsed.Milliseconds()))
	s.latencies.record(float64(elapsed.Microseconds()) / 1000.0)
}

func (s *Server) recordError(start time.Time) {
	s.errorCount.Add(1)
	elapsed := time.Since(start)
	s.latencySumMs.Add(uint64(elapsed.Milliseconds()))
	s.latencies.record(float64(elapsed.Microseconds()) / 1000.0)
}

// dispatch routes a request to the appropriate handler. traceID correlates
// any events the handler emits with this request.
func (s *Server) dispatch(req *Request, traceID string) (interface{}, *types.RPCError) {
	switch req.Method {
	case "store":
		return s.handleStore(req.Params, traceID)
	case "store_block":
		return s.handleStoreBlock(req.Params)
	case "store_statement":
		return s.handleStoreStatement(req.Params)
	case "query":
		return s.handleQuery(req.Params, traceID)
	case "drill_down":
		return s.handleDrillDown(req.Params)
	case "zoom_out":
		return s.handleZoomOut(req.Params)
	case "get_context":
		return s.handleGetContext(req.Params)
	case "list_sessions":
		return s.handleListSessions()
	case "get_session":
		return s.handleGetSession(req.Params)
	default:
		return nil, types.NewRPCError(types.RPCMethodNotFound, "method not found: "+req.Method, nil)
	}
}

// rpcErrorFor maps a hierarchy/search error to its JSON-RPC code:
// InvalidArg/InvalidLevel to -32602, NotFound to -32000, everything else
// to -32603.
func rpcErrorFor(err error) *types.RPCError {
	return types.NewRPCError(types.RPCCodeForKind(types.AsKind(err)), err.Error(), nil)
}

// handleStore handles the "store" method: creates agent+session if absent,
// creates one message, decomposes content into blocks and statements,
// embeds and indexes each node.
func (s *Server) handleStore(params json.RawMessage, traceID string) (interface{}, *types.RPCError) {
	var p StoreParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}

	if p.SessionID == "" || p.AgentID == "" || p.Content == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "session_id, agent_id and content are required", nil)
	}
	if len(p.Content) > types.MaxContentLen {
		return nil, types.NewRPCError(types.RPCInvalidParams,
			fmt.Sprintf("content exceeds %d bytes", types.MaxContentLen), nil)
	}

	sess, isNew, err := s.sessions.GetOrCreate(p.SessionID, p.AgentID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}

	messageNode, err := s.hierarchy.CreateMessage(sess.RootNodeID, p.Role, p.Content)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	s.indexWithEmbedding(messageNode)

	decomp := s.decomposer.Decompose(p.Content)

	blocksCreated, statementsCreated := 0, 0
	for _, block := range decomp.Blocks {
		blockContent := block.Content(decomp.Source)
		blockNode, err := s.hierarchy.CreateBlock(messageNode.ID, blockContent)
		if err != nil {
			log.Printf("[store] failed to create block node: %v", err)
			continue
		}
		blocksCreated++
		s.indexWithEmbedding(blockNode)

		for _, stmt := range block.Statements {
			stmtContent := stmt.Content(decomp.Source)
			if stmtContent == "" {
				continue
			}
			stmtNode, err := s.hierarchy.CreateStatement(blockNode.ID, stmtContent)
			if err != nil {
				log.Printf("[store] failed to create statement node: %v", err)
				continue
			}
			statementsCreated++
			s.indexWithEmbedding(stmtNode)
		}
	}

	keywords, identifiers, files := s.extractor.Extract(p.Content)
	s.sessions.AddKeywords(p.SessionID, keywords)
	s.sessions.AddIdentifiers(p.SessionID, identifiers)
	s.sessions.AddFilesTouched(p.SessionID, files)

	if s.emitter != nil {
		s.emitter.Emit(events.MemoryStored, traceID, map[string]any{
			"node_id":    messageNode.ID,
			"session_id": p.SessionID,
			"agent_id":   p.AgentID,
			"blocks":     blocksCreated,
			"statements": statementsCreated,
		})
	}

	return &StoreResult{
		AgentID:           p.AgentID,
		SessionID:         p.SessionID,
		MessageID:         messageNode.ID,
		BlocksCreated:     blocksCreated,
		StatementsCreated: statementsCreated,
		NewSession:        isNew,
	}, nil
}

// indexWithEmbedding embeds a freshly created node's content and feeds it
// into the search indices. Embedding failures are non-fatal: the node still
// reaches the lexical index and tree traversal, it just won't surface in
// semantic search until re-embedded.
func (s *Server) indexWithEmbedding(node *types.Node) {
	var emb types.Embedding
	if s.embedder != nil {
		if v, err := s.embedder.Embed(node.Content); err == nil {
			emb = v
		}
	}
	if len(emb) > 0 {
		if err := s.hierarchy.SetEmbedding(node.ID, emb); err != nil {
			emb = nil
		}
	}
	s.search.IndexNode(node, emb)
}

// handleStoreBlock handles the "store_block" method.
func (s *Server) handleStoreBlock(params json.RawMessage) (interface{}, *types.RPCError) {
	var p StoreBlockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.ParentID == 0 || p.Content == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "parent_id and content are required", nil)
	}

	node, err := s.hierarchy.CreateBlock(p.ParentID, p.Content)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	s.indexWithEmbedding(node)

	return &StoreBlockResult{BlockID: node.ID}, nil
}

// handleStoreStatement handles the "store_statement" method.
func (s *Server) handleStoreStatement(params json.RawMessage) (interface{}, *types.RPCError) {
	var p StoreStatementParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.ParentID == 0 || p.Content == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "parent_id and content are required", nil)
	}

	node, err := s.hierarchy.CreateStatement(p.ParentID, p.Content)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	s.indexWithEmbedding(node)

	return &StoreStatementResult{StatementID: node.ID}, nil
}

// handleQuery handles the "query" method.
func (s *Server) handleQuery(params json.RawMessage, traceID string) (interface{}, *types.RPCError) {
	var p QueryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.Query == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "query is required", nil)
	}

	opts := types.SearchOptions{
		Query:      p.Query,
		MaxResults: p.MaxResults,
		MaxTokens:  p.MaxTokens,
		SessionID:  p.SessionID,
		AgentID:    p.AgentID,
		AfterTime:  p.AfterTime,
		BeforeTime: p.BeforeTime,
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.MaxResults > maxQueryResults {
		opts.MaxResults = maxQueryResults
	}

	opts.TopLevel, opts.BottomLevel = types.LevelSession, types.LevelStatement
	if p.TopLevel != nil {
		opts.TopLevel = *p.TopLevel
	}
	if p.BottomLevel != nil {
		opts.BottomLevel = *p.BottomLevel
	}
	if p.Level != nil {
		opts.TopLevel = *p.Level
		opts.BottomLevel = *p.Level
	}

	resp, err := s.search.SearchWithResponse(opts)
	if err != nil {
		return nil, rpcErrorFor(err)
	}

	hits := make([]QueryHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := r.Content
		if len(content) > contentPreviewLen {
			content = content[:contentPreviewLen]
		}
		hits = append(hits, QueryHit{
			NodeID:        r.NodeID,
			Level:         r.Level,
			Score:         r.CombinedScore,
			Content:       content,
			ChildrenCount: s.hierarchy.CountDescendants(r.NodeID),
		})
	}

	result := &QueryResult{
		Results:      hits,
		TotalMatches: resp.TotalResults,
		TopLevel:     opts.TopLevel,
		BottomLevel:  opts.BottomLevel,
		Truncated:    resp.Truncated,
	}

	if s.emitter != nil {
		s.emitter.Emit(events.QueryPerformed, traceID, map[string]any{
			"query":        p.Query,
			"result_count": len(hits),
			"session_id":   p.SessionID,
		})
	}

	return result, nil
}

// handleGetContext handles the "get_context" method.
func (s *Server) handleGetContext(params json.RawMessage) (interface{}, *types.RPCError) {
	var p GetContextParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.ID == 0 {
		return nil, types.NewRPCError(types.RPCInvalidParams, "id is required", nil)
	}

	node, err := s.hierarchy.GetNode(p.ID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCServerError, "node not found", nil)
	}

	result := &GetContextResult{Node: node}

	if p.IncludeParent {
		if parent, err := s.hierarchy.GetParent(p.ID); err == nil {
			result.Parent = parent
		}
	}

	if p.IncludeSiblings {
		if siblings, err := s.hierarchy.GetSiblings(p.ID); err == nil {
			result.Siblings = siblings
		}
	}

	if p.IncludeChildren {
		if children, err := s.hierarchy.GetChildren(p.ID); err == nil {
			result.Children = children
		}
	}

	return result, nil
}

// handleDrillDown handles the "drill_down" method.
func (s *Server) handleDrillDown(params json.RawMessage) (interface{}, *types.RPCError) {
	var p DrillDownParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.ID == 0 {
		return nil, types.NewRPCError(types.RPCInvalidParams, "id is required", nil)
	}

	if _, err := s.hierarchy.GetNode(p.ID); err != nil {
		return nil, rpcErrorFor(err)
	}

	children, err := s.hierarchy.GetChildren(p.ID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}

	if p.Filter != "" {
		filtered := make([]*types.Node, 0)
		for _, child := range children {
			if containsIgnoreCase(child.Content, p.Filter) {
				filtered = append(filtered, child)
			}
		}
		children = filtered
	}

	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = maxDrillDownResults
	}
	if maxResults > maxDrillDownResults {
		maxResults = maxDrillDownResults
	}
	if len(children) > maxResults {
		children = children[:maxResults]
	}

	return &DrillDownResult{Children: children}, nil
}

// handleZoomOut handles the "zoom_out" method: the node plus its ancestor
// chain (parent to root) and up to 20 sibling previews.
func (s *Server) handleZoomOut(params json.RawMessage) (interface{}, *types.RPCError) {
	var p ZoomOutParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.ID == 0 {
		return nil, types.NewRPCError(types.RPCInvalidParams, "id is required", nil)
	}

	node, err := s.hierarchy.GetNode(p.ID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}

	chain, err := s.hierarchy.GetAncestors(p.ID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	// Parent first, up to the session; the agent root above it is an
	// implementation detail, not part of the navigable chain.
	ancestors := make([]*types.Node, 0, len(chain))
	for _, a := range chain {
		if a.Level != types.LevelAgent {
			ancestors = append(ancestors, a)
		}
	}

	var previews []ZoomOutSibling
	if siblings, err := s.hierarchy.GetSiblings(p.ID); err == nil {
		for _, sib := range siblings {
			if len(previews) >= maxZoomOutSiblings {
				break
			}
			preview := sib.Content
			if len(preview) > siblingPreviewLen {
				preview = preview[:siblingPreviewLen]
			}
			previews = append(previews, ZoomOutSibling{NodeID: sib.ID, Preview: preview})
		}
	}

	return &ZoomOutResult{Node: node, Ancestors: ancestors, Siblings: previews}, nil
}

// handleListSessions handles the "list_sessions" method. Iteration order
// over the underlying store is unspecified, so results are sorted by
// created_at descending for a canonical order.
func (s *Server) handleListSessions() (interface{}, *types.RPCError) {
	sessions := s.sessions.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return &ListSessionsResult{Sessions: sessions}, nil
}

// handleGetSession handles the "get_session" method.
func (s *Server) handleGetSession(params json.RawMessage) (interface{}, *types.RPCError) {
	var p GetSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.SessionID == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "session_id is required", nil)
	}

	sess, err := s.sessions.Get(p.SessionID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCServerError, "session not found", nil)
	}

	messages, err := s.hierarchy.GetChildren(sess.RootNodeID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}

	return &GetSessionResult{
		NodeID:       sess.RootNodeID,
		SessionID:    sess.ID,
		AgentID:      sess.AgentID,
		MessageCount: len(messages),
	}, nil
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	nodeCount, _ := stats["node_count"].(uint64)

	result := HealthResult{
		Healthy:      true,
		Status:       "ok",
		NodeCount:    nodeCount,
		UptimeMs:     time.Since(s.startTime).Milliseconds(),
		RequestCount: s.requestCount.Load(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleMetrics handles Prometheus-style metrics requests.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	searchStats := s.search.Stats()

	w.Header().Set("Content-Type", "text/plain")

	total := s.requestCount.Load()
	success := s.successCount.Load()
	errs := s.errorCount.Load()

	fmt.Fprintf(w, "# HELP memory_service_requests_total Total number of RPC requests\n")
	fmt.Fprintf(w, "# TYPE memory_service_requests_total counter\n")
	fmt.Fprintf(w, "memory_service_requests_total %d\n", total)

	fmt.Fprintf(w, "# HELP memory_service_requests_success Total number of successful RPC requests\n")
	fmt.Fprintf(w, "# TYPE memory_service_requests_success counter\n")
	fmt.Fprintf(w, "memory_service_requests_success %d\n", success)

	fmt.Fprintf(w, "# HELP memory_service_requests_error Total number of failed RPC requests\n")
	fmt.Fprintf(w, "# TYPE memory_service_requests_error counter\n")
	fmt.Fprintf(w, "memory_service_requests_error %d\n", errs)

	var avgLatency float64
	if total > 0 {
		avgLatency = float64(s.latencySumMs.Load()) / float64(total)
	}
	fmt.Fprintf(w, "# HELP memory_service_latency_avg_ms Average RPC latency in milliseconds\n")
	fmt.Fprintf(w, "# TYPE memory_service_latency_avg_ms gauge\n")
	fmt.Fprintf(w, "memory_service_latency_avg_ms %.3f\n", avgLatency)

	fmt.Fprintf(w, "# HELP memory_service_latency_p99_ms p99 RPC latency over the recent window in milliseconds\n")
	fmt.Fprintf(w, "# TYPE memory_service_latency_p99_ms gauge\n")
	fmt.Fprintf(w, "memory_service_latency_p99_ms %.3f\n", s.latencies.percentile(0.99))

	if nodeCount, ok := stats["node_count"].(uint64); ok {
		fmt.Fprintf(w, "# HELP memory_service_nodes_indexed Total number of nodes stored\n")
		fmt.Fprintf(w, "# TYPE memory_service_nodes_indexed gauge\n")
		fmt.Fprintf(w, "memory_service_nodes_indexed %d\n", nodeCount)
	}

	if vectorStats, ok := searchStats["vector_index"].(map[string]interface{}); ok {
		if total, ok := vectorStats["total_vectors"].(int); ok {
			fmt.Fprintf(w, "# HELP memory_service_memory_bytes Approximate bytes held by indexed vectors\n")
			fmt.Fprintf(w, "# TYPE memory_service_memory_bytes gauge\n")
			fmt.Fprintf(w, "memory_service_memory_bytes %d\n", total*types.EmbeddingDim*4)
		}
	}
}

// Helper functions

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := NewResponse(id, result)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := NewErrorResponse(id, code, message, nil)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// REST endpoint handlers (for MCP proxy)

func (s *Server) handleRESTStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p StoreParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleStore(mustMarshal(p), events.NewTraceID())
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p QueryParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleQuery(mustMarshal(p), events.NewTraceID())
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTDrillDown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p DrillDownParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleDrillDown(mustMarshal(p))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTZoomOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p ZoomOutParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleZoomOut(mustMarshal(p))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTGetContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p GetContextParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleGetContext(mustMarshal(p))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, _ := s.handleListSessions()
	s.writeJSON(w, result)
}

func (s *Server) handleRESTSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "session_id required")
		return
	}

	result, rpcErr := s.handleGetSession(mustMarshal(GetSessionParams{SessionID: sessionID}))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTNodeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/nodes/")
	if idStr == "" {
		s.writeJSONError(w, http.StatusBadRequest, "node id required")
		return
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	node, err := s.hierarchy.GetNode(types.NodeID(id))
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "node not found")
		return
	}

	s.writeJSON(w, node)
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

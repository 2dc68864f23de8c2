package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/memory-go/internal/core"
	"github.com/anthropics/memory-go/internal/embedding"
	"github.com/anthropics/memory-go/internal/search"
	"github.com/anthropics/memory-go/internal/session"
	"github.com/anthropics/memory-go/internal/storage"
	"github.com/anthropics/memory-go/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := types.DefaultConfig()
	embedder := embedding.NewStubEngine()

	store, err := storage.Open(types.StorageConfig{UseMmap: false}, embedder.Dimension())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hm, err := core.NewHierarchyManager(store)
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	sessions, err := session.NewManager(store, hm)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	engine, err := search.NewEngine(hm, embedder, cfg.Search)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	return NewServer(cfg.Server, store, hm, engine, sessions, embedder, nil)
}

// rpc posts a JSON-RPC request and decodes the response envelope.
func rpc(t *testing.T, s *Server, method string, params any) (json.RawMessage, *types.RPCError) {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *types.RPCError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("malformed response %q: %v", rec.Body.String(), err)
	}
	return resp.Result, resp.Error
}

func mustRPC(t *testing.T, s *Server, method string, params any, out any) {
	t.Helper()
	result, rpcErr := rpc(t, s, method, params)
	if rpcErr != nil {
		t.Fatalf("%s: rpc error %d: %s", method, rpcErr.Code, rpcErr.Message)
	}
	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			t.Fatalf("%s: decode result: %v", method, err)
		}
	}
}

func TestRPC_StoreThenQuery(t *testing.T) {
	s := newTestServer(t)

	var stored StoreResult
	mustRPC(t, s, "store", map[string]any{
		"session_id": "s",
		"agent_id":   "a",
		"content":    "Alpha beta gamma. Delta epsilon.",
	}, &stored)

	if stored.BlocksCreated != 1 {
		t.Errorf("blocks_created = %d, want 1", stored.BlocksCreated)
	}
	if stored.StatementsCreated != 2 {
		t.Errorf("statements_created = %d, want 2", stored.StatementsCreated)
	}
	if !stored.NewSession {
		t.Error("new_session = false, want true")
	}

	var queried QueryResult
	mustRPC(t, s, "query", map[string]any{
		"query": "delta",
		"level": types.LevelStatement,
	}, &queried)

	if len(queried.Results) != 1 {
		t.Fatalf("got %d hits, want 1", len(queried.Results))
	}
	hit := queried.Results[0]
	if !strings.HasPrefix(hit.Content, "Delta") {
		t.Errorf("hit content = %q, want Delta...", hit.Content)
	}
	if hit.Level != types.LevelStatement {
		t.Errorf("hit level = %v, want statement", hit.Level)
	}
}

func TestRPC_StoreSecondMessageNotNewSession(t *testing.T) {
	s := newTestServer(t)

	var first, second StoreResult
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": "one"}, &first)
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": "two"}, &second)

	if !first.NewSession || second.NewSession {
		t.Errorf("new_session flags = %v, %v; want true, false", first.NewSession, second.NewSession)
	}
	if second.MessageID <= first.MessageID {
		t.Errorf("message ids not increasing: %d then %d", first.MessageID, second.MessageID)
	}
}

func TestRPC_DrillDownFilter(t *testing.T) {
	s := newTestServer(t)

	var stored StoreResult
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": "seed"}, &stored)

	// Hang one block with three statements off the message.
	var blk StoreBlockResult
	mustRPC(t, s, "store_block", map[string]any{"parent_id": stored.MessageID, "content": "fruit"}, &blk)

	var want []types.NodeID
	for _, content := range []string{"apple pie", "banana", "apple juice"} {
		var stmt StoreStatementResult
		mustRPC(t, s, "store_statement", map[string]any{"parent_id": blk.BlockID, "content": content}, &stmt)
		if strings.Contains(content, "apple") {
			want = append(want, stmt.StatementID)
		}
	}

	var drilled DrillDownResult
	mustRPC(t, s, "drill_down", map[string]any{"id": blk.BlockID, "filter": "APPLE"}, &drilled)

	if len(drilled.Children) != 2 {
		t.Fatalf("got %d filtered children, want 2", len(drilled.Children))
	}
	for i, child := range drilled.Children {
		if child.ID != want[i] {
			t.Errorf("filtered child[%d] = %d, want %d", i, child.ID, want[i])
		}
	}
}

func TestRPC_ZoomOutChain(t *testing.T) {
	s := newTestServer(t)

	mustRPC(t, s, "store", map[string]any{
		"session_id": "s", "agent_id": "a",
		"content": "Only sentence here.",
	}, nil)

	// Find the statement by query.
	var queried QueryResult
	mustRPC(t, s, "query", map[string]any{"query": "sentence", "level": types.LevelStatement}, &queried)
	if len(queried.Results) == 0 {
		t.Fatal("statement not found")
	}
	stmtID := queried.Results[0].NodeID

	var zoomed ZoomOutResult
	mustRPC(t, s, "zoom_out", map[string]any{"id": stmtID}, &zoomed)

	if len(zoomed.Ancestors) != 3 {
		t.Fatalf("got %d ancestors, want 3 (block, message, session)", len(zoomed.Ancestors))
	}
	wantLevels := []types.HierarchyLevel{types.LevelBlock, types.LevelMessage, types.LevelSession}
	for i, want := range wantLevels {
		if zoomed.Ancestors[i].Level != want {
			t.Errorf("ancestors[%d].Level = %v, want %v", i, zoomed.Ancestors[i].Level, want)
		}
	}
}

func TestRPC_ZoomOutSiblingPreviews(t *testing.T) {
	s := newTestServer(t)

	var stored StoreResult
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": "seed"}, &stored)

	var blk StoreBlockResult
	mustRPC(t, s, "store_block", map[string]any{"parent_id": stored.MessageID, "content": "b"}, &blk)

	long := strings.Repeat("x", 300)
	var target StoreStatementResult
	mustRPC(t, s, "store_statement", map[string]any{"parent_id": blk.BlockID, "content": "target"}, &target)
	for i := 0; i < 30; i++ {
		mustRPC(t, s, "store_statement", map[string]any{"parent_id": blk.BlockID, "content": long}, nil)
	}

	var zoomed ZoomOutResult
	mustRPC(t, s, "zoom_out", map[string]any{"id": target.StatementID}, &zoomed)

	if len(zoomed.Siblings) != 20 {
		t.Errorf("got %d sibling previews, want cap of 20", len(zoomed.Siblings))
	}
	for _, sib := range zoomed.Siblings {
		if len(sib.Preview) > 100 {
			t.Errorf("sibling preview %d bytes, want <= 100", len(sib.Preview))
		}
		if sib.NodeID == target.StatementID {
			t.Error("zoom_out siblings include the node itself")
		}
	}
}

func TestRPC_GetSessionAndList(t *testing.T) {
	s := newTestServer(t)

	mustRPC(t, s, "store", map[string]any{"session_id": "sess-a", "agent_id": "a", "content": "one"}, nil)
	mustRPC(t, s, "store", map[string]any{"session_id": "sess-a", "agent_id": "a", "content": "two"}, nil)
	mustRPC(t, s, "store", map[string]any{"session_id": "sess-b", "agent_id": "a", "content": "three"}, nil)

	var sess GetSessionResult
	mustRPC(t, s, "get_session", map[string]any{"session_id": "sess-a"}, &sess)
	if sess.SessionID != "sess-a" || sess.AgentID != "a" {
		t.Errorf("session = %+v", sess)
	}
	if sess.MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", sess.MessageCount)
	}

	var listed ListSessionsResult
	mustRPC(t, s, "list_sessions", map[string]any{}, &listed)
	if len(listed.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(listed.Sessions))
	}
	// Newest first.
	if listed.Sessions[0].CreatedAt.Before(listed.Sessions[1].CreatedAt) {
		t.Error("sessions not sorted newest-first")
	}
}

func TestRPC_GetContext(t *testing.T) {
	s := newTestServer(t)

	var stored StoreResult
	mustRPC(t, s, "store", map[string]any{
		"session_id": "s", "agent_id": "a",
		"content": "First thing. Second thing.",
	}, &stored)

	var ctx GetContextResult
	mustRPC(t, s, "get_context", map[string]any{
		"id":               stored.MessageID,
		"include_parent":   true,
		"include_children": true,
	}, &ctx)

	if ctx.Node == nil || ctx.Node.ID != stored.MessageID {
		t.Fatalf("context node = %+v", ctx.Node)
	}
	if ctx.Parent == nil || ctx.Parent.Level != types.LevelSession {
		t.Errorf("parent = %+v, want the session node", ctx.Parent)
	}
	if len(ctx.Children) == 0 {
		t.Error("children missing despite include_children")
	}
}

func TestRPC_QueryMaxResultsClamped(t *testing.T) {
	s := newTestServer(t)
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": "clamp"}, nil)

	var queried QueryResult
	mustRPC(t, s, "query", map[string]any{"query": "clamp", "max_results": 5000}, &queried)
	if len(queried.Results) > 100 {
		t.Errorf("got %d results, want clamp at 100", len(queried.Results))
	}
}

func TestRPC_QueryContentTruncated(t *testing.T) {
	s := newTestServer(t)

	long := "needle " + strings.Repeat("padding ", 500)
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": long}, nil)

	var queried QueryResult
	mustRPC(t, s, "query", map[string]any{"query": "needle"}, &queried)
	if len(queried.Results) == 0 {
		t.Fatal("no results")
	}
	for _, hit := range queried.Results {
		if len(hit.Content) > 1000 {
			t.Errorf("hit content %d bytes, want <= 1000", len(hit.Content))
		}
	}
}

func TestRPC_ErrorCodes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		params   any
		wantCode int
	}{
		{"unknown method", "no_such_method", map[string]any{}, types.RPCMethodNotFound},
		{"store missing content", "store", map[string]any{"session_id": "s"}, types.RPCInvalidParams},
		{"query missing query", "query", map[string]any{}, types.RPCInvalidParams},
		{"drill_down missing id", "drill_down", map[string]any{}, types.RPCInvalidParams},
		{"drill_down unknown id", "drill_down", map[string]any{"id": 99999}, types.RPCServerError},
		{"zoom_out unknown id", "zoom_out", map[string]any{"id": 99999}, types.RPCServerError},
		{"get_session unknown", "get_session", map[string]any{"session_id": "ghost"}, types.RPCServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := rpc(t, s, tt.method, tt.params)
			if rpcErr == nil {
				t.Fatal("expected an error")
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rpcErr.Code, tt.wantCode)
			}
		})
	}
}

func TestRPC_StoreBlockUnderWrongLevel(t *testing.T) {
	s := newTestServer(t)

	var stored StoreResult
	mustRPC(t, s, "store", map[string]any{"session_id": "s", "agent_id": "a", "content": "x"}, &stored)

	var blk StoreBlockResult
	mustRPC(t, s, "store_block", map[string]any{"parent_id": stored.MessageID, "content": "b"}, &blk)

	// A block cannot parent another block.
	_, rpcErr := rpc(t, s, "store_block", map[string]any{"parent_id": blk.BlockID, "content": "nested"})
	if rpcErr == nil {
		t.Fatal("expected InvalidLevel error")
	}
	if rpcErr.Code != types.RPCInvalidParams {
		t.Errorf("code = %d, want %d", rpcErr.Code, types.RPCInvalidParams)
	}
}

func TestRPC_ProtocolValidation(t *testing.T) {
	s := newTestServer(t)

	post := func(body string) (int, string) {
		req := httptest.NewRequest("POST", "/rpc", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.handleRPC(rec, req)

		var resp struct {
			Error *types.RPCError `json:"error"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Error == nil {
			return 0, ""
		}
		return resp.Error.Code, resp.Error.Message
	}

	if code, _ := post("{not json"); code != types.RPCParseError {
		t.Errorf("parse error code = %d, want %d", code, types.RPCParseError)
	}
	if code, _ := post(`{"jsonrpc":"1.0","method":"query","id":1}`); code != types.RPCInvalidRequest {
		t.Errorf("bad version code = %d, want %d", code, types.RPCInvalidRequest)
	}
	if code, _ := post(`{"jsonrpc":"2.0","id":1}`); code != types.RPCInvalidRequest {
		t.Errorf("missing method code = %d, want %d", code, types.RPCInvalidRequest)
	}
}

func TestRPC_ConcurrentStores(t *testing.T) {
	s := newTestServer(t)

	const workers = 10
	const perWorker = 100

	var wg sync.WaitGroup
	errs := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, rpcErr := rpc(t, s, "store", map[string]any{
					"session_id": "shared",
					"agent_id":   "a",
					"content":    fmt.Sprintf("worker %d message %d", w, i),
				})
				if rpcErr != nil {
					errs <- rpcErr.Message
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatalf("concurrent store failed: %s", msg)
	}

	var sess GetSessionResult
	mustRPC(t, s, "get_session", map[string]any{"session_id": "shared"}, &sess)
	if sess.MessageCount != workers*perWorker {
		t.Errorf("message_count = %d, want %d", sess.MessageCount, workers*perWorker)
	}
}

// Command memory-mcp exposes the memory service as MCP tools over stdio.
// Each tool maps 1-to-1 to a JSON-RPC method on a running memory-server and
// returns the method's result as a single stringified text content item.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const version = "0.2.0"

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "memory-server base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "per-call HTTP timeout")
	flag.Parse()

	rpc := &rpcClient{
		url:    *baseURL + "/rpc",
		client: &http.Client{Timeout: *timeout},
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "memory-mcp",
		Version: version,
	}, nil)
	registerTools(server, rpc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatalf("mcp server: %v", err)
	}
}

// rpcClient issues JSON-RPC 2.0 calls against the memory-server.
type rpcClient struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call invokes a method and returns the raw result JSON.
func (c *rpcClient) call(method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memory-server unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// Tool argument types. Field names match the RPC methods' parameter names so
// arguments pass through verbatim.

type storeArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
	AgentID   string `json:"agent_id,omitempty" jsonschema:"Agent identifier"`
	Content   string `json:"content" jsonschema:"Message content to store"`
	Role      string `json:"role,omitempty" jsonschema:"Conversational role (user/assistant/tool)"`
}

type storeBlockArgs struct {
	ParentID uint64 `json:"parent_id" jsonschema:"Message node to attach the block to"`
	Content  string `json:"content" jsonschema:"Block content"`
}

type storeStatementArgs struct {
	ParentID uint64 `json:"parent_id" jsonschema:"Block node to attach the statement to"`
	Content  string `json:"content" jsonschema:"Statement content"`
}

type queryArgs struct {
	Query       string `json:"query" jsonschema:"Search query text"`
	Level       string `json:"level,omitempty" jsonschema:"Restrict to one level (session/message/block/statement)"`
	TopLevel    string `json:"top_level,omitempty" jsonschema:"Highest level to search"`
	BottomLevel string `json:"bottom_level,omitempty" jsonschema:"Lowest level to search"`
	MaxResults  int    `json:"max_results,omitempty" jsonschema:"Maximum results (default 10, cap 100)"`
}

type drillDownArgs struct {
	ID         uint64 `json:"id" jsonschema:"Node to list children of"`
	Filter     string `json:"filter,omitempty" jsonschema:"Case-insensitive substring filter on child content"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum children to return (cap 100)"`
}

type zoomOutArgs struct {
	ID uint64 `json:"id" jsonschema:"Node to zoom out from"`
}

type getSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
}

func registerTools(server *mcp.Server, rpc *rpcClient) {
	proxy := func(method string) func(context.Context, *mcp.CallToolRequest, any) (*mcp.CallToolResult, any, error) {
		return func(ctx context.Context, req *mcp.CallToolRequest, args any) (*mcp.CallToolResult, any, error) {
			result, err := rpc.call(method, args)
			if err != nil {
				return nil, nil, err
			}
			return textResult(result), nil, nil
		}
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_store",
		Description: "Store a message in hierarchical memory; it is decomposed into blocks and statements and indexed for search.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args storeArgs) (*mcp.CallToolResult, any, error) {
		return proxy("store")(ctx, req, args)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_store_block",
		Description: "Attach a single block to an existing message node.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args storeBlockArgs) (*mcp.CallToolResult, any, error) {
		return proxy("store_block")(ctx, req, args)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_store_statement",
		Description: "Attach a single statement to an existing block node.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args storeStatementArgs) (*mcp.CallToolResult, any, error) {
		return proxy("store_statement")(ctx, req, args)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_query",
		Description: "Semantic + keyword search across stored memory; returns ranked hits with content previews.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryArgs) (*mcp.CallToolResult, any, error) {
		return proxy("query")(ctx, req, queryParams(args))
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_drill_down",
		Description: "List the children of a node, optionally filtered by substring, to explore deeper.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args drillDownArgs) (*mcp.CallToolResult, any, error) {
		return proxy("drill_down")(ctx, req, args)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_zoom_out",
		Description: "Get a node's ancestor chain and sibling previews for broader context.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args zoomOutArgs) (*mcp.CallToolResult, any, error) {
		return proxy("zoom_out")(ctx, req, args)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_list_sessions",
		Description: "List all conversation sessions, newest first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
		return proxy("list_sessions")(ctx, req, struct{}{})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_get_session",
		Description: "Look up a session by its external key.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getSessionArgs) (*mcp.CallToolResult, any, error) {
		return proxy("get_session")(ctx, req, args)
	})
}

// queryParams maps the tool's string levels onto the RPC method's fields,
// dropping empty ones so the server applies its defaults.
func queryParams(args queryArgs) map[string]any {
	params := map[string]any{"query": args.Query}
	if args.MaxResults > 0 {
		params["max_results"] = args.MaxResults
	}
	for key, val := range map[string]string{
		"level":        args.Level,
		"top_level":    args.TopLevel,
		"bottom_level": args.BottomLevel,
	} {
		if val != "" {
			params[key] = levelNumber(val)
		}
	}
	return params
}

func levelNumber(name string) int {
	switch name {
	case "statement":
		return 0
	case "block":
		return 1
	case "message":
		return 2
	case "session":
		return 3
	}
	return 0
}

// textResult wraps a raw JSON result as the single text content item the
// MCP tool contract requires.
func textResult(result json.RawMessage) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(result)}},
	}
}

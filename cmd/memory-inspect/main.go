// Command memory-inspect navigates a running memory service from the
// terminal: list sessions, print a session's tree, show a node with its
// ancestor path, or search.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	serverURL := fs.String("url", "http://localhost:8080", "memory-server base URL")
	depth := fs.Int("depth", 3, "tree depth to print")
	asJSON := fs.Bool("json", false, "print raw JSON instead of a tree")
	fs.Parse(os.Args[2:])

	c := &client{
		baseURL: *serverURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	switch cmd {
	case "sessions":
		c.listSessions(*asJSON)
	case "tree":
		if fs.NArg() < 1 {
			fatal("usage: memory-inspect tree SESSION_ID")
		}
		c.showTree(fs.Arg(0), *depth, *asJSON)
	case "node":
		if fs.NArg() < 1 {
			fatal("usage: memory-inspect node NODE_ID")
		}
		id, err := strconv.ParseUint(fs.Arg(0), 10, 64)
		if err != nil {
			fatal("invalid node id %q", fs.Arg(0))
		}
		c.showNode(id, *depth, *asJSON)
	case "search":
		if fs.NArg() < 1 {
			fatal("usage: memory-inspect search QUERY")
		}
		c.search(strings.Join(fs.Args(), " "), *asJSON)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `memory-inspect - navigate the memory hierarchy

Usage: memory-inspect COMMAND [flags] [args]

Commands:
  sessions              list all sessions
  tree SESSION_ID       print a session's message tree
  node NODE_ID          show a node with its ancestor path and children
  search QUERY          ranked search across all levels

Flags:
  -url URL              server base URL (default http://localhost:8080)
  -depth N              tree depth (default 3)
  -json                 raw JSON output
`)
}

type client struct {
	baseURL string
	http    *http.Client
}

// rpc calls a JSON-RPC method and returns the raw result.
func (c *client) rpc(method string, params any) (json.RawMessage, error) {
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	resp, err := c.http.Post(c.baseURL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("rpc %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return envelope.Result, nil
}

type sessionInfo struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	RootNodeID   uint64    `json:"root_node_id"`
	CreatedAt    time.Time `json:"created_at"`
	Keywords     []string  `json:"keywords"`
	FilesTouched []string  `json:"files_touched"`
}

type nodeInfo struct {
	ID      uint64 `json:"id"`
	Level   string `json:"level"`
	Content string `json:"content"`
}

func (c *client) listSessions(asJSON bool) {
	result, err := c.rpc("list_sessions", struct{}{})
	if err != nil {
		fatal("list sessions: %v", err)
	}
	if asJSON {
		fmt.Println(string(result))
		return
	}

	var parsed struct {
		Sessions []sessionInfo `json:"sessions"`
	}
	json.Unmarshal(result, &parsed)

	if len(parsed.Sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	for _, s := range parsed.Sessions {
		fmt.Printf("%s  agent=%s  created=%s\n", s.ID, s.AgentID, s.CreatedAt.Format("2006-01-02 15:04:05"))
		if len(s.Keywords) > 0 {
			fmt.Printf("  keywords: %s\n", strings.Join(s.Keywords, ", "))
		}
	}
}

func (c *client) showTree(sessionID string, depth int, asJSON bool) {
	result, err := c.rpc("get_session", map[string]string{"session_id": sessionID})
	if err != nil {
		fatal("get session: %v", err)
	}

	var sess struct {
		NodeID       uint64 `json:"node_id"`
		SessionID    string `json:"session_id"`
		AgentID      string `json:"agent_id"`
		MessageCount int    `json:"message_count"`
	}
	json.Unmarshal(result, &sess)

	if asJSON {
		tree := c.buildTree(sess.NodeID, depth)
		out, _ := json.MarshalIndent(map[string]any{"session": sess, "tree": tree}, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("session %s (agent %s, %d messages)\n", sess.SessionID, sess.AgentID, sess.MessageCount)
	c.printTree(sess.NodeID, depth, "")
}

func (c *client) showNode(id uint64, depth int, asJSON bool) {
	result, err := c.rpc("zoom_out", map[string]uint64{"id": id})
	if err != nil {
		fatal("zoom out: %v", err)
	}

	var zoom struct {
		Node      nodeInfo   `json:"node"`
		Ancestors []nodeInfo `json:"ancestors"`
	}
	json.Unmarshal(result, &zoom)

	if asJSON {
		fmt.Println(string(result))
		return
	}

	// Ancestors arrive parent-first; print the breadcrumb root-first.
	for i := len(zoom.Ancestors) - 1; i >= 0; i-- {
		a := zoom.Ancestors[i]
		indent := strings.Repeat("  ", len(zoom.Ancestors)-1-i)
		fmt.Printf("%s[%s #%d] %s\n", indent, a.Level, a.ID, preview(a.Content, 50))
	}

	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("[%s #%d]\n%s\n", zoom.Node.Level, zoom.Node.ID, zoom.Node.Content)
	fmt.Println(strings.Repeat("─", 60))
	c.printTree(id, depth, "")
}

func (c *client) search(query string, asJSON bool) {
	result, err := c.rpc("query", map[string]any{"query": query, "max_results": 20})
	if err != nil {
		fatal("search: %v", err)
	}
	if asJSON {
		fmt.Println(string(result))
		return
	}

	var parsed struct {
		Results []struct {
			NodeID  uint64  `json:"node_id"`
			Level   string  `json:"level"`
			Score   float64 `json:"score"`
			Content string  `json:"content"`
		} `json:"results"`
		TotalMatches int `json:"total_matches"`
	}
	json.Unmarshal(result, &parsed)

	if len(parsed.Results) == 0 {
		fmt.Println("no results")
		return
	}
	fmt.Printf("%d matches for %q:\n\n", parsed.TotalMatches, query)
	for i, r := range parsed.Results {
		fmt.Printf("%2d. [%s #%d] score=%.3f\n    %s\n", i+1, r.Level, r.NodeID, r.Score, preview(r.Content, 90))
	}
}

func (c *client) children(parentID uint64) []nodeInfo {
	result, err := c.rpc("drill_down", map[string]any{"id": parentID, "max_results": 100})
	if err != nil {
		return nil
	}
	var parsed struct {
		Children []nodeInfo `json:"children"`
	}
	json.Unmarshal(result, &parsed)
	return parsed.Children
}

func (c *client) printTree(parentID uint64, depth int, prefix string) {
	if depth <= 0 {
		return
	}
	children := c.children(parentID)
	for i, child := range children {
		connector, childPrefix := "├─", prefix+"│  "
		if i == len(children)-1 {
			connector, childPrefix = "└─", prefix+"   "
		}
		fmt.Printf("%s%s [%s #%d] %s\n", prefix, connector, child.Level, child.ID, preview(child.Content, 60))
		c.printTree(child.ID, depth-1, childPrefix)
	}
}

func (c *client) buildTree(parentID uint64, depth int) []map[string]any {
	if depth <= 0 {
		return nil
	}
	children := c.children(parentID)
	out := make([]map[string]any, 0, len(children))
	for _, child := range children {
		out = append(out, map[string]any{
			"id":       child.ID,
			"level":    child.Level,
			"content":  child.Content,
			"children": c.buildTree(child.ID, depth-1),
		})
	}
	return out
}

// preview collapses whitespace and truncates for single-line display.
func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

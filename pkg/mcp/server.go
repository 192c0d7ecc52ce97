// Package mcp exposes the semindex façade (index_directory, search_directory,
// get_status) as MCP tools, in the teacher's server/tool-registration style.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/latticecode/semindex/internal/semindex"
)

type Server struct {
	index *semindex.Index
	mcp   *server.MCPServer
}

type ServerConfig struct {
	Index *semindex.Index
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{index: cfg.Index}

	mcpServer := server.NewMCPServer(
		"semindex",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.mcp = mcpServer

	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.Tool{
		Name: "index_directory",
		Description: `Index a directory of source files into the semantic code-search index.

PURPOSE: Walk the given directory, parse each supported source file into
syntactic spans, embed them, and persist them so search_directory can find
them. Re-running this on the same directory re-indexes changed files and
removes rows for files deleted from disk.

Example: {"directory": "./src", "wait": true}`,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"directory": map[string]interface{}{
					"type":        "string",
					"description": "Path to the source directory to index",
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "Block until indexing completes (default: true)",
					"default":     true,
				},
			},
			Required: []string{"directory"},
		},
	}, s.handleIndexDirectory)

	mcpServer.AddTool(mcp.Tool{
		Name: "search_directory",
		Description: `Find the spans most semantically similar to a natural-language query.

PURPOSE: Embed the query and return the top-N indexed spans (path + byte
range) ranked by cosine similarity, for a directory previously indexed with
index_directory.

Example: {"directory": "./src", "query": "parses a config file", "top_n": 10}`,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"directory": map[string]interface{}{
					"type":        "string",
					"description": "Path to the indexed source directory",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language description of the code to find",
				},
				"top_n": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to return (default 10)",
					"default":     10,
				},
			},
			Required: []string{"directory", "query"},
		},
	}, s.handleSearchDirectory)

	mcpServer.AddTool(mcp.Tool{
		Name:        "get_status",
		Description: `Report a directory's indexing status: not_indexed, indexing (with an outstanding count), or indexed.`,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"directory": map[string]interface{}{
					"type":        "string",
					"description": "Path to the directory to check",
				},
			},
			Required: []string{"directory"},
		},
	}, s.handleGetStatus)

	mcpServer.AddTool(mcp.Tool{
		Name:        "health",
		Description: `Report whether the semindex server is reachable.`,
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}, s.handleHealth)
}

func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, _ := request.Params.Arguments["directory"].(string)
	if dir == "" {
		return errorResult("directory is required")
	}

	wait := true
	if w, ok := request.Params.Arguments["wait"].(bool); ok {
		wait = w
	}

	job, err := s.index.IndexDirectory(ctx, dir)
	if err != nil {
		return errorResult(fmt.Sprintf("index_directory failed: %v", err))
	}

	if wait {
		if err := job.Notified(ctx); err != nil {
			return errorResult(fmt.Sprintf("index_directory: waiting for completion: %v", err))
		}
	}

	return jsonResult(map[string]interface{}{
		"success":   true,
		"directory": dir,
		"status":    statusString(s.index.GetStatus(dir)),
	})
}

func (s *Server) handleSearchDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, _ := request.Params.Arguments["directory"].(string)
	query, _ := request.Params.Arguments["query"].(string)
	if dir == "" || query == "" {
		return errorResult("directory and query are required")
	}

	topN := 10
	if n, ok := request.Params.Arguments["top_n"].(float64); ok && n > 0 {
		topN = int(n)
	}

	results, err := s.index.SearchDirectory(ctx, dir, topN, query)
	if err != nil {
		return errorResult(fmt.Sprintf("search_directory failed: %v", err))
	}

	return jsonResult(map[string]interface{}{
		"directory": dir,
		"query":     query,
		"results":   results,
	})
}

func (s *Server) handleGetStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, _ := request.Params.Arguments["directory"].(string)
	if dir == "" {
		return errorResult("directory is required")
	}

	status := s.index.GetStatus(dir)
	result := map[string]interface{}{
		"directory": dir,
		"state":     statusString(status),
	}
	if status.State == semindex.Indexing {
		result["outstanding"] = status.Outstanding
	}
	return jsonResult(result)
}

func (s *Server) handleHealth(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]interface{}{"status": "ok"})
}

func statusString(status semindex.Status) string {
	switch status.State {
	case semindex.Indexing:
		return "indexing"
	case semindex.Indexed:
		return "indexed"
	default:
		return "not_indexed"
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(jsonBytes)},
		},
	}, nil
}

func errorResult(msg string) (*mcp.CallToolResult, error) {
	result := map[string]interface{}{
		"error":   true,
		"message": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(jsonBytes)},
		},
		IsError: true,
	}, nil
}

// ServeStdio runs the MCP server over stdio.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// ServeHTTP runs the MCP server over SSE on the given port, in the
// teacher's hand-rolled mux-plus-health-endpoint style.
func (s *Server) ServeHTTP(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)

	sseHandler := server.NewSSEServer(s.mcp,
		server.WithBaseURL(fmt.Sprintf("http://127.0.0.1:%d", port)),
	)

	mux := http.NewServeMux()
	mux.Handle("/", sseHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases the underlying Index.
func (s *Server) Close() error {
	return s.index.Close()
}

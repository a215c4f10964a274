// Package mcp implements the Model Context Protocol server for WellApp.
//
// The MCP server exposes the replay and query layer through MCP tools,
// resources, and prompts, so MCP-compatible agents can search a well's
// finalized memory, read its timeline, and trigger replays.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/replay"
)

// replayWindow is how long a replay request for a well suppresses repeats.
const replayWindow = 30 * time.Second

// Server wraps the MCP server with the WellApp query layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	query     *replay.Service
	bus       bus.Publisher
	logger    *slog.Logger
	replays   *replayTracker
}

// New creates and configures a new MCP server with all tools, resources,
// and prompts.
func New(query *replay.Service, b bus.Publisher, logger *slog.Logger, version string) *Server {
	s := &Server{
		query:   query,
		bus:     b,
		logger:  logger,
		replays: newReplayTracker(replayWindow),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"wellapp",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(`WellApp keeps a memory of each oil and gas well: hourly SCADA readings and pages of regulatory well files, flagged for anomalies or importance and embedded for semantic search.

Use wellapp_search to find entries by meaning, wellapp_timeline to read a well in order, and wellapp_replay to re-broadcast a well to live viewers.`),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

package mcp

import (
	"context"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/replay"
)

// maxTimelineEntries caps wellapp_timeline output so a long SCADA history
// does not flood the agent's context.
const maxTimelineEntries = 200

func (s *Server) registerTools() {
	// wellapp_search: semantic search over a well's stored vectors.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellapp_search",
			mcplib.WithDescription(`Search a well's memory by meaning.

WHEN TO USE: To find readings or well file pages related to a question,
e.g. "pressure spike", "lease renewal", "casing inspection".

WHAT YOU GET BACK: up to limit entries, best match first, each with its
text, timestamp or page, anomaly/importance flag, and loop stage.
Entries in stage "truth" are embedded but not yet finalized.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural language search query"),
				mcplib.Required(),
			),
			mcplib.WithString("well_id",
				mcplib.Description("Well identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("source",
				mcplib.Description("Restrict to one source"),
				mcplib.Enum(string(model.SourceSCADA), string(model.SourceWellfile)),
			),
			mcplib.WithString("stage",
				mcplib.Description("Restrict to one loop stage. Omit to search both."),
				mcplib.Enum(string(model.LoopStageTruth), string(model.LoopStageEmbedded)),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(model.MaxSearchLimit),
				mcplib.DefaultNumber(model.DefaultSearchLimit),
			),
		),
		s.handleSearch,
	)

	// wellapp_timeline: finalized entries in order.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellapp_timeline",
			mcplib.WithDescription(`Read a well's finalized memory in order: SCADA readings by timestamp,
well file pages by page number.

WHEN TO USE: To see what happened to a well over time, or to read the
context around a search hit.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("well_id",
				mcplib.Description("Well identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("source",
				mcplib.Description("Restrict to one source"),
				mcplib.Enum(string(model.SourceSCADA), string(model.SourceWellfile)),
			),
			mcplib.WithBoolean("flagged_only",
				mcplib.Description("Only return entries flagged as anomalous or important"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum entries to return"),
				mcplib.Min(1),
				mcplib.Max(maxTimelineEntries),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleTimeline,
	)

	// wellapp_replay: re-broadcast a well to live viewers.
	s.mcpServer.AddTool(
		mcplib.NewTool("wellapp_replay",
			mcplib.WithDescription(`Re-broadcast a well's finalized memory, in order, to live replay viewers.

Repeated requests for the same well within 30 seconds are ignored.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("well_id",
				mcplib.Description("Well identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("source",
				mcplib.Description("Restrict the replay to one source"),
				mcplib.Enum(string(model.SourceSCADA), string(model.SourceWellfile)),
			),
		),
		s.handleReplay,
	)
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	hits, err := s.query.Search(ctx, replay.SearchQuery{
		Query:  request.GetString("query", ""),
		WellID: request.GetString("well_id", ""),
		Source: model.Source(request.GetString("source", "")),
		Stage:  model.LoopStage(request.GetString("stage", "")),
		Limit:  request.GetInt("limit", model.DefaultSearchLimit),
	})
	if err != nil {
		return s.queryError("search", err), nil
	}

	results := make([]map[string]any, len(hits))
	for i, h := range hits {
		results[i] = compactHit(h)
	}
	return jsonResult(map[string]any{
		"results": results,
		"total":   len(results),
	})
}

func (s *Server) handleTimeline(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	wellID := request.GetString("well_id", "")
	limit := min(max(request.GetInt("limit", 50), 1), maxTimelineEntries)
	flaggedOnly := request.GetBool("flagged_only", false)

	// Flag filtering happens after the read, so fetch the whole well then.
	fetch := limit
	if flaggedOnly {
		fetch = 0
	}
	entries, err := s.query.Timeline(ctx, wellID, model.Source(request.GetString("source", "")), fetch)
	if err != nil {
		return s.queryError("timeline", err), nil
	}

	out := make([]map[string]any, 0, min(len(entries), limit))
	flagged := 0
	for _, e := range entries {
		if e.AnomalyOrImportance {
			flagged++
		}
		if flaggedOnly && !e.AnomalyOrImportance {
			continue
		}
		if len(out) < limit {
			out = append(out, compactEntry(e))
		}
	}
	return jsonResult(map[string]any{
		"well_id": wellID,
		"entries": out,
		"flagged": flagged,
	})
}

func (s *Server) handleReplay(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cmd := model.ReplayCommand{
		Command: model.ReplayCommandName,
		WellID:  request.GetString("well_id", ""),
		Source:  model.Source(request.GetString("source", "")),
	}
	if err := model.ValidateWellID(cmd.WellID); err != nil {
		return errorResult(err.Error()), nil
	}
	if cmd.Source != "" {
		if _, err := model.ParseSource(string(cmd.Source)); err != nil {
			return errorResult(err.Error()), nil
		}
	}

	if !s.replays.TryStart(cmd.WellID, cmd.Source) {
		return jsonResult(map[string]any{
			"well_id": cmd.WellID,
			"status":  "already_requested",
		})
	}
	if err := bus.PublishJSON(ctx, s.bus, model.ChannelReplay, cmd); err != nil {
		s.replays.Forget(cmd.WellID, cmd.Source)
		s.logger.Error("mcp: publish replay command failed", "error", err, "well_id", cmd.WellID)
		return errorResult(fmt.Sprintf("replay request failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"well_id": cmd.WellID,
		"status":  "requested",
	})
}

// queryError turns a query layer failure into a tool error. Invalid input is
// reported verbatim; anything else is logged and summarized.
func (s *Server) queryError(op string, err error) *mcplib.CallToolResult {
	if errors.Is(err, replay.ErrInvalidQuery) {
		return errorResult(err.Error())
	}
	s.logger.Error("mcp: "+op+" failed", "error", err)
	return errorResult(op + " failed")
}

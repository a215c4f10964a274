package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// investigate-well: walk the agent through a well's flagged entries.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("investigate-well",
			mcplib.WithPromptDescription("Investigate a well's anomalies and important documents"),
			mcplib.WithArgument("well_id",
				mcplib.ArgumentDescription("The well to investigate"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("topic",
				mcplib.ArgumentDescription("Optional focus, e.g. \"pressure\" or \"permit\""),
			),
		),
		s.handleInvestigateWellPrompt,
	)

	// agent-setup: system prompt snippet describing the tools.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining WellApp's memory and tools"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleInvestigateWellPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	wellID := request.Params.Arguments["well_id"]
	if wellID == "" {
		return nil, fmt.Errorf("well_id argument is required")
	}
	topic := request.Params.Arguments["topic"]
	focus := ""
	if topic != "" {
		focus = fmt.Sprintf("\nFocus on anything related to %q.\n", topic)
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Investigate well %s", wellID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Investigate well %s.
%s
1. CALL wellapp_timeline with well_id="%s" and flagged_only=true to list
   the SCADA readings flagged as anomalous and the well file pages flagged
   as important.

2. For each flagged SCADA reading, CALL wellapp_timeline with
   source="scada" and read the hours around it. A flag means pressure or
   flow moved more than two standard deviations from the previous hours.

3. CALL wellapp_search with well_id="%s" and a query describing what you
   found, to pull related well file pages (permits, inspections, tests).

4. SUMMARIZE: what happened, when, and which documents bear on it. Cite
   timestamps and page numbers.`, wellID, focus, wellID, wellID),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "WellApp memory and tools for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to WellApp, the memory of a set of oil and gas wells.

## What is stored

Each well has two sources:
- scada: hourly readings of pressure, flow rate, temperature, and volume.
  A reading is flagged when pressure or flow jumps away from the previous hours.
- wellfile: pages of regulatory documents. A page is flagged when it mentions
  a lease, permit, inspection, abandonment, or test.

Every entry is embedded for semantic search. Entries in loop stage "truth"
are embedded but not yet finalized; "embedded" entries are final.

## Available Tools

- wellapp_search: find entries by meaning within one well
- wellapp_timeline: read a well in order, optionally only flagged entries
- wellapp_replay: re-broadcast a well to live replay viewers

## Resources

- wellapp://wells/{well_id}/timeline
- wellapp://wells/{well_id}/flagged`,
				},
			},
		},
	}, nil
}

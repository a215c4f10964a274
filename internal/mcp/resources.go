package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/genioCE/WellApp/internal/model"
)

const wellURIPrefix = "wellapp://wells/"

func (s *Server) registerResources() {
	// wellapp://pipeline: the stages, channels, and sources of the loop.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"wellapp://pipeline",
			"Pipeline",
			mcplib.WithResourceDescription("Stages, bus channels, and data sources of the WellApp loop"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePipeline,
	)

	// wellapp://wells/{well_id}/timeline: a well's finalized memory.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			wellURIPrefix+"{well_id}/timeline",
			"Well Timeline",
			mcplib.WithTemplateDescription("Finalized memory of a well in timestamp-or-page order"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleWellTimeline,
	)

	// wellapp://wells/{well_id}/flagged: only anomalous or important entries.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			wellURIPrefix+"{well_id}/flagged",
			"Flagged Entries",
			mcplib.WithTemplateDescription("Entries of a well flagged as anomalous or important"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleWellFlagged,
	)
}

func (s *Server) handlePipeline(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(request.Params.URI, map[string]any{
		"sources": model.Sources,
		"stages": []map[string]string{
			{"stage": "ingest", "listens": model.ChannelIngest, "emits": model.ChannelInterpret},
			{"stage": "interpret", "listens": model.ChannelInterpret, "emits": model.ChannelReflect},
			{"stage": "reflect", "listens": model.ChannelReflect, "emits": model.ChannelTruth},
			{"stage": "truth", "listens": model.ChannelTruth, "emits": model.ChannelEmbed},
			{"stage": "finalize", "listens": model.ChannelEmbed},
		},
		"replay": map[string]string{
			"commands": model.ChannelReplay,
			"entries":  model.ChannelMemoryReplay,
		},
		"loop_stages": []model.LoopStage{model.LoopStageTruth, model.LoopStageEmbedded},
	})
}

func (s *Server) handleWellTimeline(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	wellID, err := wellIDFromURI(request.Params.URI, "/timeline")
	if err != nil {
		return nil, err
	}
	entries, err := s.query.Timeline(ctx, wellID, "", maxTimelineEntries)
	if err != nil {
		return nil, fmt.Errorf("mcp: well timeline: %w", err)
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = compactEntry(e)
	}
	return jsonResource(request.Params.URI, map[string]any{
		"well_id": wellID,
		"entries": out,
	})
}

func (s *Server) handleWellFlagged(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	wellID, err := wellIDFromURI(request.Params.URI, "/flagged")
	if err != nil {
		return nil, err
	}
	entries, err := s.query.Timeline(ctx, wellID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: flagged entries: %w", err)
	}
	out := []map[string]any{}
	for _, e := range entries {
		if e.AnomalyOrImportance && len(out) < maxTimelineEntries {
			out = append(out, compactEntry(e))
		}
	}
	return jsonResource(request.Params.URI, map[string]any{
		"well_id": wellID,
		"entries": out,
	})
}

// wellIDFromURI extracts the well id from wellapp://wells/{well_id}<suffix>.
func wellIDFromURI(uri, suffix string) (string, error) {
	rest, ok := strings.CutPrefix(uri, wellURIPrefix)
	if ok {
		rest, ok = strings.CutSuffix(rest, suffix)
	}
	if !ok || rest == "" {
		return "", fmt.Errorf("mcp: invalid well resource URI: %s", uri)
	}
	wellID, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid well resource URI: %s", uri)
	}
	if err := model.ValidateWellID(wellID); err != nil {
		return "", fmt.Errorf("mcp: %w", err)
	}
	return wellID, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal resource: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

package mcp

import (
	"math"

	"github.com/genioCE/WellApp/internal/model"
)

// maxCompactText bounds entry text in tool output. Well file pages can run
// to several kilobytes; agents read the timeline for the rest.
const maxCompactText = 400

// maxCompactPhrases bounds the noun phrase list per entry.
const maxCompactPhrases = 8

// compactEntry returns a minimal representation of a memory log entry for MCP
// responses. Drops row ids, sort keys, creation time, and the embedded flag.
func compactEntry(e model.MemoryEntry) map[string]any {
	m := map[string]any{
		"source":                e.Source,
		"timestamp_or_page":     e.TimestampOrPage,
		"text":                  truncate(e.Text, maxCompactText),
		"anomaly_or_importance": e.AnomalyOrImportance,
		"vector_id":             e.VectorID,
	}
	if len(e.NounPhrases) > 0 {
		m["noun_phrases"] = e.NounPhrases[:min(len(e.NounPhrases), maxCompactPhrases)]
	}
	if e.AnchorStatus != "" && e.AnchorStatus != model.AnchorValid {
		m["anchor_status"] = e.AnchorStatus
	}
	if e.SourceFile != "" {
		m["source_file"] = e.SourceFile
	}
	return m
}

// compactHit returns a minimal representation of a search hit. Scores are
// rounded to three decimal places.
func compactHit(h model.SearchHit) map[string]any {
	m := map[string]any{
		"vector_id":             h.VectorID,
		"score":                 math.Round(float64(h.Score)*1000) / 1000,
		"source":                h.Source,
		"timestamp_or_page":     h.TimestampOrPage,
		"text":                  truncate(h.Text, maxCompactText),
		"anomaly_or_importance": h.AnomalyOrImportance,
		"loop_stage":            h.LoopStage,
	}
	if len(h.NounPhrases) > 0 {
		m["noun_phrases"] = h.NounPhrases[:min(len(h.NounPhrases), maxCompactPhrases)]
	}
	if h.AnchorStatus != "" && h.AnchorStatus != model.AnchorValid {
		m["anchor_status"] = h.AnchorStatus
	}
	return m
}

// truncate shortens s to at most maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

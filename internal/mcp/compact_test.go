package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genioCE/WellApp/internal/model"
)

func TestCompactEntry(t *testing.T) {
	e := page("W-1", 3, strings.Repeat("é", maxCompactText+10), true)
	e.NounPhrases = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	e.AnchorStatus = model.AnchorAdjusted
	e.SourceFile = "w1.txt"

	m := compactEntry(e)

	assert.Len(t, []rune(m["text"].(string)), maxCompactText+3)
	assert.Len(t, m["noun_phrases"], maxCompactPhrases)
	assert.Equal(t, model.AnchorAdjusted, m["anchor_status"])
	assert.Equal(t, "w1.txt", m["source_file"])
	assert.NotContains(t, m, "id")
	assert.NotContains(t, m, "created_at")
}

func TestCompactHitRoundsScore(t *testing.T) {
	h := model.SearchHit{VectorID: "v", Score: 0.123456}
	h.Text = "short"
	h.AnchorStatus = model.AnchorValid

	m := compactHit(h)

	assert.InDelta(t, 0.123, m["score"], 1e-9)
	assert.Equal(t, "short", m["text"])
	assert.NotContains(t, m, "anchor_status")
	assert.NotContains(t, m, "noun_phrases")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "日本...", truncate("日本語", 2))
}

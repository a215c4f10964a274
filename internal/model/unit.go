package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Source identifies where a data unit came from.
type Source string

const (
	SourceSCADA    Source = "scada"
	SourceWellfile Source = "wellfile"
)

// Sources lists every source kind in processing order. Sweeps iterate it.
var Sources = []Source{SourceSCADA, SourceWellfile}

// ParseSource validates a raw source string.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceSCADA, SourceWellfile:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// LoopStage tags vector-store records as interim or finalized.
type LoopStage string

const (
	LoopStageTruth    LoopStage = "truth"
	LoopStageEmbedded LoopStage = "embedded"
)

// DataUnit is one observation or text snippet flowing through the pipeline.
// SCADA units carry Timestamp and the numeric channels; well file units carry Page.
// Rows are append-only: stages only ever flip their completion flag.
type DataUnit struct {
	ID          int64     `json:"id"`
	WellID      string    `json:"well_id"`
	Source      Source    `json:"source"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	Page        int       `json:"page,omitempty"`
	Text        string    `json:"text"`
	Pressure    float64   `json:"pressure,omitempty"`
	FlowRate    float64   `json:"flow_rate,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Volume      float64   `json:"volume,omitempty"`
	SourceFile  string    `json:"source_file"`
}

// TimestampOrPage renders the natural ordering key the way payloads carry it.
func (u DataUnit) TimestampOrPage() string {
	if u.Source == SourceSCADA {
		return u.Timestamp.UTC().Format(time.RFC3339)
	}
	return strconv.Itoa(u.Page)
}

// SortKey is the numeric ordering key: unix seconds for SCADA, page number for well files.
func (u DataUnit) SortKey() int64 {
	if u.Source == SourceSCADA {
		return u.Timestamp.Unix()
	}
	return int64(u.Page)
}

// InterpretedUnit is a DataUnit annotated with noun phrases.
type InterpretedUnit struct {
	DataUnit
	NounPhrases []string `json:"noun_phrases"`
}

// ReflectedUnit carries the reflect-stage verdict: anomaly for SCADA, importance for well files.
type ReflectedUnit struct {
	InterpretedUnit
	Flagged bool `json:"anomaly_or_importance"`
}

// MemoryEntry is one finalized row of the memory log.
type MemoryEntry struct {
	ID                  int64        `json:"id"`
	UnitID              int64        `json:"unit_id"`
	WellID              string       `json:"well_id"`
	Source              Source       `json:"source"`
	Text                string       `json:"text"`
	NounPhrases         []string     `json:"noun_phrases,omitempty"`
	TimestampOrPage     string       `json:"timestamp_or_page"`
	SortKey             int64        `json:"-"`
	AnomalyOrImportance bool         `json:"anomaly_or_importance"`
	LoopStage           LoopStage    `json:"loop_stage"`
	Embedded            bool         `json:"embedded"`
	VectorID            uuid.UUID    `json:"vector_id"`
	AnchorStatus        AnchorStatus `json:"anchor_status"`
	SourceFile          string       `json:"source_file"`
	CreatedAt           time.Time    `json:"created_at"`
}

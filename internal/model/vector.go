package model

// PruneDetail describes what the pruning engine did to a vector.
// Error holds a dimensionality-reduction failure; the pruned vector is still returned.
type PruneDetail struct {
	OriginalSize      int     `json:"original_size"`
	PrunedSize        int     `json:"pruned_size"`
	PercentageReduced float64 `json:"percentage_reduced"`
	ReducedSize       *int    `json:"reduced_size,omitempty"`
	Iterations        int     `json:"iterations"`
	Error             string  `json:"error,omitempty"`
}

// AnchorStatus classifies an embedding by its distance from the origin.
type AnchorStatus string

const (
	AnchorValid    AnchorStatus = "valid"
	AnchorAdjusted AnchorStatus = "adjusted"
	AnchorRejected AnchorStatus = "rejected"
)

// AnchorResult is the outcome of anchoring a vector.
type AnchorResult struct {
	Vector   []float32    `json:"anchored_vector"`
	Status   AnchorStatus `json:"status"`
	Summary  string       `json:"summary"`
	Distance float32      `json:"distance"`
}

// VectorPayload is the payload stored alongside each vector-store point.
type VectorPayload struct {
	WellID              string       `json:"well_id"`
	Source              Source       `json:"source"`
	Text                string       `json:"text"`
	NounPhrases         []string     `json:"noun_phrases,omitempty"`
	TimestampOrPage     string       `json:"timestamp_or_page"`
	AnomalyOrImportance bool         `json:"anomaly_or_importance"`
	LoopStage           LoopStage    `json:"loop_stage"`
	AnchorStatus        AnchorStatus `json:"anchor_status,omitempty"`
	SourceFile          string       `json:"source_file"`
}

// SearchHit is one ranked result of a semantic query.
type SearchHit struct {
	VectorID string  `json:"vector_id"`
	Score    float32 `json:"score"`
	VectorPayload
}

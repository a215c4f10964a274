package model

// Bus channels. Each stage processor listens on exactly one of these.
const (
	ChannelIngest       = "ingest_ready"
	ChannelInterpret    = "interpret_ready"
	ChannelReflect      = "reflect_ready"
	ChannelTruth        = "truth_ready"
	ChannelEmbed        = "embed_ready"
	ChannelReplay       = "replay_channel"
	ChannelMemoryReplay = "memory_replay_channel"
)

// Event names carried in StageEvent.Event.
const (
	EventScadaIngestReady    = "scada_ingest_ready"
	EventWellfileIngestReady = "wellfile_ingest_ready"
	EventInterpretReady      = "interpret_ready"
	EventReflectReady        = "reflect_ready"
	EventTruthReady          = "truth_ready"
	EventEmbedReady          = "embed_ready"
)

// StageEvent is the "stage ready" notification exchanged between processors.
// FilePath is only set on ingest events.
type StageEvent struct {
	Event    string `json:"event"`
	WellID   string `json:"well_id"`
	Source   Source `json:"source"`
	FilePath string `json:"file_path,omitempty"`
}

// IngestEventName returns the ingest event name for a source.
func IngestEventName(src Source) string {
	if src == SourceSCADA {
		return EventScadaIngestReady
	}
	return EventWellfileIngestReady
}

// ReplayCommand asks the replayer to re-emit a well's finalized entries.
type ReplayCommand struct {
	Command string `json:"command"`
	WellID  string `json:"well_id"`
	Source  Source `json:"source,omitempty"`
}

// ReplayCommandName is the only command the replayer understands.
const ReplayCommandName = "replay"

// ReplayEntry is one finalized entry broadcast on the memory replay channel.
type ReplayEntry struct {
	WellID              string    `json:"well_id"`
	Source              Source    `json:"source"`
	Text                string    `json:"text"`
	TimestampOrPage     string    `json:"timestamp_or_page"`
	AnomalyOrImportance bool      `json:"anomaly_or_importance"`
	LoopStage           LoopStage `json:"loop_stage"`
	VectorID            string    `json:"vector_id"`
	Truncated           bool      `json:"truncated,omitempty"`
}

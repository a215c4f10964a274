package bus

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/genioCE/WellApp/internal/model"
)

// MalformedError describes why a message was rejected. It matches ErrMalformed
// under errors.Is.
type MalformedError struct {
	Channel string
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("bus: malformed message on %s: %s", e.Channel, e.Reason)
}

// Is reports whether target is ErrMalformed.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func malformed(channel, format string, args ...any) error {
	return &MalformedError{Channel: channel, Reason: fmt.Sprintf(format, args...)}
}

// DecodeStageEvent parses a stage notification and checks it against the
// event names accepted on its channel. Stage events must name a well and a
// known source; ingest events must also carry a file path.
func DecodeStageEvent(msg *Message, accept ...string) (model.StageEvent, error) {
	var ev model.StageEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return model.StageEvent{}, malformed(msg.Channel, "invalid JSON: %v", err)
	}
	if len(accept) > 0 && !slices.Contains(accept, ev.Event) {
		return model.StageEvent{}, malformed(msg.Channel, "unexpected event %q", ev.Event)
	}
	if err := model.ValidateWellID(ev.WellID); err != nil {
		return model.StageEvent{}, malformed(msg.Channel, "%v", err)
	}
	if _, err := model.ParseSource(string(ev.Source)); err != nil {
		return model.StageEvent{}, malformed(msg.Channel, "%v", err)
	}
	switch ev.Event {
	case model.EventScadaIngestReady, model.EventWellfileIngestReady:
		if ev.FilePath == "" {
			return model.StageEvent{}, malformed(msg.Channel, "file_path is required")
		}
		if model.IngestEventName(ev.Source) != ev.Event {
			return model.StageEvent{}, malformed(msg.Channel, "event %q does not match source %q", ev.Event, ev.Source)
		}
	}
	return ev, nil
}

// DecodeReplayCommand parses a replay request.
func DecodeReplayCommand(msg *Message) (model.ReplayCommand, error) {
	var cmd model.ReplayCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return model.ReplayCommand{}, malformed(msg.Channel, "invalid JSON: %v", err)
	}
	if cmd.Command != model.ReplayCommandName {
		return model.ReplayCommand{}, malformed(msg.Channel, "unknown command %q", cmd.Command)
	}
	if err := model.ValidateWellID(cmd.WellID); err != nil {
		return model.ReplayCommand{}, malformed(msg.Channel, "%v", err)
	}
	if cmd.Source != "" {
		if _, err := model.ParseSource(string(cmd.Source)); err != nil {
			return model.ReplayCommand{}, malformed(msg.Channel, "%v", err)
		}
	}
	return cmd, nil
}

// DecodeReplayEntry parses one broadcast memory entry.
func DecodeReplayEntry(msg *Message) (model.ReplayEntry, error) {
	var entry model.ReplayEntry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		return model.ReplayEntry{}, malformed(msg.Channel, "invalid JSON: %v", err)
	}
	if entry.WellID == "" {
		return model.ReplayEntry{}, malformed(msg.Channel, "well_id is required")
	}
	return entry, nil
}

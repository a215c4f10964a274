package server

import (
	"errors"
	"net/http"

	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/ingest"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/replay"
)

// multipartOverhead bounds the non-file parts of an upload form.
const multipartOverhead = 1 << 20

// HandleIngest handles POST /v1/ingest. The form carries well_id and file;
// the file is stored under the raw data root and the ingest event published.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	wellID := r.FormValue("well_id")
	if err := model.ValidateWellID(wellID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	src, err := ingest.ClassifyFilename(header.Filename)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	path, err := h.files.Save(wellID, src, header.Filename, file)
	if err != nil {
		if errors.Is(err, ingest.ErrTooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.logger.Error("ingest: save upload failed", "error", err, "well_id", wellID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to store file")
		return
	}

	ev := model.StageEvent{
		Event:    model.IngestEventName(src),
		WellID:   wellID,
		Source:   src,
		FilePath: path,
	}
	if err := bus.PublishJSON(r.Context(), h.bus, model.ChannelIngest, ev); err != nil {
		h.logger.Error("ingest: publish event failed", "error", err, "well_id", wellID, "file_path", path)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "file stored but ingest event not published")
		return
	}

	h.logger.Info("ingest: file accepted", "well_id", wellID, "source", src, "file_path", path)
	writeJSON(w, r, http.StatusAccepted, model.IngestResponse{
		Status:   "accepted",
		WellID:   wellID,
		Source:   src,
		FilePath: path,
	})
}

// HandleTimeline handles GET /v1/wells/{well_id}/timeline.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, "limit", 10_000)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
		return
	}
	entries, err := h.query.Timeline(r.Context(), r.PathValue("well_id"),
		model.Source(r.URL.Query().Get("source")), limit)
	if err != nil {
		h.writeQueryError(w, r, "timeline", err)
		return
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleSearch handles GET /v1/wells/{well_id}/search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, "top_k", model.MaxSearchLimit)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "top_k must be between 1 and 100")
		return
	}
	q := r.URL.Query()
	hits, err := h.query.Search(r.Context(), replay.SearchQuery{
		Query:  q.Get("query"),
		WellID: r.PathValue("well_id"),
		Source: model.Source(q.Get("source")),
		Stage:  model.LoopStage(q.Get("stage")),
		Limit:  limit,
	})
	if err != nil {
		h.writeQueryError(w, r, "search", err)
		return
	}
	if hits == nil {
		hits = []model.SearchHit{}
	}
	writeJSON(w, r, http.StatusOK, hits)
}

// HandleReplay handles POST /v1/wells/{well_id}/replay. The replay itself
// runs in the replayer; entries arrive on /v1/replay/stream.
func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	cmd := model.ReplayCommand{
		Command: model.ReplayCommandName,
		WellID:  r.PathValue("well_id"),
		Source:  model.Source(r.URL.Query().Get("source")),
	}
	if err := model.ValidateWellID(cmd.WellID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if cmd.Source != "" {
		if _, err := model.ParseSource(string(cmd.Source)); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}
	if err := bus.PublishJSON(r.Context(), h.bus, model.ChannelReplay, cmd); err != nil {
		h.logger.Error("replay: publish command failed", "error", err, "well_id", cmd.WellID)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "replay command not published")
		return
	}
	writeJSON(w, r, http.StatusAccepted, cmd)
}

func (h *Handlers) writeQueryError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, replay.ErrInvalidQuery) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	h.logger.Error(op+" failed", "error", err, "well_id", r.PathValue("well_id"))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, op+" failed")
}

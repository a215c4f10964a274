package server

import (
	"net/http"
	"time"

	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/prune"
)

// HandlePrune handles POST /v1/prune.
func (h *Handlers) HandlePrune(w http.ResponseWriter, r *http.Request) {
	var req model.PruneRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	threshold := h.pruneThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	reduceDim := 0
	if req.ReduceDim != nil {
		reduceDim = *req.ReduceDim
	}

	pruned, detail, err := prune.Prune(req.Embedding, threshold, reduceDim)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if pruned == nil {
		pruned = []float32{}
	}

	writeJSON(w, r, http.StatusOK, model.PruneResponse{
		UUID:            req.UUID,
		PrunedEmbedding: pruned,
		Timestamp:       time.Now().UTC(),
		Details:         detail,
	})
}

// HandleAnchor handles POST /v1/anchor.
func (h *Handlers) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	var req model.AnchorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	res := h.validator.Validate(req.PrunedEmbedding)
	anchored := res.Vector
	if anchored == nil {
		anchored = []float32{}
	}

	writeJSON(w, r, http.StatusOK, model.AnchorResponse{
		UUID:              req.UUID,
		AnchoredEmbedding: anchored,
		Status:            res.Status,
		Timestamp:         time.Now().UTC(),
		Summary:           res.Summary,
	})
}

// HandleInterpret handles POST /v1/interpret.
func (h *Handlers) HandleInterpret(w http.ResponseWriter, r *http.Request) {
	var req model.InterpretRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	nps, err := h.phrases.Extract(r.Context(), req.Text)
	if err != nil {
		h.logger.Error("interpret: extract phrases failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "phrase extraction failed")
		return
	}
	if nps == nil {
		nps = []string{}
	}

	writeJSON(w, r, http.StatusOK, model.InterpretResponse{Text: req.Text, NounPhrases: nps})
}

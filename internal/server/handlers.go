package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/genioCE/WellApp/internal/anchor"
	"github.com/genioCE/WellApp/internal/auth"
	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/replay"
	"github.com/genioCE/WellApp/internal/service/phrases"
)

// Pinger reports database reachability. *storage.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FileStore keeps raw uploads. *ingest.Store implements it.
type FileStore interface {
	Save(wellID string, src model.Source, filename string, r io.Reader) (string, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  Pinger
	query               *replay.Service
	bus                 bus.Publisher
	files               FileStore
	phrases             phrases.Extractor
	validator           *anchor.Validator
	pruneThreshold      float32
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	maxFileBytes        int64
	jwt                 *auth.JWTManager
	apiKeyHash          string
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB, Broker.
type HandlersDeps struct {
	DB                  Pinger
	Query               *replay.Service
	Bus                 bus.Publisher
	Files               FileStore
	Phrases             phrases.Extractor
	Validator           *anchor.Validator
	PruneThreshold      float32
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	MaxFileBytes        int64
	JWT                 *auth.JWTManager
	APIKeyHash          string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		query:               d.Query,
		bus:                 d.Bus,
		files:               d.Files,
		phrases:             d.Phrases,
		validator:           d.Validator,
		pruneThreshold:      d.PruneThreshold,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxFileBytes:        d.MaxFileBytes,
		jwt:                 d.JWT,
		apiKeyHash:          d.APIKeyHash,
	}
}

// HandleReplayLatest handles GET /v1/replay/latest.
func (h *Handlers) HandleReplayLatest(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "replay broadcast not available")
		return
	}
	latest := h.broker.Latest()
	if latest == nil {
		latest = []model.ReplayEntry{}
	}
	writeJSON(w, r, http.StatusOK, latest)
}

// HandleReplayStream handles GET /v1/replay/stream (SSE).
func (h *Handlers) HandleReplayStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "replay broadcast not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived connection: lift the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	pgStatus := "connected"
	if h.db == nil {
		pgStatus = "not_configured"
	} else if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	indexStatus := "connected"
	if err := h.query.Healthy(r.Context()); err != nil {
		indexStatus = "disconnected"
		// Search degrades but the pipeline keeps finalizing into Postgres.
		if status == "healthy" {
			status = "degraded"
		}
	}

	resp := model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Index:    indexStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	if h.broker != nil {
		resp.SSEBroker = "running"
	}

	writeJSON(w, r, httpStatus, resp)
}

// queryLimit returns a bounded limit from the named query parameter. ok is
// false when the value is present but not an integer in [1, upper].
func queryLimit(r *http.Request, key string, upper int) (limit int, ok bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > upper {
		return 0, false
	}
	return n, true
}

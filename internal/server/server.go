package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/genioCE/WellApp/internal/anchor"
	"github.com/genioCE/WellApp/internal/auth"
	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/ratelimit"
	"github.com/genioCE/WellApp/internal/replay"
	"github.com/genioCE/WellApp/internal/service/phrases"
)

// Server is the WellApp HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): DB, Broker, MCPServer, JWT, Limiter, UIFS.
type ServerConfig struct {
	// Required dependencies.
	Query     *replay.Service
	Bus       bus.Publisher
	Files     FileStore
	Phrases   phrases.Extractor
	Validator *anchor.Validator
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	DB        Pinger
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// Operator auth. Both set enables POST /auth/token and requires a
	// bearer token on ingest, replay and /mcp.
	JWT        *auth.JWTManager
	APIKeyHash string

	// Per-client throttle on the upload, replay, MCP and token routes.
	Limiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MaxFileBytes        int64
	PruneThreshold      float32

	// Embedded replay viewer.
	UIFS fs.FS
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Query:               cfg.Query,
		Bus:                 cfg.Bus,
		Files:               cfg.Files,
		Phrases:             cfg.Phrases,
		Validator:           cfg.Validator,
		PruneThreshold:      cfg.PruneThreshold,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxFileBytes:        cfg.MaxFileBytes,
		JWT:                 cfg.JWT,
		APIKeyHash:          cfg.APIKeyHash,
	})

	jwtMgr := cfg.JWT
	if cfg.APIKeyHash == "" {
		jwtMgr = nil
	}
	guarded := func(next http.Handler) http.Handler {
		return rateLimited(cfg.Limiter, cfg.Logger, requireBearer(jwtMgr, next))
	}

	mux := http.NewServeMux()

	// Vector utilities.
	mux.HandleFunc("POST /v1/prune", h.HandlePrune)
	mux.HandleFunc("POST /v1/anchor", h.HandleAnchor)
	mux.HandleFunc("POST /v1/interpret", h.HandleInterpret)

	// Upload entry point of the pipeline.
	mux.Handle("POST /v1/ingest", guarded(http.HandlerFunc(h.HandleIngest)))

	// Per-well queries over the memory log.
	mux.HandleFunc("GET /v1/wells/{well_id}/timeline", h.HandleTimeline)
	mux.HandleFunc("GET /v1/wells/{well_id}/search", h.HandleSearch)
	mux.Handle("POST /v1/wells/{well_id}/replay", guarded(http.HandlerFunc(h.HandleReplay)))

	// Replay broadcast.
	mux.HandleFunc("GET /v1/replay/latest", h.HandleReplayLatest)
	mux.HandleFunc("GET /v1/replay/stream", h.HandleReplayStream)

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", guarded(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	if jwtMgr != nil {
		mux.Handle("POST /auth/token", rateLimited(cfg.Limiter, cfg.Logger, http.HandlerFunc(h.HandleToken)))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)

	// Registered last so API routes win by the mux's longest-match rule.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
		cfg.Logger.Info("ui enabled, serving replay viewer at /")
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

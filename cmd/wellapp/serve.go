package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genioCE/WellApp/internal/anchor"
	"github.com/genioCE/WellApp/internal/auth"
	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/config"
	"github.com/genioCE/WellApp/internal/ingest"
	"github.com/genioCE/WellApp/internal/mcp"
	"github.com/genioCE/WellApp/internal/pipeline"
	"github.com/genioCE/WellApp/internal/ratelimit"
	"github.com/genioCE/WellApp/internal/reflection"
	"github.com/genioCE/WellApp/internal/replay"
	"github.com/genioCE/WellApp/internal/search"
	"github.com/genioCE/WellApp/internal/server"
	"github.com/genioCE/WellApp/internal/service/embedding"
	"github.com/genioCE/WellApp/internal/service/phrases"
	"github.com/genioCE/WellApp/internal/storage"
	"github.com/genioCE/WellApp/internal/telemetry"
	"github.com/genioCE/WellApp/migrations"
	"github.com/genioCE/WellApp/ui"
)

// stopper is a background component with a bounded shutdown.
type stopper interface {
	Stop(ctx context.Context) error
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("wellapp starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	if err := migrateOnStart(ctx, db, cfg.AutoMigrate); err != nil {
		return err
	}

	// A missing pgvector extension fails the schema silently; catch it before
	// the stages start polling empty tables.
	var schemaOK bool
	if err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'memory_log')`,
	).Scan(&schemaOK); err != nil {
		return fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		return errors.New("table 'memory_log' does not exist; run 'wellapp migrate' and check the vector extension")
	}

	if err := pipeline.RegisterBacklogGauge(db); err != nil {
		slog.Warn("backlog gauge registration failed", "error", err)
	}

	index, closeIndex, err := newIndex(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeIndex()

	embedder, err := embedding.New(embeddingOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	extractor := phrases.New(cfg.PhrasesURL)
	validator := anchor.NewValidator(float32(cfg.AnchorThreshold))

	files, err := ingest.NewStore(cfg.RawDataRoot, cfg.MaxFileBytes)
	if err != nil {
		return err
	}

	b := bus.NewPostgres(db, logger)
	query := replay.NewService(db, embedder, index)

	opts := pipeline.TaskOptions{PollTimeout: cfg.PollTimeout, SweepInterval: cfg.SweepInterval}
	detector := reflection.Detector{Window: cfg.AnomalyWindow, Sigma: cfg.AnomalySigma}
	procs := []pipeline.Processor{
		pipeline.NewIngestor(db, files),
		pipeline.NewInterpreter(db, extractor, cfg.BatchSize),
		pipeline.NewReflector(db, detector, cfg.Keywords, cfg.BatchSize),
		pipeline.NewTruthEmbedder(db, embedder, index, validator, cfg.BatchSize),
		pipeline.NewFinalizer(db, index, cfg.BatchSize),
	}

	var running []stopper
	defer func() { stopAll(running) }()
	for _, p := range procs {
		t := pipeline.NewTask(p, b, logger, opts)
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("start %s stage: %w", p.Stage().Name, err)
		}
		running = append(running, t)
	}

	replayer := replay.NewReplayer(query, b, logger, cfg.ReplayInterval, cfg.PollTimeout)
	if err := replayer.Start(ctx); err != nil {
		return fmt.Errorf("start replayer: %w", err)
	}
	running = append(running, replayer)

	broker := server.NewBroker(b, logger)
	go broker.Start(ctx)

	mcpSrv := mcp.New(query, b, logger, version)

	var jwtMgr *auth.JWTManager
	if cfg.APIKeyHash != "" {
		if jwtMgr, err = auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL); err != nil {
			return err
		}
		slog.Info("operator auth enabled", "token_ttl", cfg.TokenTTL)
	} else {
		slog.Warn("WELLAPP_API_KEY_HASH not set, ingest, replay and /mcp are unauthenticated")
	}

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.RateLimitRPS > 0 {
		mem := ratelimit.NewMemory(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = mem.Close() }()
		limiter = mem
	}

	uiFS, err := ui.DistFS()
	if err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	if uiFS != nil {
		slog.Info("replay viewer enabled")
	}

	srv := server.New(server.ServerConfig{
		Query:               query,
		Bus:                 b,
		Files:               files,
		Phrases:             extractor,
		Validator:           validator,
		Logger:              logger,
		DB:                  db,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		JWT:                 jwtMgr,
		APIKeyHash:          cfg.APIKeyHash,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxFileBytes:        cfg.MaxFileBytes,
		PruneThreshold:      float32(cfg.PruneThreshold),
		UIFS:                uiFS,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Stop accepting requests first; the deferred stopAll then lets each
	// stage finish its batch in flight.
	slog.Info("wellapp shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	return nil
}

// migrator applies embedded migrations. *storage.DB implements it.
type migrator interface {
	RunMigrations(ctx context.Context, fsys fs.FS) error
}

// migrateOnStart applies pending migrations when auto is set. Applied files
// are tracked in schema_migrations, so any error here is a real failure.
func migrateOnStart(ctx context.Context, m migrator, auto bool) error {
	if !auto {
		return nil
	}
	if err := m.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// stopAll stops every component concurrently under a shared deadline.
func stopAll(components []stopper) {
	if len(components) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var g errgroup.Group
	for _, c := range components {
		g.Go(func() error { return c.Stop(ctx) })
	}
	if err := g.Wait(); err != nil {
		slog.Error("background shutdown incomplete", "error", err)
		return
	}
	slog.Info("wellapp stopped")
}

// newIndex selects Qdrant when QDRANT_URL is set and the memory log's own
// vector column otherwise.
func newIndex(ctx context.Context, cfg config.Config, db *storage.DB, logger *slog.Logger) (search.Index, func(), error) {
	if cfg.QdrantURL == "" {
		logger.Info("vector index: postgres")
		return search.NewPostgresIndex(db), func() {}, nil
	}

	q, err := search.NewQdrantIndex(search.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant: %w", err)
	}
	if err := q.EnsureCollection(ctx); err != nil {
		_ = q.Close()
		return nil, nil, fmt.Errorf("qdrant: ensure collection: %w", err)
	}
	logger.Info("vector index: qdrant", "collection", cfg.QdrantCollection)
	return q, func() { _ = q.Close() }, nil
}

func embeddingOptions(cfg config.Config) embedding.Options {
	return embedding.Options{
		Provider:     cfg.EmbeddingProvider,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.EmbeddingModel,
		OllamaURL:    cfg.OllamaURL,
		OllamaModel:  cfg.OllamaModel,
		Dimensions:   cfg.EmbeddingDimensions,
	}
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genioCE/WellApp/internal/auth"
	"github.com/genioCE/WellApp/internal/bus"
	"github.com/genioCE/WellApp/internal/ingest"
	"github.com/genioCE/WellApp/internal/model"
	"github.com/genioCE/WellApp/internal/search"
)

// newIngestCmd copies a local file into the raw data root and notifies the
// ingest stage, the same way POST /v1/ingest does.
func newIngestCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <well_id> <file>",
		Short: "Store a SCADA .csv or well file .txt/.pdf and queue it for ingestion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wellID, path := args[0], args[1]
			if err := model.ValidateWellID(wellID); err != nil {
				return err
			}
			src, err := ingest.ClassifyFilename(path)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			f, err := os.Open(path) //nolint:gosec // operator-supplied path
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			files, err := ingest.NewStore(cfg.RawDataRoot, cfg.MaxFileBytes)
			if err != nil {
				return err
			}
			stored, err := files.Save(wellID, src, filepath.Base(path), f)
			if err != nil {
				return err
			}

			db, err := openDB(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			ev := model.StageEvent{
				Event:    model.IngestEventName(src),
				WellID:   wellID,
				Source:   src,
				FilePath: stored,
			}
			if err := bus.PublishJSON(ctx, bus.NewPostgres(db, logger), model.ChannelIngest, ev); err != nil {
				return fmt.Errorf("notify ingest: %w", err)
			}
			logger.Info("file queued", "well_id", wellID, "source", src, "path", stored)
			return nil
		},
	}
}

func newReplayCmd(logger *slog.Logger) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "replay <well_id>",
		Short: "Ask a running server to re-broadcast a well's finalized memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := model.ReplayCommand{Command: model.ReplayCommandName, WellID: args[0]}
			if err := model.ValidateWellID(c.WellID); err != nil {
				return err
			}
			if source != "" {
				src, err := model.ParseSource(source)
				if err != nil {
					return err
				}
				c.Source = src
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			if err := bus.PublishJSON(ctx, bus.NewPostgres(db, logger), model.ChannelReplay, c); err != nil {
				return fmt.Errorf("publish replay: %w", err)
			}
			logger.Info("replay requested", "well_id", c.WellID, "source", c.Source)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "restrict to one source (scada or wellfile)")
	return cmd
}

func newReindexCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the memory log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			index, closeIndex, err := newIndex(ctx, cfg, db, logger)
			if err != nil {
				return err
			}
			defer closeIndex()

			if _, ok := index.(*search.PostgresIndex); ok {
				logger.Info("postgres index reads the memory log directly; nothing to rebuild")
				return nil
			}
			n, err := search.NewReindexer(db, index, logger, cfg.BatchSize).Run(ctx)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			logger.Info("reindex complete", "points", n)
			return nil
		},
	}
}

// newHashKeyCmd prints the Argon2id hash to put in WELLAPP_API_KEY_HASH. The
// key is read from stdin so it stays out of shell history.
func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an operator API key read from stdin for WELLAPP_API_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read key: %w", err)
			}
			hash, err := auth.HashAPIKey(strings.TrimSpace(line))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

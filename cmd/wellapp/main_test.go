package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genioCE/WellApp/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cmd := newRootCmd(logger)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "wellapp dev\n", out)
}

func TestCommandsRejectBadArgumentsBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"ingest missing file", []string{"ingest", "W-1"}},
		{"ingest bad well id", []string{"ingest", "a/b", "a.csv"}},
		{"ingest unsupported extension", []string{"ingest", "W-1", "notes.docx"}},
		{"replay missing well", []string{"replay"}},
		{"replay bad well id", []string{"replay", "../etc"}},
		{"replay bad source", []string{"replay", "W-1", "--source", "telemetry"}},
		{"serve takes no args", []string{"serve", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"chatty", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigAppliesFileLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wellapp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("WELLAPP_LOG_LEVEL: debug\n"), 0o600))
	t.Setenv("WELLAPP_CONFIG_FILE", path)
	t.Setenv("WELLAPP_LOG_LEVEL", "")
	t.Cleanup(func() { logLevel.Set(slog.LevelInfo) })

	_, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, logLevel.Level())
}

func TestHashKeyCommand(t *testing.T) {
	cmd := newRootCmd(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("field-ops-key\n"))
	cmd.SetArgs([]string{"hash-key"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	ok, err := auth.VerifyAPIKey("field-ops-key", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashKeyCommandRejectsEmptyInput(t *testing.T) {
	cmd := newRootCmd(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cmd.SetOut(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"hash-key"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

type fakeMigrator struct {
	err   error
	calls int
}

func (f *fakeMigrator) RunMigrations(context.Context, fs.FS) error {
	f.calls++
	return f.err
}

func TestMigrateOnStart(t *testing.T) {
	ctx := context.Background()

	failing := &fakeMigrator{err: errors.New("relation already exists")}
	err := migrateOnStart(ctx, failing, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.err)
	assert.Contains(t, err.Error(), "migrate:")

	ok := &fakeMigrator{}
	require.NoError(t, migrateOnStart(ctx, ok, true))
	assert.Equal(t, 1, ok.calls)

	skipped := &fakeMigrator{err: errors.New("unreachable")}
	require.NoError(t, migrateOnStart(ctx, skipped, false))
	assert.Zero(t, skipped.calls)
}

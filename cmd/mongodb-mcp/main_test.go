package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
)

func TestBuildBroker(t *testing.T) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	b, cleanup := buildBroker(cfg, logger)
	defer cleanup()
	if b.server == nil || b.sessions == nil {
		t.Fatal("broker not fully wired")
	}
}

func TestBuildBrokerWithVectorSearch(t *testing.T) {
	cfg := config.Default()
	cfg.PreviewFeatures = []string{config.FeatureVectorSearch}
	cfg.VoyageAPIKey = "test-key"
	cfg.AtlasClientID = "id"
	cfg.AtlasClientSecret = "secret"
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	b, cleanup := buildBroker(cfg, logger)
	if b.server == nil {
		t.Fatal("broker not wired")
	}
	cleanup()
}

func TestNewLoggerSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Loggers = []string{config.LoggerStderr, config.LoggerDisk, config.LoggerMCP}
	cfg.LogPath = filepath.Join(t.TempDir(), "logs", "broker.log")

	logger, mcpSink, closeLogs, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer closeLogs()

	if mcpSink == nil {
		t.Fatal("mcp sink not created")
	}
	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(cfg.LogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("disk sink wrote nothing")
	}
}

func TestMCPSinkDisabledUntilAttached(t *testing.T) {
	h := &mcpLogHandler{}
	if h.Enabled(context.Background(), slog.LevelError) {
		t.Error("sink must be disabled before a server is attached")
	}
	var r slog.Record
	if err := h.Handle(context.Background(), r); err != nil {
		t.Errorf("Handle before attach: %v", err)
	}
}

func TestLoggingLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "debug"},
		{slog.LevelInfo, "info"},
		{slog.LevelWarn, "warning"},
		{slog.LevelError, "error"},
	}
	for _, tc := range tests {
		if got := string(loggingLevel(tc.level)); got != tc.want {
			t.Errorf("loggingLevel(%v) = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestMultiHandlerFanOut(t *testing.T) {
	var a, b countingHandler
	logger := slog.New(multiHandler{&a, &b})
	logger.Info("one")
	logger.Error("two")
	if a.count != 2 || b.count != 2 {
		t.Errorf("counts = %d, %d, want 2, 2", a.count, b.count)
	}
}

type countingHandler struct {
	count int
}

func (c *countingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (c *countingHandler) Handle(context.Context, slog.Record) error { c.count++; return nil }
func (c *countingHandler) WithAttrs([]slog.Attr) slog.Handler        { return c }
func (c *countingHandler) WithGroup(string) slog.Handler             { return c }

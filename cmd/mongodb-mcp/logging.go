package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
)

// newLogger assembles the slog logger from the configured sinks. The mcp
// sink starts out disconnected; main attaches the server once it exists so
// records reach clients as MCP logging notifications.
func newLogger(cfg *config.Config) (*slog.Logger, *mcpLogHandler, func(), error) {
	var (
		handlers []slog.Handler
		mcpSink  *mcpLogHandler
		closers  []func()
	)
	for _, sink := range cfg.Loggers {
		switch sink {
		case config.LoggerStderr:
			// stdout carries the MCP wire protocol on the stdio transport.
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, nil))
		case config.LoggerDisk:
			path := cfg.LogPath
			if path == "" {
				var err error
				if path, err = defaultLogPath(); err != nil {
					return nil, nil, nil, err
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("open log file: %w", err)
			}
			handlers = append(handlers, slog.NewJSONHandler(f, nil))
			closers = append(closers, func() { _ = f.Close() })
		case config.LoggerMCP:
			mcpSink = &mcpLogHandler{}
			handlers = append(handlers, mcpSink)
		}
	}

	logger := slog.New(multiHandler(handlers))
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return logger, mcpSink, closeAll, nil
}

func defaultLogPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve log directory: %w", err)
	}
	return filepath.Join(dir, "mongodb-mcp", "mongodb-mcp.log"), nil
}

// multiHandler fans every record out to all configured sinks.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}

// mcpLogHandler forwards log records to connected MCP clients as logging
// notifications. Records emitted before the server is attached are dropped.
type mcpLogHandler struct {
	server atomic.Pointer[mcp.Server]
	attrs  []slog.Attr
}

// Attach wires the handler to a running server.
func (h *mcpLogHandler) Attach(s *mcp.Server) {
	h.server.Store(s)
}

func (h *mcpLogHandler) Enabled(context.Context, slog.Level) bool {
	return h.server.Load() != nil
}

func (h *mcpLogHandler) Handle(ctx context.Context, r slog.Record) error {
	srv := h.server.Load()
	if srv == nil {
		return nil
	}

	data := map[string]any{"message": r.Message}
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	params := &mcp.LoggingMessageParams{
		Logger: serverName,
		Level:  loggingLevel(r.Level),
		Data:   data,
	}
	for ss := range srv.Sessions() {
		_ = ss.Log(ctx, params)
	}
	return nil
}

func (h *mcpLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &mcpLogHandler{attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
	out.server.Store(h.server.Load())
	return out
}

func (h *mcpLogHandler) WithGroup(string) slog.Handler {
	return h
}

func loggingLevel(l slog.Level) mcp.LoggingLevel {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

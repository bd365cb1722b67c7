// Command mongodb-mcp is a Model Context Protocol server for MongoDB. It
// exposes CRUD, aggregation, index, road-network routing, and Atlas
// administration tools over stdio or streamable HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/atlas"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/keychain"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/session"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/vectorsearch"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/voyage"
	"github.com/mongodb-labs/mongodb-mcp-broker/tools"
	"github.com/mongodb-labs/mongodb-mcp-broker/tracing"
)

const (
	serverName    = "mongodb-mcp-broker"
	serverVersion = "1.0.0"
)

// Exit codes.
const (
	exitOK     = 0
	exitConfig = 1
	exitServer = 2
)

const serverInstructions = `MongoDB MCP broker. Connect with the connect tool or configure a
connection string, then use find, aggregate, and the other database tools.
Atlas administration tools require service-account credentials. Road-network
tools (shortest_path, get_aois_by_poi) operate on GeoJSON-style collections.`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, warnings, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	cfg.RegisterSecrets(keychain.Global())

	logger, mcpSink, closeLogs, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer closeLogs()
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn(string(w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.DefaultConfig())
	if err != nil {
		logger.Error("Tracing setup failed", "error", err)
		return exitServer
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Tracing shutdown failed", "error", err)
		}
	}()

	broker, cleanup := buildBroker(cfg, logger)
	defer cleanup()
	if mcpSink != nil {
		mcpSink.Attach(broker.server)
	}

	go broker.sessions.Run(ctx)

	logger.Info("Starting MongoDB MCP broker",
		"name", serverName,
		"version", serverVersion,
		"transport", cfg.Transport,
		"read_only", cfg.ReadOnly,
	)

	switch cfg.Transport {
	case config.TransportHTTP:
		err = serveHTTP(ctx, cfg, logger, broker.server)
	default:
		err = broker.server.Run(ctx, &mcp.StdioTransport{})
	}
	broker.sessions.Close(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		return exitServer
	}
	return exitOK
}

// broker bundles the MCP server with the state the transports need.
type broker struct {
	server   *mcp.Server
	sessions *session.Manager
}

// buildBroker wires the tool sets, the dispatcher, and the session manager
// into an MCP server. The returned cleanup closes the optional embeddings
// manager and Atlas client.
func buildBroker(cfg *config.Config, logger *slog.Logger) (*broker, func()) {
	sessions := session.NewManager(cfg.ConnectionString, cfg.IdleTimeout(), session.WithLogger(logger))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, &mcp.ServerOptions{
		Logger:       logger,
		Instructions: serverInstructions,
	})

	resolver := func(req *mcp.CallToolRequest) *session.Session {
		if req.Session == nil {
			return nil
		}
		return sessions.ForID(req.Session.ID())
	}
	d := tools.NewDispatcher(cfg, resolver, tools.WithLogger(logger))

	var cleanups []func()

	var embeddings *vectorsearch.Manager
	if cfg.FeatureEnabled(config.FeatureVectorSearch) {
		vc := voyage.NewClient(cfg.VoyageAPIKey, voyage.WithLogger(logger))
		embeddings = vectorsearch.NewManager(vc,
			vectorsearch.WithLogger(logger),
			vectorsearch.WithDefaultDimensions(cfg.VectorSearchDimensions),
			vectorsearch.WithValidationDisabled(cfg.DisableEmbeddingsValidation),
		)
		cleanups = append(cleanups, embeddings.Close)
	}

	tools.NewMongoDBToolSet(cfg, embeddings).Register(d, server)
	tools.NewGraphToolSet(cfg).Register(d, server)

	var api atlas.API
	if cfg.AtlasClientID != "" && cfg.AtlasClientSecret != "" {
		client := atlas.NewClient(cfg.AtlasClientID, cfg.AtlasClientSecret, atlas.WithLogger(logger))
		cleanups = append(cleanups, client.Close)
		api = client
	}
	tools.NewAtlasToolSet(cfg, api).Register(d, server)

	cleanup := func() {
		for _, c := range cleanups {
			c()
		}
	}
	return &broker{server: server, sessions: sessions}, cleanup
}

// serveHTTP runs the streamable HTTP transport alongside the metrics and
// health endpoints, then drains in-flight sessions on shutdown.
func serveHTTP(ctx context.Context, cfg *config.Config, logger *slog.Logger, server *mcp.Server) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP transport listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// Give connected clients the notification grace period to wind down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.NotificationTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

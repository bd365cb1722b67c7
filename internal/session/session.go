// Package session owns the per-session MongoDB connection lifecycle. A
// session moves through Disconnected, Connecting, Connected, and Errored;
// transitions are serialized by the session mutex so concurrent tool calls
// share one connection attempt.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/keychain"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/metrics"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Connector opens a provider for a connection string. The default dials the
// driver; tests substitute a fake.
type Connector func(ctx context.Context, connectionString string) (mongodb.Provider, error)

// Session carries the connection state for one MCP client.
type Session struct {
	ID     string
	Logger *slog.Logger

	// connectMu serializes connection attempts; mu guards field access.
	connectMu        sync.Mutex
	mu               sync.Mutex
	state            State
	provider         mongodb.Provider
	connectionString string
	authType         string
	lastError        error

	connect  Connector
	keychain *keychain.Keychain

	lastActive time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithConnector overrides how providers are opened.
func WithConnector(c Connector) Option {
	return func(s *Session) { s.connect = c }
}

// WithKeychain sets the keychain that receives connect-tool secrets.
func WithKeychain(kc *keychain.Keychain) Option {
	return func(s *Session) { s.keychain = kc }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.Logger = l }
}

// New creates a disconnected session. The configured connection string may be
// empty; connecting then requires the connect tool.
func New(configuredConnectionString string, opts ...Option) *Session {
	s := &Session{
		ID:               uuid.NewString(),
		Logger:           slog.Default(),
		state:            Disconnected,
		connectionString: configuredConnectionString,
		connect: func(ctx context.Context, cs string) (mongodb.Provider, error) {
			return mongodb.Connect(ctx, cs)
		},
		keychain:   keychain.Global(),
		lastActive: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AuthType returns the auth type derived from the active connection string,
// or "none" before any connection.
func (s *Session) AuthType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authType == "" {
		return "none"
	}
	return s.authType
}

// Touch records session activity for the idle timeout.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// IdleSince returns how long the session has been inactive.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Connect switches the session to the given connection string, tearing down
// any existing provider first. Used by the connect tool.
func (s *Session) Connect(ctx context.Context, connectionString string) error {
	s.connectMu.Lock()

	s.mu.Lock()
	old := s.provider
	s.provider = nil
	s.state = Disconnected
	s.connectionString = connectionString
	s.mu.Unlock()

	if old != nil {
		s.closeProvider(ctx, old)
	}
	s.connectMu.Unlock()

	if s.keychain != nil {
		s.keychain.Register(connectionString, keychain.KindURL)
	}

	_, err := s.EnsureConnected(ctx)
	return err
}

// EnsureConnected returns the connected provider, opening a connection with
// the effective connection string when there is none. Without a configured
// connection string it fails with NotConnected and points the caller at the
// connect tool.
func (s *Session) EnsureConnected(ctx context.Context) (mongodb.Provider, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.state == Connected && s.provider != nil {
		p := s.provider
		s.mu.Unlock()
		return p, nil
	}

	cs := s.connectionString
	if cs == "" {
		s.mu.Unlock()
		return nil, errs.New(errs.CodeNotConnected,
			"not connected to MongoDB. Use the connect tool with a connection string first.")
	}

	s.state = Connecting
	authType := DeriveAuthType(cs)
	s.authType = authType
	s.mu.Unlock()

	provider, err := s.connect(ctx, cs)

	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.RecordConnection(authType, err == nil)
	if err != nil {
		s.state = Errored
		s.lastError = err
		s.Logger.Error("Connection failed", "session", s.ID, "auth_type", authType, "error", err)
		if errs.Is(err, errs.CodeConnectionFailed) {
			return nil, err
		}
		return nil, errs.Wrap(errs.CodeConnectionFailed, "failed to connect to MongoDB", err)
	}

	s.state = Connected
	s.provider = provider
	s.lastError = nil
	s.Logger.Info("Connected to MongoDB", "session", s.ID, "auth_type", authType)
	return provider, nil
}

// Disconnect closes the provider if one is open. Closing errors are logged,
// never raised; the session always ends up Disconnected.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	provider := s.provider
	s.provider = nil
	s.state = Disconnected
	s.mu.Unlock()

	if provider != nil {
		s.closeProvider(ctx, provider)
	}
}

func (s *Session) closeProvider(ctx context.Context, provider mongodb.Provider) {
	if err := provider.Disconnect(ctx); err != nil {
		s.Logger.Warn("Error closing MongoDB connection", "session", s.ID, "error", err)
	}
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager tracks one Session per MCP client. Sessions are created on first
// use and torn down when they exceed the idle timeout or when the manager
// closes.
type Manager struct {
	connectionString string
	idleTimeout      time.Duration
	logger           *slog.Logger
	opts             []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager that hands out sessions preconfigured with
// the given connection string. An idleTimeout of zero disables reaping. The
// session options are applied to every session the manager creates.
func NewManager(connectionString string, idleTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		connectionString: connectionString,
		idleTimeout:      idleTimeout,
		logger:           slog.Default(),
		opts:             opts,
		sessions:         make(map[string]*Session),
	}
	// The manager logs with whatever logger the session options carry.
	probe := &Session{Logger: m.logger}
	for _, opt := range opts {
		opt(probe)
	}
	m.logger = probe.Logger
	return m
}

// ForID returns the session for an MCP session ID, creating it on first use.
func (m *Manager) ForID(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := New(m.connectionString, m.opts...)
	m.sessions[id] = s
	return s
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep disconnects and removes sessions that have been idle longer than the
// idle timeout. It returns the number of sessions reaped.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.IdleSince() > m.idleTimeout {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Disconnect(ctx)
	}
	return len(stale)
}

// Run sweeps periodically until the context is canceled.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.Info("Reaped idle sessions", "count", n)
			}
		}
	}
}

// Close disconnects every session and empties the manager.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Disconnect(ctx)
	}
}

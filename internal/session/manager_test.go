package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerForID(t *testing.T) {
	m := NewManager("mongodb://configured.example.net", 0)

	a := m.ForID("client-1")
	if a == nil {
		t.Fatal("no session created")
	}
	if b := m.ForID("client-1"); b != a {
		t.Error("same ID must return the same session")
	}
	if c := m.ForID("client-2"); c == a {
		t.Error("distinct IDs must get distinct sessions")
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestManagerSweepReapsIdleSessions(t *testing.T) {
	m := NewManager("", 20*time.Millisecond)
	m.ForID("stale")
	time.Sleep(30 * time.Millisecond)
	fresh := m.ForID("fresh")
	fresh.Touch()

	if n := m.Sweep(context.Background()); n != 1 {
		t.Errorf("reaped %d sessions, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	if m.ForID("fresh") != fresh {
		t.Error("fresh session must survive the sweep")
	}
}

func TestManagerSweepDisabledWithoutTimeout(t *testing.T) {
	m := NewManager("", 0)
	m.ForID("a")
	time.Sleep(2 * time.Millisecond)
	if n := m.Sweep(context.Background()); n != 0 {
		t.Errorf("reaped %d sessions with reaping disabled", n)
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager("", time.Minute)
	m.ForID("a")
	m.ForID("b")
	m.Close(context.Background())
	if m.Len() != 0 {
		t.Errorf("Len = %d after Close", m.Len())
	}
	// The manager stays usable after Close.
	if m.ForID("c") == nil {
		t.Error("no session created after Close")
	}
}

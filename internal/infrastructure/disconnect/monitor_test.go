package disconnect

import (
	"errors"
	"testing"
	"time"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

type fakeLiveness struct {
	alive bool
	done  chan struct{}
}

func newFakeLiveness() *fakeLiveness {
	return &fakeLiveness{alive: true, done: make(chan struct{})}
}

func (f *fakeLiveness) Alive() bool          { return f.alive }
func (f *fakeLiveness) Done() <-chan struct{} { return f.done }

// === Check ===

func TestMonitor_CheckPassesWhileAlive(t *testing.T) {
	m := New(newFakeLiveness())
	m.Start()
	defer m.Cancel()

	if err := m.Check("preflight"); err != nil {
		t.Fatalf("expected no error while alive, got %v", err)
	}
}

func TestMonitor_CheckFailsAfterDoneCloses(t *testing.T) {
	live := newFakeLiveness()
	m := New(live)
	m.Start()
	defer m.Cancel()

	close(live.done)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := m.Check("harvest"); err != nil {
			if !domainerrors.Is(err, domainerrors.KindClientDisconnected) {
				t.Fatalf("expected ClientDisconnected kind, got %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Check never observed the disconnect")
}

func TestMonitor_DisconnectedChannelClosesOnAliveFalse(t *testing.T) {
	live := newFakeLiveness()
	live.alive = false
	m := New(live)
	m.Start()
	defer m.Cancel()

	select {
	case <-m.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnected channel never closed")
	}
}

// === Cancel ===

func TestMonitor_CancelStopsProbeWithoutPanicking(t *testing.T) {
	m := New(newFakeLiveness())
	m.Start()
	m.Cancel()
	m.Cancel() // must be safe to call twice

	if err := m.Check("cleanup"); err != nil {
		t.Fatalf("expected no error: probe was cancelled before disconnect, got %v", err)
	}
}

func TestMonitor_ErrorUnwrapsToSentinel(t *testing.T) {
	live := newFakeLiveness()
	live.alive = false
	m := New(live)
	m.Start()
	defer m.Cancel()

	time.Sleep(400 * time.Millisecond)
	err := m.Check("submit")
	if err == nil {
		t.Fatal("expected an error")
	}
	var ge *domainerrors.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected a *GatewayError, got %T", err)
	}
	if !errors.Is(err, entity.ErrClientDisconnected) {
		t.Fatalf("expected the error to unwrap to entity.ErrClientDisconnected, got %v", err)
	}
}

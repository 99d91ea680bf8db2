package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/application/pipeline"
	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
	"github.com/aistudioproxy/gateway/internal/infrastructure/browser"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

type fakeCatalogue struct{ id string }

func (c *fakeCatalogue) Has(id string) bool            { return id == c.id }
func (c *fakeCatalogue) DefaultSentinel() string        { return c.id }
func (c *fakeCatalogue) List() []valueobject.ModelEntry { return []valueobject.ModelEntry{{ID: c.id}} }

type fakeCache struct {
	mu     sync.Mutex
	params valueobject.SamplingParams
	valid  bool
}

func (c *fakeCache) Get(modelID string) (valueobject.SamplingParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.params.LastKnownModelID != modelID {
		return valueobject.SamplingParams{}, false
	}
	return c.params, true
}
func (c *fakeCache) Invalidate() { c.mu.Lock(); c.valid = false; c.mu.Unlock() }
func (c *fakeCache) Update(modelID string, p valueobject.SamplingParams) {
	c.mu.Lock()
	p.LastKnownModelID = modelID
	c.params = p
	c.valid = true
	c.mu.Unlock()
}

// fakeLiveness lets tests flip a connection dead mid-flight.
type fakeLiveness struct {
	mu    sync.Mutex
	alive bool
	done  chan struct{}
}

func newFakeLiveness(alive bool) *fakeLiveness {
	return &fakeLiveness{alive: alive, done: make(chan struct{})}
}
func (f *fakeLiveness) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}
func (f *fakeLiveness) Done() <-chan struct{} { return f.done }
func (f *fakeLiveness) Kill() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
	close(f.done)
}

// noopMonitor is a DisconnectMonitor that never fires, for tests that
// don't exercise disconnect behavior.
type noopMonitor struct {
	disconnected chan struct{}
}

func newNoopMonitor() *noopMonitor { return &noopMonitor{disconnected: make(chan struct{})} }
func (m *noopMonitor) Check(string) error               { return nil }
func (m *noopMonitor) Disconnected() <-chan struct{}    { return m.disconnected }
func (m *noopMonitor) Start()                           {}
func (m *noopMonitor) Cancel()                          {}

func newTestWorker(t *testing.T) (*Worker, *Queue) {
	t.Helper()
	q := New()
	p := &pipeline.Pipeline{
		Session:            browser.NewFake(),
		Bus:                service.NewStreamBus(8),
		SessionState:       pipeline.NewSessionState("m1"),
		ModelSwitchMu:      &sync.Mutex{},
		StreamProxyEnabled: false,
		CompletionTimeout:  200 * time.Millisecond,
		SubmitTimeout:      time.Second,
		SandboxRoot:        t.TempDir(),
		SnapshotDir:        t.TempDir(),
		Logger:             zap.NewNop(),
	}
	w := &Worker{
		Queue:             q,
		Pipeline:          p,
		Session:           p.Session,
		Bus:               p.Bus,
		ProcessingMu:      &sync.Mutex{},
		Catalogue:         &fakeCatalogue{id: "m1"},
		Cache:             &fakeCache{},
		QueueWait:         20 * time.Millisecond,
		StreamCooldown:    50 * time.Millisecond,
		CompletionExtra:   time.Second,
		CompletionTimeout: 200 * time.Millisecond,
		Logger:            zap.NewNop(),
	}
	return w, q
}

func chatReq(model, content string) entity.ChatCompletionRequest {
	return entity.ChatCompletionRequest{
		Model:    model,
		Messages: []valueobject.ChatMessage{{Role: "user", Content: content}},
	}
}

func TestWorker_ProcessesSingleItem(t *testing.T) {
	w, q := newTestWorker(t)
	env := entity.NewRequestEnvelope("r1", chatReq("m1", "ping"), nil)
	q.Enqueue(&Item{Envelope: env, Monitor: newNoopMonitor()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case result := <-env.Future():
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.JSON == nil {
			t.Fatal("expected JSON result")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never resolved the envelope")
	}
}

func TestWorker_DeadClientShortCircuitsWithoutUI(t *testing.T) {
	w, q := newTestWorker(t)
	liveness := newFakeLiveness(false) // already dead at enqueue
	env := entity.NewRequestEnvelope("r1", chatReq("m1", "ping"), liveness)
	q.Enqueue(&Item{Envelope: env, Monitor: newNoopMonitor()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case result := <-env.Future():
		if !domainerrors.Is(result.Err, domainerrors.KindClientDisconnected) {
			t.Fatalf("expected ClientDisconnected, got %v", result.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never resolved the envelope")
	}
}

func TestWorker_CancelledItemResolvesUserCancelled(t *testing.T) {
	w, q := newTestWorker(t)
	env := entity.NewRequestEnvelope("r1", chatReq("m1", "ping"), nil)
	env.Cancel()
	q.Enqueue(&Item{Envelope: env, Monitor: newNoopMonitor()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case result := <-env.Future():
		if !domainerrors.Is(result.Err, domainerrors.KindUserCancelled) {
			t.Fatalf("expected UserCancelled, got %v", result.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never resolved the envelope")
	}
}

func TestWorker_ProcessesInEnqueueOrder(t *testing.T) {
	w, q := newTestWorker(t)
	env1 := entity.NewRequestEnvelope("r1", chatReq("m1", "first"), nil)
	env2 := entity.NewRequestEnvelope("r2", chatReq("m1", "second"), nil)
	q.Enqueue(&Item{Envelope: env1, Monitor: newNoopMonitor()})
	q.Enqueue(&Item{Envelope: env2, Monitor: newNoopMonitor()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// The worker resolves r1 completely before it dequeues r2 (P1: at
	// most one request holds the lock at a time), so once r2's future is
	// ready r1's must already be.
	select {
	case <-env2.Future():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never resolved r2")
	}
	select {
	case <-env1.Future():
	default:
		t.Fatal("r2 resolved before r1: requests were not processed in enqueue order")
	}
}

func TestQueue_CancelMarksWithoutResolving(t *testing.T) {
	q := New()
	env := entity.NewRequestEnvelope("r1", chatReq("m1", "ping"), nil)
	q.Enqueue(&Item{Envelope: env, Monitor: newNoopMonitor()})

	if !q.Cancel("r1") {
		t.Fatal("expected Cancel to find r1")
	}
	if !env.Cancelled() {
		t.Fatal("expected envelope to be marked cancelled")
	}
	select {
	case <-env.Future():
		t.Fatal("Cancel must not resolve the future itself")
	default:
	}
	if q.Cancel("ghost") {
		t.Fatal("expected Cancel to report false for unknown id")
	}
}

func TestQueue_SnapshotReportsWaitAndStream(t *testing.T) {
	q := New()
	env := entity.NewRequestEnvelope("r1", entity.ChatCompletionRequest{Stream: true}, nil)
	q.Enqueue(&Item{Envelope: env, Monitor: newNoopMonitor()})

	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ReqID != "r1" || !snap[0].Stream {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap[0].WaitTimeSeconds < 0 {
		t.Fatalf("expected a non-negative wait time, got %v", snap[0].WaitTimeSeconds)
	}
}

func TestWorker_ProcessingLockedReflectsInFlightRequest(t *testing.T) {
	w, _ := newTestWorker(t)
	if w.ProcessingLocked() {
		t.Fatal("expected unlocked at start")
	}
	w.ProcessingMu.Lock()
	if !w.ProcessingLocked() {
		t.Fatal("expected locked while held")
	}
	w.ProcessingMu.Unlock()
}

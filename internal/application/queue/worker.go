package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/application/pipeline"
	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/infrastructure/browser"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// headScanSize is spec §4.6 step 1's N.
const headScanSize = 10

// MonitorFactory builds the per-request disconnect monitor (spec §4.4)
// watching one envelope's liveness handle. A field rather than a
// direct dependency on infrastructure/disconnect so tests can supply a
// deterministic fake.
type MonitorFactory func(entity.LivenessHandle) service.DisconnectMonitor

// Worker is C6: the single-consumer loop holding the global processing
// lock for exactly one request at a time (spec §4.6). It owns no
// back-pointer into the pipeline — Pipeline.Run returns an explicit
// Handoff and Worker holds the only reference to it (spec §9, "Cyclic
// state").
type Worker struct {
	Queue        *Queue
	Pipeline     *pipeline.Pipeline
	Session      browser.Session
	Bus          *service.StreamBus
	ProcessingMu *sync.Mutex
	Catalogue    entity.ModelCatalogue
	Cache        entity.ParamCacheStore

	QueueWait         time.Duration // bounded dequeue wait (spec §4.6 step 2)
	StreamCooldown    time.Duration // inter-stream cooldown (spec §4.6 step c, ~1.0s)
	CompletionExtra   time.Duration // added to CompletionTimeout for the step-g wait (~60s)
	CompletionTimeout time.Duration

	Logger *zap.Logger

	wasLastStreaming   bool
	lastCompletionTime time.Time
}

// Run drives the loop until ctx is cancelled (spec §4.6 "Loop...
// Repeatedly"). It never returns until shutdown.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.scanForDeadClients()

		item := w.Queue.Dequeue()
		if item == nil {
			w.waitForWork(ctx)
			continue
		}

		w.processItem(ctx, item)
	}
}

// waitForWork blocks until either an item is enqueued or the bounded
// wait elapses, whichever comes first (spec §4.6 step 2: "on timeout,
// loop").
func (w *Worker) waitForWork(ctx context.Context) {
	wait := w.QueueWait
	if wait <= 0 {
		wait = 200 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-w.Queue.Notify():
	case <-time.After(wait):
	}
}

// scanForDeadClients implements spec §4.6 step 1: peek at up to N=10
// head items; for each unprocessed (not yet resolved) id, probe its
// liveness; if dead, cancel it and resolve its future with a
// client-disconnect error. The scan never removes or reorders items —
// a cancelled item is still dequeued and short-circuited in its turn
// (step 3a), preserving FIFO order for everything still live.
func (w *Worker) scanForDeadClients() {
	for _, item := range w.Queue.HeadScan(headScanSize) {
		if item.Envelope.Cancelled() {
			continue
		}
		if livenessAlive(item.Envelope.Liveness) {
			continue
		}
		item.Envelope.Cancel()
		item.Envelope.Resolve(entity.Result{Err: domainerrors.ClientDisconnected("queue_scan")})
	}
}

// processItem implements spec §4.6 steps 3a-j for one dequeued item.
func (w *Worker) processItem(ctx context.Context, item *Item) {
	env := item.Envelope
	defer item.Monitor.Cancel()

	if env.Cancelled() {
		env.Resolve(entity.Result{Err: domainerrors.UserCancelled("dequeue")})
		return
	}

	if !livenessAlive(env.Liveness) {
		env.Resolve(entity.Result{Err: domainerrors.ClientDisconnected("preflight")})
		return
	}

	w.applyCooldown(env)

	if !livenessAlive(env.Liveness) {
		env.Resolve(entity.Result{Err: domainerrors.ClientDisconnected("preflight")})
		return
	}

	w.ProcessingMu.Lock()
	defer w.ProcessingMu.Unlock()

	if !livenessAlive(env.Liveness) {
		env.Resolve(entity.Result{Err: domainerrors.ClientDisconnected("preflight")})
		return
	}

	w.Bus.Drain()
	handoff := w.Pipeline.Run(ctx, env, w.Catalogue, w.Cache, item.Monitor)

	disconnectedEarly := w.awaitCompletion(handoff, item.Monitor)

	if !disconnectedEarly {
		w.quiesceBestEffort(ctx)
	}

	w.cleanup(ctx, handoff)

	w.wasLastStreaming = env.Request.Stream
	w.lastCompletionTime = time.Now()
}

// applyCooldown implements spec §4.6 step c: "if the previous
// processed request was streaming and the next is also streaming and
// completed less than 1.0s ago, sleep the difference."
func (w *Worker) applyCooldown(env *entity.RequestEnvelope) {
	if !w.wasLastStreaming || !env.Request.Stream {
		return
	}
	elapsed := time.Since(w.lastCompletionTime)
	if elapsed >= w.StreamCooldown {
		return
	}
	time.Sleep(w.StreamCooldown - elapsed)
}

// awaitCompletion implements spec §4.6 step g. For a streaming
// handoff it waits on handoff.Done (which the emitter closes itself on
// disconnect, so no separate disconnect-aware probe is needed here —
// the emitter already selects on the same monitor.Disconnected()
// channel). For a non-streaming handoff, Pipeline.Run has already
// resolved the future synchronously by the time it returns, so there
// is nothing left to wait for; the "shield" semantics spec describes
// falls out for free since nothing here can cancel a call already
// completed. Returns true if the client disconnected before
// completion.
func (w *Worker) awaitCompletion(handoff pipeline.Handoff, monitor service.DisconnectMonitor) bool {
	if !handoff.Streaming {
		return false
	}

	budget := w.CompletionTimeout + w.CompletionExtra
	if budget <= 0 {
		budget = 5*time.Minute + 60*time.Second
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-handoff.Done:
		return false
	case <-monitor.Disconnected():
		return true
	case <-timer.C:
		return false
	}
}

// quiesceBestEffort implements spec §4.6 step h: ensure the provider's
// stop/generate button is idle. Best-effort — a failure here is
// logged, never surfaced, since the request has already resolved.
func (w *Worker) quiesceBestEffort(ctx context.Context) {
	if w.Session == nil {
		return
	}
	if err := w.Session.QuiesceStopButton(ctx); err != nil {
		w.Logger.Warn("queue: stop-button quiesce failed", zap.Error(err))
	}
}

// cleanup implements spec §4.6 step i, which always runs regardless of
// how the request resolved: drain the stream bus, delete the upload
// sandbox, reset the UI.
func (w *Worker) cleanup(ctx context.Context, handoff pipeline.Handoff) {
	w.Bus.Drain()

	if err := pipeline.CleanupSandbox(handoff.SandboxDir); err != nil {
		w.Logger.Warn("queue: sandbox cleanup failed", zap.Error(err))
	}

	if w.Session == nil {
		return
	}
	if err := w.Session.ClearChat(ctx); err != nil {
		w.Logger.Warn("queue: chat reset failed", zap.Error(err))
	}
}

// ProcessingLocked reports whether a request currently holds the
// global processing lock, for GET /v1/queue's is_processing_locked
// field (spec §6). Never blocks: TryLock succeeding means nothing was
// held, so it is immediately released again.
func (w *Worker) ProcessingLocked() bool {
	if w.ProcessingMu.TryLock() {
		w.ProcessingMu.Unlock()
		return false
	}
	return true
}

// livenessAlive treats a nil handle as always alive, which lets tests
// construct envelopes without a real HTTP connection behind them.
func livenessAlive(h entity.LivenessHandle) bool {
	if h == nil {
		return true
	}
	return h.Alive()
}

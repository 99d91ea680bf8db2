package service

import "github.com/aistudioproxy/gateway/internal/domain/entity"

// DisconnectChecker is the checkpoint function every pipeline stage
// calls (spec §4.4 "Checkpoint discipline"; Glossary "Checkpoint").
// Implemented by infrastructure/disconnect.Monitor; declared here so
// the pipeline and queue-worker packages can depend on the contract
// without importing the concrete prober.
type DisconnectChecker interface {
	// Check returns entity.ErrClientDisconnected if the monitored
	// client has gone away, annotated with the calling stage's name;
	// otherwise it returns nil. Safe to call repeatedly and
	// concurrently.
	Check(stage string) error

	// Disconnected is closed the instant the probe detects the client
	// is gone. A streaming completion wait selects on this alongside
	// its own completion signal (spec §4.6 step g).
	Disconnected() <-chan struct{}
}

// DisconnectMonitor is the lifecycle interface the queue worker holds
// per in-flight request: start the background probe at enqueue, cancel
// it once the result future resolves.
type DisconnectMonitor interface {
	DisconnectChecker

	// Start begins the background liveness probe. Must be called at
	// most once per monitor instance.
	Start()

	// Cancel stops the probe. The probe swallows the resulting
	// cancellation silently (spec §4.4, "must swallow cancellation
	// silently") — Cancel never blocks on probe shutdown.
	Cancel()
}

// ModelSwitcher is the UI-facing capability the pipeline's switch-model
// stage needs (spec §4.7 step 3): set local-storage preferences and
// reload, or report failure so the pipeline can restore the previous
// model id and surface UnprocessableEntity.
type ModelSwitcher interface {
	SwitchModel(reqCtx *entity.RequestContext, targetModelID string) error
}

package entity

import (
	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
)

// ModelCatalogue is the parsed, queryable list of model ids the UI
// currently offers. Implemented by whatever keeps the catalogue fresh
// (out of scope per spec.md §1: "model-list fetching" is glue); the
// pipeline only ever needs to ask these three questions of it.
type ModelCatalogue interface {
	Has(modelID string) bool
	DefaultSentinel() string
	List() []valueobject.ModelEntry
}

// ParamCacheStore is the process-wide parameter cache (spec §3,
// "Parameter Cache"). Implemented by internal/domain/service.ParamCache;
// declared here so entity.RequestContext can reference it without
// importing the service package (entity is the innermost domain layer).
type ParamCacheStore interface {
	// Get returns the cached params and whether the cache is fresh
	// for modelID (false if last_known_model_id differs or nothing cached).
	Get(modelID string) (valueobject.SamplingParams, bool)
	// Invalidate clears the cache, forcing the next reconcile to
	// re-read every parameter from the UI.
	Invalidate()
	// Update stores newly-verified params as the cache contents.
	Update(modelID string, params valueobject.SamplingParams)
}

// RequestContext is C7's per-active-request scratch (spec §3): created
// by the pipeline's init stage, lives for exactly one pass through the
// pipeline, then is discarded. It is never shared between requests —
// contrast with the singletons in AppState, which it merely references.
type RequestContext struct {
	ReqID   string
	Logger  *zap.Logger

	Catalogue      ModelCatalogue
	Cache          ParamCacheStore
	CurrentModelID string // the model the UI session is currently on

	RequestedModelID      string
	NeedsModelSwitching    bool
	ModelActuallySwitched  bool

	UploadSandboxDir string
}

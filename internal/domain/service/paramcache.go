package service

import (
	"sync"

	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
)

// ParamCache is the process-wide parameter cache (spec §3, "Parameter
// Cache"; §9 Design Notes resolves the source's ad-hoc globals into
// this explicit, lock-owning type). Invariant: if LastKnownModelID
// differs from the model currently asked about, Get reports a miss and
// the caller must re-read every parameter from the UI (P4).
//
// Lock ordering (§5): callers must never hold the processing lock or
// model-switching lock and then block trying to acquire another lock
// that itself waits on this one; this cache's lock is always the
// innermost lock taken.
type ParamCache struct {
	mu     sync.Mutex
	params valueobject.SamplingParams
	valid  bool
}

// NewParamCache returns an empty, invalid cache.
func NewParamCache() *ParamCache {
	return &ParamCache{}
}

// Get implements entity.ParamCacheStore.
func (c *ParamCache) Get(modelID string) (valueobject.SamplingParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.params.LastKnownModelID != modelID {
		return valueobject.SamplingParams{}, false
	}
	return c.params, true
}

// Invalidate implements entity.ParamCacheStore.
func (c *ParamCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Update implements entity.ParamCacheStore.
func (c *ParamCache) Update(modelID string, params valueobject.SamplingParams) {
	c.mu.Lock()
	params.LastKnownModelID = modelID
	c.params = params
	c.valid = true
	c.mu.Unlock()
}

// InvalidateField clears only the cache's validity for one parameter
// by dropping the whole entry — the cache has no per-field staleness,
// matching spec §4.7 step 6: "Any mismatch invalidates that cache
// entry," where "entry" is the single cached SamplingParams record.
func (c *ParamCache) InvalidateField() {
	c.Invalidate()
}

// Package catalogue implements entity.ModelCatalogue: the parsed,
// queryable list of model ids the UI currently offers (spec §1:
// "model-list fetching" is glue, out of scope for the gateway core —
// this package is the minimal glue that satisfies the interface).
package catalogue

import (
	"sync"

	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
)

// Static is a refreshable in-memory catalogue. A production build
// would populate it by scraping the provider's model picker DOM; that
// scrape is out of scope here, so Static is seeded at startup and can
// be replaced wholesale via Replace (e.g. from a config reload or an
// operator command).
type Static struct {
	mu      sync.RWMutex
	entries []valueobject.ModelEntry
	byID    map[string]struct{}
	exclude map[string]struct{}
	def     string
}

// NewStatic returns a catalogue seeded with entries, a default
// sentinel id, and an exclusion set (ids hidden from GET /v1/models
// but still switchable).
func NewStatic(entries []valueobject.ModelEntry, defaultSentinel string, exclude []string) *Static {
	c := &Static{def: defaultSentinel}
	c.exclude = make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		c.exclude[id] = struct{}{}
	}
	c.Replace(entries)
	return c
}

// Replace swaps the catalogue contents atomically.
func (c *Static) Replace(entries []valueobject.ModelEntry) {
	byID := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		byID[e.ID] = struct{}{}
	}

	c.mu.Lock()
	c.entries = entries
	c.byID = byID
	c.mu.Unlock()
}

// Has implements entity.ModelCatalogue.
func (c *Static) Has(modelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byID[modelID]
	return ok
}

// DefaultSentinel implements entity.ModelCatalogue.
func (c *Static) DefaultSentinel() string {
	return c.def
}

// List implements entity.ModelCatalogue.
func (c *Static) List() []valueobject.ModelEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]valueobject.ModelEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Visible returns List filtered against the configured exclusion set,
// for GET /v1/models (spec §6: "minus any configured exclusion set").
func (c *Static) Visible() []valueobject.ModelEntry {
	all := c.List()
	if len(c.exclude) == 0 {
		return all
	}
	out := make([]valueobject.ModelEntry, 0, len(all))
	for _, e := range all {
		if _, hidden := c.exclude[e.ID]; !hidden {
			out = append(out, e)
		}
	}
	return out
}

package catalogue

import (
	"regexp"
	"strings"

	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
)

// capabilityRule is one ordered substring/regex matcher feeding
// GET /api/model-capabilities (spec §6). Order matters: the first rule
// whose pattern matches wins, most-specific first — mirroring the
// provider's own "newer model family first" matcher table.
type capabilityRule struct {
	pattern *regexp.Regexp
	cap     valueobject.ModelCapability
}

var capabilityRules = []capabilityRule{
	{
		pattern: regexp.MustCompile(`gemini-?3.*flash`),
		cap: valueobject.ModelCapability{
			ThinkingType:   "level",
			ThinkingLevels: []string{"minimal", "low", "medium", "high"},
			SupportsSearch: true,
		},
	},
	{
		pattern: regexp.MustCompile(`gemini-?3.*pro`),
		cap: valueobject.ModelCapability{
			ThinkingType:   "level",
			ThinkingLevels: []string{"low", "high"},
			SupportsSearch: true,
		},
	},
	{
		pattern: regexp.MustCompile(`gemini-2\.5-?pro`),
		cap: valueobject.ModelCapability{
			ThinkingType:      "budget",
			ThinkingBudgetMin: 1024,
			ThinkingBudgetMax: 32768,
			SupportsSearch:    true,
		},
	},
	{
		pattern: regexp.MustCompile(`gemini-2\.5-?flash|gemini-flash-latest|gemini-flash-lite-latest`),
		cap: valueobject.ModelCapability{
			ThinkingType:      "budget",
			ThinkingBudgetMin: 512,
			ThinkingBudgetMax: 24576,
			SupportsSearch:    true,
		},
	},
	{
		pattern: regexp.MustCompile(`gemini-?2\.0`),
		cap: valueobject.ModelCapability{
			ThinkingType:   "none",
			SupportsSearch: false,
		},
	},
	{
		pattern: regexp.MustCompile(`gemini-robotics`),
		cap: valueobject.ModelCapability{
			ThinkingType:   "none",
			SupportsSearch: true,
		},
	},
}

// defaultCapability is returned for any model id matching none of the
// rules above — no thinking controls, search left on by default.
var defaultCapability = valueobject.ModelCapability{
	ThinkingType:   "none",
	SupportsSearch: true,
}

// CapabilitiesFor resolves one model id's capability descriptor,
// keyed by substring as the provider's own frontend does it.
func CapabilitiesFor(modelID string) valueobject.ModelCapability {
	lower := strings.ToLower(modelID)
	for _, rule := range capabilityRules {
		if rule.pattern.MatchString(lower) {
			return rule.cap
		}
	}
	return defaultCapability
}

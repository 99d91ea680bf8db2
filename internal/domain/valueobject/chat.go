// Package valueobject holds the immutable request/response shapes shared
// across the pipeline: chat messages, sampling parameters, model ids.
package valueobject

// ChatMessage is one OpenAI-schema conversation turn.
type ChatMessage struct {
	Role       string           `json:"role"` // system, user, assistant, tool
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall       `json:"tool_calls,omitempty"`
	Parts      []ContentPart    `json:"-"` // multimodal parts, extracted from Content when it is an array
}

// ContentPart is one element of a multimodal message content array.
type ContentPart struct {
	Type     string `json:"type"` // text, image_url, input_audio
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // may be a data: URL, file:// URL, or absolute path
}

// ToolCall is one function-call entry as returned to (or supplied by) the client.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc carries the name and JSON-encoded argument string of a tool call.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is one entry of the client-supplied tool catalogue.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolDefinitionFunc `json:"function"`
}

// ToolDefinitionFunc is the function body of a ToolDefinition.
type ToolDefinitionFunc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// SamplingParams is the process-wide parameter cache shape (spec §3,
// "Parameter Cache"). Zero values mean "not yet known"; StopSequences
// nil means "no cached value" (distinct from an explicitly empty set).
type SamplingParams struct {
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
	StopSequences   map[string]struct{}
	ThinkingBudget   int
	SearchEnabled    bool
	URLContextEnabled bool
	LastKnownModelID string
}

// Equal reports whether two sampling params carry the same UI-visible
// values.
func (p SamplingParams) Equal(o SamplingParams) bool {
	if p.Temperature != o.Temperature || p.MaxOutputTokens != o.MaxOutputTokens ||
		p.TopP != o.TopP || p.ThinkingBudget != o.ThinkingBudget ||
		p.SearchEnabled != o.SearchEnabled || p.URLContextEnabled != o.URLContextEnabled {
		return false
	}
	return stopSequencesEqual(p.StopSequences, o.StopSequences)
}

func stopSequencesEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// ModelCapability is a static capability descriptor served from
// GET /api/model-capabilities, keyed by a model-name substring.
type ModelCapability struct {
	ThinkingType    string `json:"thinking_type,omitempty"` // "none", "budget", "level"
	ThinkingLevels  []string `json:"thinking_levels,omitempty"`
	ThinkingBudgetMin int    `json:"thinking_budget_min,omitempty"`
	ThinkingBudgetMax int    `json:"thinking_budget_max,omitempty"`
	SupportsSearch  bool   `json:"supports_search"`
}

// ModelEntry is one row of the parsed model catalogue.
type ModelEntry struct {
	ID   string
	Name string
}

package streamparser

import (
	"encoding/json"
	"regexp"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
)

// envelopePattern matches one provider payload envelope of shape
// [[payload],"model"] where payload starts with a leading null slot —
// on the wire this appears as `[[[null, ...]],"model"]`. Non-greedy so
// that a buffer containing several envelopes yields one match per
// envelope rather than swallowing everything between the first and
// last.
var envelopePattern = regexp.MustCompile(`\[\[\[null,.*?]],"model"]`)

// reasonShapeIndex is where "thinking" text lives in a payload that is
// neither a 2-element body delta nor the 11-element tool-call shape.
// The spec leaves the exact index for this case an open question (§9,
// "Open questions" (a) covers only the tool-call payload, but the same
// caveat applies here); index 0 is what has been observed in capture
// traces. Parse logs every shape it cannot classify at debug level,
// rather than silently dropping it, per the spec's own guidance for
// the tool-call case.
const reasonShapeIndex = 0

// Parse runs the full C2 decoding pipeline over raw (a possibly
// partial, growing HTTP response buffer) and returns the accumulated
// frame observed so far. done is true only when the chunked framing
// saw its terminal marker (spec §4.2, "Output").
func Parse(logger *zap.Logger, raw []byte) (entity.ParsedFrame, bool) {
	decoded, chunkedDone := DecodeChunked(raw)
	inflated := Inflate(decoded)

	frame := entity.ParsedFrame{}

	for _, match := range envelopePattern.FindAll(inflated, -1) {
		var envelope []json.RawMessage
		if err := json.Unmarshal(match, &envelope); err != nil || len(envelope) < 1 {
			continue // still-incomplete envelope; skip silently (spec §4.2 step 3)
		}

		var wrapped []json.RawMessage
		if err := json.Unmarshal(envelope[0], &wrapped); err != nil || len(wrapped) < 1 {
			continue
		}

		var payload []json.RawMessage
		if err := json.Unmarshal(wrapped[0], &payload); err != nil {
			continue
		}

		applyPayload(logger, &frame, payload)
	}

	frame.Done = chunkedDone
	return frame, chunkedDone
}

func applyPayload(logger *zap.Logger, frame *entity.ParsedFrame, payload []json.RawMessage) {
	switch {
	case len(payload) == 2:
		var delta string
		if err := json.Unmarshal(payload[1], &delta); err == nil {
			frame.Body += delta
		}

	case len(payload) == 11 && isJSONNull(payload[1]):
		warnOnUnmappedToolCallSlots(logger, payload)
		name, params, ok := decodeToolCallSlot(payload[10])
		if ok {
			frame.Function = append(frame.Function, entity.ToolCallFrame{Name: name, Params: params})
		}

	default:
		if reasonShapeIndex < len(payload) {
			var text string
			if err := json.Unmarshal(payload[reasonShapeIndex], &text); err == nil && text != "" {
				frame.Reason += text
				return
			}
		}
		logger.Debug("streamparser: unmapped payload shape", zap.Int("len", len(payload)))
	}
}

// warnOnUnmappedToolCallSlots implements spec §9 Open Question (a):
// the mapping of slots 2-9 in the 11-element tool-call payload is
// undocumented and may change upstream. Rather than silently ignoring
// data there, log loudly so an unexpected provider change is noticed
// instead of quietly producing a truncated tool call.
func warnOnUnmappedToolCallSlots(logger *zap.Logger, payload []json.RawMessage) {
	for i := 2; i <= 9; i++ {
		if !isJSONNull(payload[i]) {
			logger.Warn("streamparser: unmapped slot populated in tool-call payload",
				zap.Int("slot", i), zap.ByteString("raw", payload[i]))
		}
	}
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}

// decodeToolCallSlot decodes payload[10], shaped [name, params_list]
// (spec §4.2 step 4: "payload[10] = [name, params_list]").
func decodeToolCallSlot(raw json.RawMessage) (string, map[string]interface{}, bool) {
	var slot []json.RawMessage
	if err := json.Unmarshal(raw, &slot); err != nil || len(slot) < 2 {
		return "", nil, false
	}

	var name string
	if err := json.Unmarshal(slot[0], &name); err != nil {
		return "", nil, false
	}

	params, err := DecodeToolCallParams(slot[1])
	if err != nil {
		return "", nil, false
	}
	return name, params, true
}

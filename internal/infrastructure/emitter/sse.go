// Package emitter is C5: it turns accumulated ParsedFrame state from
// the stream bus (or a DOM-scrape result) into OpenAI-shaped SSE
// chunks or a single JSON payload (spec §4.5). The SSE writing style —
// marshal one JSON chunk, write `data: <json>\n\n`, flush — follows the
// teacher's openai_handler.go writeSSEChunk/handleStream pattern,
// generalized from a canned demo stream to the real stream bus.
package emitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// internalTimeoutScale scales the configured completion timeout into
// the internal completion budget (spec §4.5: "≈5 minutes scaled from
// the configured completion timeout").
const internalTimeoutScale = 1.0

// defaultStreamIdleTimeout backs spec §5's "stream-parse internal
// empty-read timeout: ~30s of idle" when the caller leaves
// StreamIdleTimeout unset.
const defaultStreamIdleTimeout = 30 * time.Second

// streamChunk is the wire shape of one SSE event.
type streamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *entity.Usage  `json:"usage,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Role      string                `json:"role,omitempty"`
	Content   string                `json:"content,omitempty"`
	Reasoning string                `json:"reasoning_content,omitempty"`
	ToolCalls []streamToolCallDelta `json:"tool_calls,omitempty"`
}

type streamToolCallDelta struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function streamToolCallFunction `json:"function"`
}

type streamToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Emitter drives the SSE/JSON output for one request.
type Emitter struct {
	ReqID             string
	Model             string
	CompletionTimeout time.Duration

	// StreamIdleTimeout is spec §5's separate ~30s idle-read timeout:
	// it resets on every frame observed and fires only when the bus
	// goes quiet, independently of CompletionTimeout's absolute budget.
	// Zero means defaultStreamIdleTimeout.
	StreamIdleTimeout time.Duration
}

// New returns an Emitter for one request. idleTimeout is spec §5's
// stream-parse idle-read timeout (~30s); pass 0 to use the default.
func New(reqID, model string, completionTimeout, idleTimeout time.Duration) *Emitter {
	return &Emitter{ReqID: reqID, Model: model, CompletionTimeout: completionTimeout, StreamIdleTimeout: idleTimeout}
}

// Stream runs C5's streaming path: it ranges over bus.Frames(),
// computing prefix deltas against the previous frame (P6), and writes
// formatted `data: ...\n\n` payloads to the returned channel. It exits
// when a done frame arrives, the disconnect channel closes, or the
// internal timeout elapses (spec §4.5 "Timeout"). The returned done
// channel closes when the emitter has written its last byte.
func (e *Emitter) Stream(bus *service.StreamBus, disconnected <-chan struct{}) (<-chan []byte, <-chan struct{}) {
	out := make(chan []byte, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		e.streamLoop(bus, disconnected, out)
	}()

	return out, done
}

func (e *Emitter) streamLoop(bus *service.StreamBus, disconnected <-chan struct{}, out chan<- []byte) {
	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	// A client that is already gone gets no chunks at all.
	select {
	case <-disconnected:
		return
	default:
	}

	out <- e.formatChunk(streamChunk{
		ID: completionID, Object: "chat.completion.chunk", Created: created, Model: e.Model,
		Choices: []streamChoice{{Index: 0, Delta: streamDelta{Role: "assistant"}}},
	})

	var prev entity.ParsedFrame

	// budget is the absolute, non-resetting completion budget (spec
	// §4.5: "≈5 minutes scaled from the configured completion
	// timeout") — it fires once, regardless of how many frames arrive
	// in the meantime.
	budget := time.NewTimer(time.Duration(float64(e.CompletionTimeout) * internalTimeoutScale))
	defer budget.Stop()

	// idle is the separate ~30s empty-read timeout (spec §5): it
	// resets on every frame and fires only once the bus goes quiet.
	idleTimeout := e.StreamIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultStreamIdleTimeout
	}
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case frame, ok := <-bus.Frames():
			if !ok {
				return
			}
			resetTimer(idle, idleTimeout)

			if frame.Error != nil {
				e.emitError(out, *frame.Error)
				return
			}

			e.emitDelta(out, completionID, created, prev, frame)
			prev = frame

			if frame.Done {
				e.emitFinish(out, completionID, created, frame)
				return
			}

		case <-disconnected:
			return

		case <-idle.C:
			e.emitFinish(out, completionID, created, entity.ParsedFrame{
				Body: prev.Body, Reason: "internal_timeout", Done: true,
			})
			return

		case <-budget.C:
			e.emitFinish(out, completionID, created, entity.ParsedFrame{
				Body: prev.Body, Reason: "internal_timeout", Done: true,
			})
			return
		}
	}
}

// resetTimer drains t if it already fired before resetting it, per the
// documented time.Timer.Reset usage pattern for timers read in a
// select loop.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (e *Emitter) emitDelta(out chan<- []byte, completionID string, created int64, prev, frame entity.ParsedFrame) {
	deltaBody := suffixAfter(prev.Body, frame.Body)
	deltaReason := suffixAfter(prev.Reason, frame.Reason)
	if deltaBody == "" && deltaReason == "" {
		return
	}
	out <- e.formatChunk(streamChunk{
		ID: completionID, Object: "chat.completion.chunk", Created: created, Model: e.Model,
		Choices: []streamChoice{{Index: 0, Delta: streamDelta{Content: deltaBody, Reasoning: deltaReason}}},
	})
}

func (e *Emitter) emitFinish(out chan<- []byte, completionID string, created int64, frame entity.ParsedFrame) {
	finishReason := "stop"
	if len(frame.Function) > 0 {
		finishReason = "tool_calls"
		out <- e.formatChunk(streamChunk{
			ID: completionID, Object: "chat.completion.chunk", Created: created, Model: e.Model,
			Choices: []streamChoice{{Index: 0, Delta: streamDelta{ToolCalls: toToolCallDeltas(frame.Function)}}},
		})
	}

	out <- e.formatChunk(streamChunk{
		ID: completionID, Object: "chat.completion.chunk", Created: created, Model: e.Model,
		Choices: []streamChoice{{Index: 0, Delta: streamDelta{}, FinishReason: &finishReason}},
	})

	usage := heuristicUsage(frame)
	out <- e.formatChunk(streamChunk{
		ID: completionID, Object: "chat.completion.chunk", Created: created, Model: e.Model,
		Choices: []streamChoice{}, Usage: &usage,
	})

	out <- []byte("data: [DONE]\n\n")
}

func (e *Emitter) emitError(out chan<- []byte, ferr entity.FrameError) {
	// Terminal error envelope — the spec requires the stream to end
	// here rather than emit a finish_reason chunk (scenario 4).
	payload := map[string]interface{}{
		"error": map[string]interface{}{
			"message": ferr.Message,
			"status":  ferr.Status,
			"type":    classifyFrameError(ferr),
		},
	}
	b, _ := json.Marshal(payload)
	out <- []byte(fmt.Sprintf("data: %s\n\n", b))
}

func (e *Emitter) formatChunk(chunk streamChunk) []byte {
	b, err := json.Marshal(chunk)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", b))
}

func toToolCallDeltas(calls []entity.ToolCallFrame) []streamToolCallDelta {
	out := make([]streamToolCallDelta, 0, len(calls))
	for i, call := range calls {
		args, _ := json.Marshal(call.Params)
		out = append(out, streamToolCallDelta{
			Index: i,
			ID:    "call_" + uuid.NewString(),
			Type:  "function",
			Function: streamToolCallFunction{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

// suffixAfter returns new's suffix beyond old, per P6's delta
// contract: delta = new[len(old):]. If new does not extend old (the
// provider re-sent an overlapping-but-different buffer), the whole of
// new is treated as the delta rather than panicking on a negative
// slice.
func suffixAfter(old, new string) string {
	if len(new) <= len(old) {
		if new == old {
			return ""
		}
		return new
	}
	if new[:len(old)] != old {
		return new
	}
	return new[len(old):]
}

func heuristicUsage(frame entity.ParsedFrame) entity.Usage {
	completion := len(frame.Body) / 4
	return entity.Usage{
		PromptTokens:     0,
		CompletionTokens: completion,
		TotalTokens:      completion,
	}
}


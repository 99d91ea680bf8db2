package emitter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

func collectChunks(t *testing.T, out <-chan []byte, done <-chan struct{}) []string {
	t.Helper()
	var chunks []string
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b, ok := <-out:
			if !ok {
				return chunks
			}
			chunks = append(chunks, string(b))
		case <-done:
			// drain whatever is left buffered before returning.
			for {
				select {
				case b, ok := <-out:
					if !ok {
						return chunks
					}
					chunks = append(chunks, string(b))
				default:
					return chunks
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream to finish")
		}
	}
}

// === Stream: deltas ===

func TestStream_EmitsRoleThenContentDeltas(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-1", "gemini-pro", time.Minute, 0)
	disconnected := make(chan struct{})

	bus.Publish(entity.ParsedFrame{Body: "Hel"})
	bus.Publish(entity.ParsedFrame{Body: "Hello"})
	bus.Publish(entity.ParsedFrame{Body: "Hello world", Done: true})

	out, done := e.Stream(bus, disconnected)
	chunks := collectChunks(t, out, done)

	if len(chunks) < 4 {
		t.Fatalf("expected at least role + 2 deltas + finish, got %d: %v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], `"role":"assistant"`) {
		t.Fatalf("first chunk should carry the role delta, got %s", chunks[0])
	}
	if !strings.Contains(chunks[len(chunks)-1], "[DONE]") {
		t.Fatalf("last chunk should be the DONE sentinel, got %s", chunks[len(chunks)-1])
	}

	joined := strings.Join(chunks, "")
	if !strings.Contains(joined, `"content":"Hel"`) {
		t.Fatalf("expected first content delta 'Hel', got %s", joined)
	}
	if !strings.Contains(joined, `"content":" world"`) {
		t.Fatalf("expected suffix delta ' world', got %s", joined)
	}
	if !strings.Contains(joined, `"finish_reason":"stop"`) {
		t.Fatalf("expected a stop finish reason chunk, got %s", joined)
	}
}

func TestStream_ToolCallFinishEmitsToolCallsDelta(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-2", "gemini-pro", time.Minute, 0)

	bus.Publish(entity.ParsedFrame{
		Function: []entity.ToolCallFrame{{Name: "get_weather", Params: map[string]interface{}{"city": "nyc"}}},
		Done:     true,
	})

	out, done := e.Stream(bus, make(chan struct{}))
	chunks := collectChunks(t, out, done)
	joined := strings.Join(chunks, "")

	if !strings.Contains(joined, `"finish_reason":"tool_calls"`) {
		t.Fatalf("expected tool_calls finish reason, got %s", joined)
	}
	if !strings.Contains(joined, "get_weather") {
		t.Fatalf("expected tool call name in stream, got %s", joined)
	}
}

func TestStream_ErrorFrameTerminatesWithoutFinishReason(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-3", "gemini-pro", time.Minute, 0)

	bus.Publish(entity.ParsedFrame{Error: &entity.FrameError{Status: 429, Message: "quota exhausted"}})

	out, done := e.Stream(bus, make(chan struct{}))
	chunks := collectChunks(t, out, done)

	if len(chunks) != 2 {
		t.Fatalf("expected the role chunk followed by exactly one error payload chunk, got %d: %v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[1], string(domainerrors.KindQuotaExceeded)) {
		t.Fatalf("expected quota_exceeded classification, got %s", chunks[1])
	}
	if strings.Contains(chunks[1], "finish_reason") {
		t.Fatalf("error chunk must not carry a finish_reason: %s", chunks[1])
	}
}

func TestStream_DisconnectStopsEmissionSilently(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-4", "gemini-pro", time.Minute, 0)
	disconnected := make(chan struct{})
	close(disconnected)

	out, done := e.Stream(bus, disconnected)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stream to exit promptly on disconnect")
	}
	for range out {
		t.Fatal("expected no chunks after an immediate disconnect")
	}
}

func TestStream_InternalTimeoutSynthesizesDoneFrame(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-5", "gemini-pro", 20*time.Millisecond, 0)

	bus.Publish(entity.ParsedFrame{Body: "partial"})

	out, done := e.Stream(bus, make(chan struct{}))
	chunks := collectChunks(t, out, done)
	joined := strings.Join(chunks, "")

	if !strings.Contains(joined, "[DONE]") {
		t.Fatalf("expected the internal timeout path to still terminate with DONE, got %s", joined)
	}
}

// TestStream_IdleTimeoutFiresIndependentlyOfCompletionBudget covers
// spec §5's separate ~30s idle-read timeout: with a long completion
// budget but a short StreamIdleTimeout, the stream must still
// synthesize a done frame once the bus goes quiet, rather than waiting
// out the full completion budget.
func TestStream_IdleTimeoutFiresIndependentlyOfCompletionBudget(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-5b", "gemini-pro", time.Minute, 20*time.Millisecond)

	bus.Publish(entity.ParsedFrame{Body: "partial"})

	start := time.Now()
	out, done := e.Stream(bus, make(chan struct{}))
	chunks := collectChunks(t, out, done)
	elapsed := time.Since(start)
	joined := strings.Join(chunks, "")

	if !strings.Contains(joined, "[DONE]") {
		t.Fatalf("expected the idle timeout path to still terminate with DONE, got %s", joined)
	}
	if elapsed >= time.Minute {
		t.Fatalf("expected the idle timeout (20ms) to fire well before the completion budget (1m), took %s", elapsed)
	}
}

// TestStream_FramesResetIdleTimeoutWithoutTrippingCompletionBudget
// covers the other half of the two-timer model: frames arriving faster
// than the idle window must not be mistaken for the idle timeout, and
// must not be capped by a resetting completion timer either (the
// completion budget is a fixed, non-resetting deadline).
func TestStream_FramesResetIdleTimeoutWithoutTrippingCompletionBudget(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-5c", "gemini-pro", time.Minute, 80*time.Millisecond)

	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(20 * time.Millisecond)
			bus.Publish(entity.ParsedFrame{Body: strings.Repeat("x", i+1)})
		}
		bus.Publish(entity.ParsedFrame{Body: "xxxxx", Done: true})
	}()

	out, done := e.Stream(bus, make(chan struct{}))
	chunks := collectChunks(t, out, done)
	joined := strings.Join(chunks, "")

	if !strings.Contains(joined, `"finish_reason":"stop"`) {
		t.Fatalf("expected a clean stop (not an internal_timeout) since frames kept the idle timer fed, got %s", joined)
	}
}

// === DrainToJSON ===

func TestDrainToJSON_AssemblesFinalTextMessage(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-6", "gemini-pro", time.Minute, 0)

	bus.Publish(entity.ParsedFrame{Body: "partial"})
	bus.Publish(entity.ParsedFrame{Body: "partial answer", Done: true})

	resp, err := e.DrainToJSON(bus, make(chan struct{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content == nil || *resp.Choices[0].Message.Content != "partial answer" {
		t.Fatalf("expected final content 'partial answer', got %+v", resp.Choices[0].Message)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected stop finish reason, got %s", resp.Choices[0].FinishReason)
	}
}

func TestDrainToJSON_ToolCallProducesNullContent(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-7", "gemini-pro", time.Minute, 0)

	bus.Publish(entity.ParsedFrame{
		Function: []entity.ToolCallFrame{{Name: "lookup", Params: map[string]interface{}{"id": 1.0}}},
		Done:     true,
	})

	resp, err := e.DrainToJSON(bus, make(chan struct{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content != nil {
		t.Fatalf("expected nil content on a tool-call response, got %v", *resp.Choices[0].Message.Content)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 || resp.Choices[0].Message.ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("expected one tool call named lookup, got %+v", resp.Choices[0].Message.ToolCalls)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %s", resp.Choices[0].FinishReason)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.ToolCalls[0].Function.Arguments), &decoded); err != nil {
		t.Fatalf("tool call arguments must be valid JSON: %v", err)
	}
}

func TestDrainToJSON_QuotaErrorClassifiesCorrectly(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-8", "gemini-pro", time.Minute, 0)

	bus.Publish(entity.ParsedFrame{Error: &entity.FrameError{Status: 429, Message: "rate limited"}})

	_, err := e.DrainToJSON(bus, make(chan struct{}))
	if !domainerrors.Is(err, domainerrors.KindQuotaExceeded) {
		t.Fatalf("expected quota_exceeded classification, got %v", err)
	}
}

// TestDrainToJSON_QuotaMessageWithoutStatusClassifiesCorrectly covers
// the non-429-status branch of spec §4.5's "Error mapping" (status=429
// *or* a message containing "quota"), which the classifier shares with
// the streaming path's emitError.
func TestDrainToJSON_QuotaMessageWithoutStatusClassifiesCorrectly(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-8b", "gemini-pro", time.Minute, 0)

	bus.Publish(entity.ParsedFrame{Error: &entity.FrameError{Status: 503, Message: "quota exceeded for this project"}})

	_, err := e.DrainToJSON(bus, make(chan struct{}))
	if !domainerrors.Is(err, domainerrors.KindQuotaExceeded) {
		t.Fatalf("expected quota_exceeded classification for non-429 quota message, got %v", err)
	}
}

func TestDrainToJSON_DisconnectReturnsClientDisconnected(t *testing.T) {
	bus := service.NewStreamBus(8)
	e := New("req-9", "gemini-pro", time.Minute, 0)
	disconnected := make(chan struct{})
	close(disconnected)

	_, err := e.DrainToJSON(bus, disconnected)
	if !domainerrors.Is(err, domainerrors.KindClientDisconnected) {
		t.Fatalf("expected client_disconnected classification, got %v", err)
	}
}

func TestAssembleFromText_BuildsStopResponse(t *testing.T) {
	e := New("req-10", "gemini-pro", time.Minute, 0)
	resp := e.AssembleFromText("scraped answer")

	if resp.Choices[0].Message.Content == nil || *resp.Choices[0].Message.Content != "scraped answer" {
		t.Fatalf("expected scraped content, got %+v", resp.Choices[0].Message)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected stop finish reason, got %s", resp.Choices[0].FinishReason)
	}
}

// === suffixAfter ===

func TestSuffixAfter(t *testing.T) {
	cases := []struct{ old, new, want string }{
		{"", "abc", "abc"},
		{"ab", "abc", "c"},
		{"abc", "abc", ""},
		{"abc", "xyz", "xyz"}, // non-extending rewrite: whole string treated as delta
	}
	for _, c := range cases {
		if got := suffixAfter(c.old, c.new); got != c.want {
			t.Errorf("suffixAfter(%q, %q) = %q, want %q", c.old, c.new, got, c.want)
		}
	}
}

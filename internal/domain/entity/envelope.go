// Package entity holds the request-lifecycle aggregates: the envelope
// created at HTTP ingress, the per-pipeline-pass context, and the
// parser's output frame.
package entity

import (
	"sync"
	"time"

	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
)

// ChatCompletionRequest is the decoded body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string                         `json:"model"`
	Messages    []valueobject.ChatMessage      `json:"messages"`
	Stream      bool                           `json:"stream"`
	Temperature *float64                       `json:"temperature,omitempty"`
	MaxTokens   *int                           `json:"max_output_tokens,omitempty"`
	TopP        *float64                       `json:"top_p,omitempty"`
	Stop        []string                       `json:"stop,omitempty"`
	Tools       []valueobject.ToolDefinition   `json:"tools,omitempty"`
	ToolChoice  interface{}                    `json:"tool_choice,omitempty"`
	MCPEndpoint string                         `json:"mcp_endpoint,omitempty"`
	Attachments []string                       `json:"attachments,omitempty"`
	Files       []string                       `json:"files,omitempty"`
}

// Result is the terminal outcome a RequestEnvelope's future resolves to.
// Exactly one of Stream or JSON is set on success; Err is set on failure.
type Result struct {
	Stream *StreamingResult
	JSON   *ChatCompletionResponse
	Err    error
}

// StreamingResult hands the HTTP handler a channel of already-formatted
// SSE chunk payloads plus a way to know when the emitter is finished.
type StreamingResult struct {
	Chunks <-chan []byte
	Done   <-chan struct{}
}

// ChatCompletionResponse is the non-streaming JSON response shape.
type ChatCompletionResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []ChatCompletionChoice   `json:"choices"`
	Usage   Usage                    `json:"usage"`
}

// ChatCompletionChoice is the single choice slot this gateway ever emits.
type ChatCompletionChoice struct {
	Index        int                    `json:"index"`
	Message      ChatCompletionMessage  `json:"message"`
	FinishReason string                 `json:"finish_reason"`
}

// ChatCompletionMessage is the assistant turn returned in a non-streaming response.
type ChatCompletionMessage struct {
	Role      string                  `json:"role"`
	Content   *string                 `json:"content"`
	ToolCalls []valueobject.ToolCall  `json:"tool_calls,omitempty"`
}

// Usage carries heuristic token counts (Non-goal: accurate counting).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RequestEnvelope is one queued user request and its resolution
// machinery (spec §3). Created at HTTP ingress; req_id and enqueue_time
// are immutable afterward. Cancelled is mutated only through the queue
// (the worker's dead-client short-circuit, or Queue.Cancel for POST
// /v1/cancel). The future is
// resolved exactly once, either by the pipeline or by the queue worker's
// early-exit paths.
type RequestEnvelope struct {
	ReqID       string
	EnqueueTime time.Time
	Request     ChatCompletionRequest
	Liveness    LivenessHandle

	mu        sync.Mutex
	cancelled bool

	resultOnce sync.Once
	resultCh   chan Result
}

// LivenessHandle abstracts "is the originating HTTP connection still
// open" without coupling entity to net/http. The HTTP layer supplies a
// concrete implementation backed by the request's context and the
// underlying http.CloseNotifier/Context.Done channel.
type LivenessHandle interface {
	// Alive reports whether the client connection is still open.
	Alive() bool
	// Done returns a channel closed when the connection goes away.
	Done() <-chan struct{}
}

// NewRequestEnvelope constructs an envelope with an unresolved,
// single-shot result future.
func NewRequestEnvelope(reqID string, req ChatCompletionRequest, liveness LivenessHandle) *RequestEnvelope {
	return &RequestEnvelope{
		ReqID:       reqID,
		EnqueueTime: time.Now(),
		Request:     req,
		Liveness:    liveness,
		resultCh:    make(chan Result, 1),
	}
}

// Cancel marks the envelope cancelled. Safe to call more than once or
// concurrently with Cancelled.
func (e *RequestEnvelope) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// Cancelled reports whether Cancel has been called.
func (e *RequestEnvelope) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Resolve sets the envelope's result exactly once. Subsequent calls are
// no-ops, which lets multiple failure paths (disconnect monitor, queue
// worker cleanup, pipeline error handler) race to resolve without a
// panic on double-send (P2: eventually resolved exactly once).
func (e *RequestEnvelope) Resolve(r Result) {
	e.resultOnce.Do(func() {
		e.resultCh <- r
		close(e.resultCh)
	})
}

// Future returns the channel the HTTP handler awaits. It receives
// exactly one Result, or stays open until Resolve is called.
func (e *RequestEnvelope) Future() <-chan Result {
	return e.resultCh
}

// WaitTime returns how long the envelope has sat in the queue.
func (e *RequestEnvelope) WaitTime() time.Duration {
	return time.Since(e.EnqueueTime)
}

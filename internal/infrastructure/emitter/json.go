package emitter

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// DrainToJSON implements C5's non-streaming path (spec §4.5,
// "Non-streaming"): it drains bus until a done frame (or error, or
// disconnect, or internal timeout) and assembles the final response.
func (e *Emitter) DrainToJSON(bus *service.StreamBus, disconnected <-chan struct{}) (*entity.ChatCompletionResponse, error) {
	var final entity.ParsedFrame
	timeout := time.NewTimer(e.CompletionTimeout)
	defer timeout.Stop()

	for {
		select {
		case frame, ok := <-bus.Frames():
			if !ok {
				return e.assemble(final), nil
			}
			if frame.Error != nil {
				return nil, frameErrorToGatewayError(*frame.Error)
			}
			final = frame
			if frame.Done {
				return e.assemble(final), nil
			}

		case <-disconnected:
			return nil, domainerrors.ClientDisconnected("harvest")

		case <-timeout.C:
			return nil, domainerrors.GatewayTimeout("harvest", "no done frame within internal timeout")
		}
	}
}

// AssembleFromText builds a non-streaming response from a single
// DOM-scraped text blob (spec §4.7 step 8, "DOM-scrape mode").
func (e *Emitter) AssembleFromText(text string) *entity.ChatCompletionResponse {
	return e.assemble(entity.ParsedFrame{Body: text, Done: true})
}

func (e *Emitter) assemble(frame entity.ParsedFrame) *entity.ChatCompletionResponse {
	finishReason := "stop"
	var content *string
	var toolCalls []valueobject.ToolCall

	if len(frame.Function) > 0 {
		finishReason = "tool_calls"
		toolCalls = toValueObjectToolCalls(frame.Function)
	} else {
		body := frame.Body
		content = &body
	}

	msg := entity.ChatCompletionMessage{
		Role:      "assistant",
		Content:   content,
		ToolCalls: toolCalls,
	}

	usage := heuristicUsage(frame)
	return &entity.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   e.Model,
		Choices: []entity.ChatCompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
}

func toValueObjectToolCalls(calls []entity.ToolCallFrame) []valueobject.ToolCall {
	out := make([]valueobject.ToolCall, 0, len(calls))
	for _, c := range calls {
		args, _ := json.Marshal(c.Params)
		out = append(out, valueobject.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Type: "function",
			Function: valueobject.ToolCallFunc{
				Name:      c.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

// frameErrorToGatewayError classifies through the same rule emitError
// (sse.go) uses for the streaming path, so a non-429 response carrying
// a "quota" message in its body is mapped to QuotaExceeded regardless
// of which path (streaming or non-streaming) observed it.
func frameErrorToGatewayError(ferr entity.FrameError) error {
	if classifyFrameError(ferr) == string(domainerrors.KindQuotaExceeded) {
		return domainerrors.QuotaExceeded("harvest", ferr.Message)
	}
	return domainerrors.UpstreamError("harvest", ferr.Message, nil)
}

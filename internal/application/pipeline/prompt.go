package pipeline

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
)

// buildCombinedPrompt assembles one prompt string from the conversation
// plus the tool catalogue and any tool-result turns inlined as text
// (spec §4.7 step 5: "Build a single combined prompt string ... plus
// any tool catalogue and tool-result inlining").
func buildCombinedPrompt(req entity.ChatCompletionRequest) string {
	var b strings.Builder

	if len(req.Tools) > 0 {
		b.WriteString("# Available tools\n")
		for _, t := range req.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Function.Name, t.Function.Description)
		}
		b.WriteString("\n")
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			fmt.Fprintf(&b, "[system]\n%s\n\n", msg.Content)
		case "tool":
			fmt.Fprintf(&b, "[tool result: %s]\n%s\n\n", msg.ToolCallID, msg.Content)
		case "assistant":
			content := msg.Content
			for _, tc := range msg.ToolCalls {
				content += fmt.Sprintf("\n(called %s with %s)", tc.Function.Name, tc.Function.Arguments)
			}
			fmt.Fprintf(&b, "[assistant]\n%s\n\n", content)
		default:
			fmt.Fprintf(&b, "[%s]\n%s\n\n", msg.Role, messageText(msg))
		}
	}

	return strings.TrimSpace(b.String())
}

// messageText flattens a possibly-multimodal message to its text
// parts; image/audio parts are handled separately by
// extractAttachments and are not inlined into the prompt body.
func messageText(msg valueobject.ChatMessage) string {
	if len(msg.Parts) == 0 {
		return msg.Content
	}
	var b strings.Builder
	for _, p := range msg.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// promptHasContent reports whether the built prompt carries any
// non-system user-visible text (B1/B2: empty or only-system messages
// are rejected before a UI interaction is ever attempted).
func promptHasContent(req entity.ChatCompletionRequest) (hasAny, hasNonSystem bool) {
	for _, msg := range req.Messages {
		text := strings.TrimSpace(messageText(msg))
		if text == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		hasAny = true
		if msg.Role != "system" {
			hasNonSystem = true
		}
	}
	return hasAny, hasNonSystem
}

// lastUserMessage returns the most recent user-role message, the only
// one attachments are extracted from (spec §4.7 step 5).
func lastUserMessage(req entity.ChatCompletionRequest) (valueobject.ChatMessage, bool) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i], true
		}
	}
	return valueobject.ChatMessage{}, false
}

// extractAttachments walks the most recent user message's multimodal
// parts plus the request's top-level attachments/files fields, keeping
// only data:, file://, or existing absolute paths; data: URLs are
// materialized into sandboxDir.
func extractAttachments(req entity.ChatCompletionRequest, sandboxDir string) ([]string, error) {
	var candidates []string

	if msg, ok := lastUserMessage(req); ok {
		for _, part := range msg.Parts {
			if part.Type == "image_url" && part.ImageURL != "" {
				candidates = append(candidates, part.ImageURL)
			}
		}
	}
	candidates = append(candidates, req.Attachments...)
	candidates = append(candidates, req.Files...)

	var out []string
	for _, c := range candidates {
		switch {
		case strings.HasPrefix(c, "data:"):
			path, err := materializeDataURL(c, sandboxDir)
			if err != nil {
				return nil, err
			}
			out = append(out, path)

		case strings.HasPrefix(c, "file://"):
			out = append(out, strings.TrimPrefix(c, "file://"))

		case filepath.IsAbs(c):
			if _, err := os.Stat(c); err == nil {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// materializeDataURL decodes a data: URL's base64 payload into a
// uniquely named file under sandboxDir, returning its path.
func materializeDataURL(dataURL, sandboxDir string) (string, error) {
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return "", fmt.Errorf("pipeline: malformed data URL, no comma separator")
	}
	header := dataURL[len("data:"):comma]
	payload := dataURL[comma+1:]

	ext := extensionForMIME(header)
	isBase64 := strings.Contains(header, ";base64")

	var raw []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("pipeline: decode data URL payload: %w", err)
		}
		raw = decoded
	} else {
		raw = []byte(payload)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(sandboxDir, name)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("pipeline: write sandbox attachment: %w", err)
	}
	return path, nil
}

func extensionForMIME(header string) string {
	mime := strings.SplitN(header, ";", 2)[0]
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

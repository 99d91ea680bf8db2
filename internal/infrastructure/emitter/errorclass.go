package emitter

import (
	"strings"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// classifyFrameError implements spec §4.5's "Error mapping" paragraph,
// which applies uniformly to both the Streaming and Non-streaming
// subsections: "An error frame with status=429 or a message containing
// 'quota' becomes a QuotaExceeded terminal error; other error frames
// become an upstream-error terminal." Both emitError (SSE) and
// frameErrorToGatewayError (JSON) classify through this one function so
// the two paths can't drift apart.
func classifyFrameError(ferr entity.FrameError) string {
	if isQuotaFrameError(ferr) {
		return string(domainerrors.KindQuotaExceeded)
	}
	return string(domainerrors.KindUpstreamError)
}

func isQuotaFrameError(ferr entity.FrameError) bool {
	return ferr.Status == 429 || strings.Contains(strings.ToLower(ferr.Message), "quota")
}

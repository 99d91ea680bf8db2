package http

import (
	"net/http"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
)

// requestLiveness adapts one gin request's underlying connection to
// entity.LivenessHandle, so the queue and disconnect monitor can probe
// "is the client still there" without importing net/http themselves
// (spec §4.4).
type requestLiveness struct {
	r *http.Request
}

func newRequestLiveness(r *http.Request) entity.LivenessHandle {
	return &requestLiveness{r: r}
}

// Alive reports whether the request's context is still live. gin
// cancels c.Request.Context() when the underlying connection closes,
// which is the same signal http.CloseNotifier used to provide.
func (l *requestLiveness) Alive() bool {
	select {
	case <-l.r.Context().Done():
		return false
	default:
		return true
	}
}

func (l *requestLiveness) Done() <-chan struct{} {
	return l.r.Context().Done()
}

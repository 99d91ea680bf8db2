package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/application"
	"github.com/aistudioproxy/gateway/internal/application/queue"
	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/infrastructure/catalogue"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// chatCompletions implements POST /v1/chat/completions (spec §6): parse
// the OpenAI-shaped body, enqueue an envelope behind a disconnect
// monitor, and relay whatever the queue worker resolves — SSE chunks
// for a streaming result, a single JSON body otherwise. The handler
// never talks to the browser session directly; C6/C7 own that.
func chatCompletions(app *application.AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entity.ChatCompletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeGatewayError(c, domainerrors.BadRequest("decode_body", err.Error()))
			return
		}
		if req.Model == "" {
			req.Model = app.Catalogue.DefaultSentinel()
		}

		liveness := newRequestLiveness(c.Request)
		env := entity.NewRequestEnvelope(uuid.NewString(), req, liveness)
		monitor := app.NewMonitor(liveness)
		monitor.Start()
		app.Queue.Enqueue(&queue.Item{Envelope: env, Monitor: monitor})

		select {
		case result := <-env.Future():
			writeResult(c, result)
		case <-c.Request.Context().Done():
			// Client is already gone; the queue's own dead-client scan
			// (spec §4.6 step 1) will resolve and discard this envelope.
		}
	}
}

// writeResult renders a resolved entity.Result onto the wire, per §6's
// SSE and JSON shapes.
func writeResult(c *gin.Context, result entity.Result) {
	if result.Err != nil {
		writeGatewayError(c, result.Err)
		return
	}
	if result.Stream != nil {
		streamSSE(c, result.Stream)
		return
	}
	c.JSON(http.StatusOK, result.JSON)
}

// streamSSE relays the emitter's pre-formatted chunk channel straight
// onto the response, flushing after every write so token deltas reach
// the client as they are produced (spec §4.5).
func streamSSE(c *gin.Context, stream *entity.StreamingResult) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	for {
		select {
		case chunk, ok := <-stream.Chunks:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(chunk); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-stream.Done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeGatewayError classifies err and writes the matching HTTP status
// and OpenAI-shaped error envelope (spec §7). ClientDisconnected is
// never meaningfully written (the client is gone) but the call is
// harmless — gin will just fail to flush.
func writeGatewayError(c *gin.Context, err error) {
	ge := domainerrors.Classify("http", err)
	c.JSON(ge.Kind.Status(), gin.H{
		"error": gin.H{
			"message": ge.Message,
			"type":    string(ge.Kind),
		},
	})
}

// listModels implements GET /v1/models.
func listModels(app *application.AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := app.Catalogue.Visible()
		if len(entries) == 0 {
			c.JSON(http.StatusOK, gin.H{
				"object": "list",
				"data": []gin.H{
					{"id": app.Catalogue.DefaultSentinel(), "object": "model"},
				},
			})
			return
		}
		data := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			data = append(data, gin.H{"id": e.ID, "object": "model"})
		}
		c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
	}
}

// modelCapabilities implements GET /api/model-capabilities[/{id}].
func modelCapabilities(app *application.AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			entries := app.Catalogue.List()
			out := make(gin.H, len(entries))
			for _, e := range entries {
				out[e.ID] = catalogue.CapabilitiesFor(e.ID)
			}
			c.JSON(http.StatusOK, out)
			return
		}
		c.JSON(http.StatusOK, catalogue.CapabilitiesFor(id))
	}
}

// cancelRequest implements POST /v1/cancel/{req_id}.
func cancelRequest(app *application.AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.Param("req_id")
		if !app.Queue.Cancel(reqID) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"message": "no such queued request", "type": "NOT_FOUND"},
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": reqID})
	}
}

// queueStatus implements GET /v1/queue.
func queueStatus(app *application.AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := app.Queue.Snapshot()
		items := make([]gin.H, 0, len(snap))
		for _, s := range snap {
			items = append(items, gin.H{
				"req_id":            s.ReqID,
				"wait_time_seconds": s.WaitTimeSeconds,
				"stream":            s.Stream,
				"cancelled":         s.Cancelled,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"queue_length":         len(snap),
			"is_processing_locked": app.ProcessingLocked(),
			"items":                items,
		})
	}
}

// health implements GET /health: 200 only once startup finished and
// the worker goroutine is still alive (spec §6).
func health(ready *readiness) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ready.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		if !ready.WorkerAlive() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "worker_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	}
}

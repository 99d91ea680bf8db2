// Package http is the gateway's external HTTP surface: an
// OpenAI-compatible chat-completions endpoint plus the operator-facing
// queue/health/capability routes (spec §6). Routing follows the
// teacher's gin-gonic/gin + zap logging-middleware pattern from
// internal/interfaces/http/server.go, generalized from the agent's
// REST surface to the gateway's.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/application"
	"github.com/aistudioproxy/gateway/internal/infrastructure/config"
)

// readiness is the shared flag set GET /health reads (spec §6: "200
// only when initialization is complete and the worker task is alive").
type readiness struct {
	ready      atomic.Bool
	workerDone <-chan struct{}
}

func newReadiness(workerDone <-chan struct{}) *readiness {
	return &readiness{workerDone: workerDone}
}

func (r *readiness) Ready() bool { return r.ready.Load() }

func (r *readiness) MarkReady() { r.ready.Store(true) }

func (r *readiness) WorkerAlive() bool {
	select {
	case <-r.workerDone:
		return false
	default:
		return true
	}
}

// Server wraps the configured *http.Server, matching the shape of the
// teacher's Server (Start/Stop against a context, graceful shutdown).
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	ready      *readiness
}

// NewServer builds the gin router and wires every route to app. workerDone
// is closed by the caller if the queue worker's goroutine ever exits, so
// /health can report it.
func NewServer(gwCfg config.GatewayConfig, authCfg config.AuthConfig, app *application.AppState, workerDone <-chan struct{}, logger *zap.Logger) *Server {
	if gwCfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(bearerAuth(authCfg))

	ready := newReadiness(workerDone)

	router.GET("/health", health(ready))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", chatCompletions(app))
		v1.GET("/models", listModels(app))
		v1.POST("/cancel/:req_id", cancelRequest(app))
		v1.GET("/queue", queueStatus(app))
	}

	router.GET("/api/model-capabilities", modelCapabilities(app))
	router.GET("/api/model-capabilities/:id", modelCapabilities(app))

	addr := fmt.Sprintf("%s:%d", gwCfg.Host, gwCfg.Port)
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		logger:     logger,
		ready:      ready,
	}
}

// MarkReady flips /health to 200. Both entrypoints call it right after
// Start.
func (s *Server) MarkReady() {
	s.ready.MarkReady()
}

// Start begins serving in the background. Matches the teacher's
// Start/Stop shape: non-blocking start, context-bound graceful stop.
func (s *Server) Start() {
	s.logger.Info("http: listening", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http: server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until the given context's deadline or 10 seconds, whichever is sooner.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http: stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

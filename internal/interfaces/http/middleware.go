package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/infrastructure/config"
)

// ginLogger mirrors the teacher's structured request-logging middleware,
// generalized from the agent HTTP surface to the gateway's routes.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// bearerAuth implements the optional bearer-token middleware (spec §6:
// "paths beginning with /v1/ ... require a valid token"). Excluded
// paths (e.g. /health) never require one, and the middleware is a
// no-op entirely when auth is disabled.
func bearerAuth(cfg config.AuthConfig) gin.HandlerFunc {
	excluded := make(map[string]struct{}, len(cfg.Excluded))
	for _, p := range cfg.Excluded {
		excluded[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		if _, ok := excluded[path]; ok {
			c.Next()
			return
		}
		if !strings.HasPrefix(path, "/v1/") {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || token != cfg.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "missing or invalid bearer token",
					"type":    "UNAUTHORIZED",
				},
			})
			return
		}
		c.Next()
	}
}

// Package httpapi wires the HTTP transport (Gin) to the websocket gateway
// and cross-cutting concerns: tracing, correlation IDs, structured
// logging, panic recovery, metrics, CORS, and handshake rate limiting.
//
// The public surface is deliberately small. Clients speak the event
// protocol over /ws; HTTP only carries the handshake plus the usual
// operational endpoints.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-chat-server/internal/config"
	"github.com/tbourn/go-chat-server/internal/http/middleware"
	"github.com/tbourn/go-chat-server/internal/ws"
)

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS
func RegisterRoutes(r *gin.Engine, gw *ws.Gateway, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())

	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": gw.Registry().Len(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	r.GET("/ws", limiter.Handler(), gw.Handle)
}

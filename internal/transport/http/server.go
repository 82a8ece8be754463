package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/config"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/transport"
)

// Deps are the shared components the admin server exposes.
type Deps struct {
	Registry *core.Registry
	Sessions *transport.Handler
	Gatherer prometheus.Gatherer
	// SessionContext bounds WebSocket sessions. It outlives individual
	// requests since upgraded connections are hijacked.
	SessionContext context.Context
}

// NewServer builds the admin HTTP server: health, presence listing, metrics
// and the WebSocket chat endpoint.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if deps.SessionContext == nil {
		deps.SessionContext = context.Background()
	}

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	users := NewUserHandlers(deps.Registry, logger)
	api := router.Group("/api")
	api.GET("/users", users.ListUsers)

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	ws := NewWSHandler(deps.SessionContext, deps.Sessions, cfg.MaxFrameSize, logger)
	router.GET("/ws", gin.WrapH(ws))

	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

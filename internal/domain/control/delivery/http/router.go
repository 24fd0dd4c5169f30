package http

import (
	"github.com/Conte777/tgvault/pkg/httputil"
	"github.com/fasthttp/router"
	"github.com/rs/zerolog"
)

// Router registers status and control routes
type Router struct {
	handler *Handler
	logger  zerolog.Logger
}

// NewRouter creates a new control router
func NewRouter(handler *Handler, logger zerolog.Logger) *Router {
	return &Router{
		handler: handler,
		logger:  logger,
	}
}

// RegisterRoutes registers control routes on the router
func (r *Router) RegisterRoutes(rt *router.Router) {
	rt.GET("/health", r.handler.Health)

	api := httputil.NewMiddlewareGroup(rt.Group("/api/v1")).
		Use(httputil.Recover(r.logger), httputil.RequestLogger(r.logger))

	api.GET("/status", r.handler.Status)
	api.POST("/channels/{id}/backfill", r.handler.StartBackfill)
	api.DELETE("/channels/{id}/backfill", r.handler.StopBackfill)
	api.POST("/channels/{id}/monitor", r.handler.StartMonitor)
	api.DELETE("/channels/{id}/monitor", r.handler.StopMonitor)
	api.POST("/users/{id}/enrich", r.handler.Enrich)
	api.POST("/accounts/{id}/reset", r.handler.ResetAccount)
}

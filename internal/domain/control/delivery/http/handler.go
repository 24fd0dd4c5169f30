package http

import (
	"context"
	"time"

	"github.com/Conte777/tgvault/internal/domain/control"
	"github.com/Conte777/tgvault/internal/domain/ingest"
	pkgerrors "github.com/Conte777/tgvault/pkg/errors"
	"github.com/Conte777/tgvault/pkg/httputil"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse represents the JSON response for health check
type HealthResponse struct {
	Status     HealthStatus        `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
	Components []control.Component `json:"components"`
}

// BackfillRequest is the optional body of POST /channels/{id}/backfill
type BackfillRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Reset bool       `json:"reset"`
}

// EnrichRequest is the optional body of POST /users/{id}/enrich
type EnrichRequest struct {
	AccountID int64 `json:"account_id"`
	ChannelID int64 `json:"channel_id"`
}

// Handler serves status and control requests
type Handler struct {
	service *control.Service
	mapper  *pkgerrors.Mapper
	logger  zerolog.Logger
}

// NewHandler creates the control handler
func NewHandler(service *control.Service, logger zerolog.Logger) *Handler {
	logger = logger.With().Str("handler", "control").Logger()
	return &Handler{
		service: service,
		mapper:  pkgerrors.NewMapper(logger),
		logger:  logger,
	}
}

// Health handles GET /health
func (h *Handler) Health(ctx *fasthttp.RequestCtx) {
	components := h.service.Health()
	status := overallStatus(components)

	statusCode := fasthttp.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = fasthttp.StatusServiceUnavailable
	}

	logEvent := h.logger.Debug()
	if status == HealthStatusUnhealthy {
		logEvent = h.logger.Warn()
	}
	logEvent.
		Str("status", string(status)).
		Interface("components", components).
		Msg("Health check completed")

	httputil.WriteJSON(ctx, HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}, statusCode)
}

// Status handles GET /api/v1/status
func (h *Handler) Status(ctx *fasthttp.RequestCtx) {
	httputil.WriteResponse(ctx, h.service.Snapshot())
}

// StartBackfill handles POST /api/v1/channels/{id}/backfill
func (h *Handler) StartBackfill(ctx *fasthttp.RequestCtx) {
	channelID, err := httputil.PathInt64(ctx, "id")
	if err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	var req BackfillRequest
	if err := httputil.DecodeBody(ctx, &req); err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	opts := ingest.BackfillOptions{Since: req.Since, Reset: req.Reset}
	if err := h.service.StartBackfill(ctx, channelID, opts); err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponseWithStatus(ctx, map[string]any{"channel_id": channelID, "backfill": "started"}, fasthttp.StatusAccepted)
}

// StopBackfill handles DELETE /api/v1/channels/{id}/backfill
func (h *Handler) StopBackfill(ctx *fasthttp.RequestCtx) {
	h.channelAction(ctx, h.service.StopBackfill, "backfill", "stopped")
}

// StartMonitor handles POST /api/v1/channels/{id}/monitor
func (h *Handler) StartMonitor(ctx *fasthttp.RequestCtx) {
	h.channelAction(ctx, h.service.StartMonitor, "monitor", "started")
}

// StopMonitor handles DELETE /api/v1/channels/{id}/monitor
func (h *Handler) StopMonitor(ctx *fasthttp.RequestCtx) {
	h.channelAction(ctx, h.service.StopMonitor, "monitor", "stopped")
}

// Enrich handles POST /api/v1/users/{id}/enrich
func (h *Handler) Enrich(ctx *fasthttp.RequestCtx) {
	userID, err := httputil.PathInt64(ctx, "id")
	if err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	var req EnrichRequest
	if err := httputil.DecodeBody(ctx, &req); err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	if err := h.service.Enrich(userID, req.AccountID, req.ChannelID); err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponseWithStatus(ctx, map[string]any{"user_id": userID, "enrichment": "queued"}, fasthttp.StatusAccepted)
}

// ResetAccount handles POST /api/v1/accounts/{id}/reset
func (h *Handler) ResetAccount(ctx *fasthttp.RequestCtx) {
	accountID, err := httputil.PathInt64(ctx, "id")
	if err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	if err := h.service.ResetAccount(ctx, accountID); err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]any{"account_id": accountID, "session": "active"})
}

func (h *Handler) channelAction(
	ctx *fasthttp.RequestCtx,
	action func(ctx context.Context, channelID int64) error,
	target, result string,
) {
	channelID, err := httputil.PathInt64(ctx, "id")
	if err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}

	if err := action(ctx, channelID); err != nil {
		httputil.WriteMappedError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]any{"channel_id": channelID, target: result})
}

func overallStatus(components []control.Component) HealthStatus {
	allHealthy := true
	anyHealthy := false

	for _, component := range components {
		if !component.Healthy {
			allHealthy = false
		} else {
			anyHealthy = true
		}
	}

	if allHealthy {
		return HealthStatusHealthy
	} else if anyHealthy {
		return HealthStatusDegraded
	}
	return HealthStatusUnhealthy
}

package http

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/control"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/ingest"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/recovery"
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/domain/scheduler"
	"github.com/Conte777/tgvault/pkg/httputil"
	"github.com/fasthttp/router"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type stubPipeline struct {
	backfillErr error
	backfills   map[int64]ingest.BackfillOptions
	monitors    map[int64]bool
	tasks       []enrichment.Task
	sessions    []recovery.SessionStatus
	resets      []int64
	sessionErr  error
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{
		backfills: make(map[int64]ingest.BackfillOptions),
		monitors:  make(map[int64]bool),
	}
}

func (s *stubPipeline) StartBackfill(ctx context.Context, channelID int64, opts ingest.BackfillOptions) error {
	if s.backfillErr != nil {
		return s.backfillErr
	}
	s.backfills[channelID] = opts
	return nil
}

func (s *stubPipeline) StopBackfill(ctx context.Context, channelID int64) error {
	if _, ok := s.backfills[channelID]; !ok {
		return domain.ErrBackfillNotRunning
	}
	delete(s.backfills, channelID)
	return nil
}

func (s *stubPipeline) StartMonitor(ctx context.Context, channelID int64) error {
	s.monitors[channelID] = true
	return nil
}

func (s *stubPipeline) StopMonitor(ctx context.Context, channelID int64) error {
	delete(s.monitors, channelID)
	return nil
}

func (s *stubPipeline) Status() ingest.Status { return ingest.Status{} }

func (s *stubPipeline) Queue(task enrichment.Task) error {
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *stubPipeline) Statuses() []recovery.SessionStatus { return s.sessions }

func (s *stubPipeline) ResetAccount(accountID int64) {
	s.resets = append(s.resets, accountID)
}

func (s *stubPipeline) EnsureSessionActive(ctx context.Context, accountID int64) (domain.Client, error) {
	return nil, s.sessionErr
}

type idle struct{}

func (idle) Stats() []balancer.AccountStats { return nil }
func (idle) Status() scheduler.Status       { return scheduler.Status{} }

type idleResolver struct{}

func (idleResolver) Stats() resolver.Stats { return resolver.Stats{} }

type idleMedia struct{}

func (idleMedia) Status() media.Status { return media.Status{} }

type runningQueue struct{ *stubPipeline }

func (q runningQueue) Status() enrichment.Status { return enrichment.Status{Running: true} }

func newTestRouter(t *testing.T, p *stubPipeline) *router.Router {
	t.Helper()
	svc := control.NewService(control.Config{
		Ingestion:  p,
		Enrichment: runningQueue{p},
		Sessions:   p,
		Balancer:   idle{},
		Resolver:   idleResolver{},
		Scheduler:  idle{},
		Media:      idleMedia{},
	}, zerolog.Nop())

	r := router.New()
	NewRouter(NewHandler(svc, zerolog.Nop()), zerolog.Nop()).RegisterRoutes(r)
	return r
}

func serve(r *router.Router, method, uri, body string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if body != "" {
		ctx.Request.SetBodyString(body)
	}
	r.Handler(ctx)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	return resp
}

func TestHandler_Backfill(t *testing.T) {
	p := newStubPipeline()
	r := newTestRouter(t, p)

	ctx := serve(r, fasthttp.MethodPost, "/api/v1/channels/-1001/backfill", `{"reset":true,"since":"2024-01-02T00:00:00Z"}`)
	assert.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())
	require.Contains(t, p.backfills, int64(-1001))
	assert.True(t, p.backfills[-1001].Reset)
	require.NotNil(t, p.backfills[-1001].Since)
	assert.Equal(t, 2024, p.backfills[-1001].Since.Year())

	ctx = serve(r, fasthttp.MethodDelete, "/api/v1/channels/-1001/backfill", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = serve(r, fasthttp.MethodDelete, "/api/v1/channels/-1001/backfill", "")
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())
	assert.False(t, decode(t, ctx).Success)
}

func TestHandler_BackfillErrors(t *testing.T) {
	p := newStubPipeline()
	r := newTestRouter(t, p)

	ctx := serve(r, fasthttp.MethodPost, "/api/v1/channels/abc/backfill", "")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = serve(r, fasthttp.MethodPost, "/api/v1/channels/5/backfill", "{")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	p.backfillErr = domain.ErrChannelNotFound
	ctx = serve(r, fasthttp.MethodPost, "/api/v1/channels/5/backfill", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Equal(t, "channel 5 not found", decode(t, ctx).Error)
}

func TestHandler_Monitor(t *testing.T) {
	p := newStubPipeline()
	r := newTestRouter(t, p)

	ctx := serve(r, fasthttp.MethodPost, "/api/v1/channels/77/monitor", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, p.monitors[77])

	ctx = serve(r, fasthttp.MethodDelete, "/api/v1/channels/77/monitor", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.False(t, p.monitors[77])
}

func TestHandler_Enrich(t *testing.T) {
	p := newStubPipeline()
	r := newTestRouter(t, p)

	ctx := serve(r, fasthttp.MethodPost, "/api/v1/users/42/enrich", `{"account_id":3}`)
	assert.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())
	require.Len(t, p.tasks, 1)
	assert.Equal(t, int64(3), p.tasks[0].AccountID)
	assert.Equal(t, control.ManualSource, p.tasks[0].Source)

	ctx = serve(r, fasthttp.MethodPost, "/api/v1/users/0/enrich", "")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestHandler_ResetAccount(t *testing.T) {
	p := newStubPipeline()
	r := newTestRouter(t, p)

	ctx := serve(r, fasthttp.MethodPost, "/api/v1/accounts/4/reset", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, []int64{4}, p.resets)

	p.sessionErr = domain.ErrUnauthorized
	ctx = serve(r, fasthttp.MethodPost, "/api/v1/accounts/4/reset", "")
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())
	assert.Equal(t, "account 4 requires login", decode(t, ctx).Error)

	ctx = serve(r, fasthttp.MethodPost, "/api/v1/accounts/x/reset", "")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestHandler_StatusAndHealth(t *testing.T) {
	p := newStubPipeline()
	r := newTestRouter(t, p)

	ctx := serve(r, fasthttp.MethodGet, "/api/v1/status", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	resp := decode(t, ctx)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Data, "enrichment")

	ctx = serve(r, fasthttp.MethodGet, "/health", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var health HealthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &health))
	assert.Equal(t, HealthStatusDegraded, health.Status)

	p.sessions = []recovery.SessionStatus{{AccountID: 1, Health: recovery.HealthHealthy}}
	ctx = serve(r, fasthttp.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &health))
	assert.Equal(t, HealthStatusHealthy, health.Status)
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, HealthStatusHealthy, overallStatus([]control.Component{{Healthy: true}}))
	assert.Equal(t, HealthStatusDegraded, overallStatus([]control.Component{{Healthy: true}, {Healthy: false}}))
	assert.Equal(t, HealthStatusUnhealthy, overallStatus([]control.Component{{Healthy: false}}))
}

package ingest

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/detection"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/recovery"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/infrastructure/cache"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/Conte777/tgvault/internal/repository/postgres"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the ingestion orchestrator
var Module = fx.Module("ingest",
	fx.Provide(NewServiceFx),
	fx.Invoke(registerLifecycle),
)

// ServiceParams are the fx inputs of the orchestrator
type ServiceParams struct {
	fx.In

	Channels    *postgres.ChannelRepository
	Writer      *upsert.Resolver
	Balancer    *balancer.Balancer
	Recovery    *recovery.Manager
	Enrichment  *enrichment.Queue
	Media       *media.Downloader
	Detection   *detection.Service
	Checkpoints *cache.MessageIDCache
	Publisher   events.Publisher
	Config      *config.BackfillConfig
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewServiceFx binds the concrete collaborators to the orchestrator
func NewServiceFx(p ServiceParams) *Service {
	return NewService(Deps{
		Channels:    p.Channels,
		Writer:      p.Writer,
		Clients:     p.Balancer,
		Recovery:    p.Recovery,
		Enrichment:  p.Enrichment,
		Media:       p.Media,
		Scanner:     p.Detection,
		Checkpoints: p.Checkpoints,
		Publisher:   p.Publisher,
	}, p.Config, p.Metrics, p.Logger)
}

func registerLifecycle(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Restore(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
}

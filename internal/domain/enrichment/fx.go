package enrichment

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the enrichment operation and its worker queue
var Module = fx.Module("enrichment",
	fx.Provide(
		NewServiceFx,
		NewQueueFx,
	),
	fx.Invoke(registerLifecycle),
)

// NewServiceFx wires the service to the balancer, resolver and conflict resolver
func NewServiceFx(
	b *balancer.Balancer,
	r *resolver.Resolver,
	users *upsert.Resolver,
	publisher events.Publisher,
	cfg *config.EnrichmentConfig,
	mediaCfg *config.MediaConfig,
	logger zerolog.Logger,
) *Service {
	return NewService(b, r, users, publisher, cfg, mediaCfg, logger)
}

// NewQueueFx creates the queue over the service
func NewQueueFx(s *Service, cfg *config.EnrichmentConfig, m *metrics.Metrics, logger zerolog.Logger) *Queue {
	return NewQueue(s, cfg, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, q *Queue) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			q.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			q.Stop()
			return nil
		},
	})
}

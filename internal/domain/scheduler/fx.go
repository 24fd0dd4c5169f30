package scheduler

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/Conte777/tgvault/internal/repository/postgres"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the passive enrichment scheduler
var Module = fx.Module("scheduler",
	fx.Provide(NewPassiveFx),
	fx.Invoke(registerLifecycle),
)

// NewPassiveFx wires the scheduler to the user repository, balancer and queue
func NewPassiveFx(
	users *postgres.UserRepository,
	b *balancer.Balancer,
	q *enrichment.Queue,
	cfg *config.SchedulerConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Passive {
	return New(users, b, q, cfg, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, p *Passive, cfg *config.SchedulerConfig, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Enabled {
				logger.Info().Msg("Passive enrichment disabled")
				return nil
			}
			return p.Start()
		},
		OnStop: func(ctx context.Context) error {
			return p.Stop()
		},
	})
}

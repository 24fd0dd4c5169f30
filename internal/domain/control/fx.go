package control

import (
	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/ingest"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/recovery"
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/domain/scheduler"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the control service. Its HTTP delivery is registered by the app.
var Module = fx.Module("control",
	fx.Provide(NewServiceFx),
)

// ServiceParams are the fx inputs of the control service
type ServiceParams struct {
	fx.In

	Ingestion  *ingest.Service
	Enrichment *enrichment.Queue
	Recovery   *recovery.Manager
	Balancer   *balancer.Balancer
	Resolver   *resolver.Resolver
	Scheduler  *scheduler.Passive
	Media      *media.Downloader
	Config     *config.SchedulerConfig
	Logger     zerolog.Logger
}

// NewServiceFx binds the pipeline components to the control service
func NewServiceFx(p ServiceParams) *Service {
	return NewService(Config{
		Ingestion:        p.Ingestion,
		Enrichment:       p.Enrichment,
		Sessions:         p.Recovery,
		Balancer:         p.Balancer,
		Resolver:         p.Resolver,
		Scheduler:        p.Scheduler,
		Media:            p.Media,
		SchedulerEnabled: p.Config.Enabled,
	}, p.Logger)
}

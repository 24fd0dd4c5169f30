package app

import (
	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/control"
	controldelivery "github.com/Conte777/tgvault/internal/domain/control/delivery"
	"github.com/Conte777/tgvault/internal/domain/detection"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/domain/ingest"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/recovery"
	"github.com/Conte777/tgvault/internal/domain/registry"
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/domain/scheduler"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/domain/validation"
	"github.com/Conte777/tgvault/internal/infrastructure"
	"github.com/Conte777/tgvault/internal/infrastructure/logger"
	"github.com/Conte777/tgvault/internal/repository/postgres"
	"go.uber.org/fx"
)

// CreateApp creates the fx application options
func CreateApp() fx.Option {
	return fx.Options(
		fx.Provide(config.Out),
		fx.WithLogger(logger.NewFxLogger),
		infrastructure.Module,
		postgres.Module,
		events.Module,
		// Start order follows the invoke order: schema checks, sessions, workers, ingestion
		validation.Module,
		upsert.Module,
		registry.Module,
		recovery.Module,
		balancer.Module,
		resolver.Module,
		enrichment.Module,
		detection.Module,
		media.Module,
		ingest.Module, // Must be after recovery.Module (restoring monitors needs connected accounts)
		scheduler.Module,
		control.Module,
		controldelivery.Module,
	)
}

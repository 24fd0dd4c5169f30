package infrastructure

import (
	"github.com/Conte777/tgvault/internal/infrastructure/cache"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	httpfx "github.com/Conte777/tgvault/internal/infrastructure/http"
	"github.com/Conte777/tgvault/internal/infrastructure/kafka"
	"github.com/Conte777/tgvault/internal/infrastructure/logger"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/Conte777/tgvault/internal/infrastructure/redis"
	"github.com/Conte777/tgvault/internal/infrastructure/s3"
	"github.com/Conte777/tgvault/internal/infrastructure/telegram"
	"go.uber.org/fx"
)

// Module aggregates all infrastructure modules
var Module = fx.Module("infrastructure",
	logger.Module,
	metrics.Module,
	database.Module, // Must be before telegram (telegram depends on *gorm.DB)
	telegram.Module,
	kafka.Module,
	redis.Module,
	s3.Module,
	cache.Module,
	httpfx.Module,
)

package telegram

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/recovery/deps"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the MTProto connector for fx DI
var Module = fx.Module("telegram",
	fx.Provide(
		NewConnectorFx,
		func(c *Connector) deps.Connector { return c },
	),
)

// NewConnectorFx creates a connector that disconnects every account on stop
func NewConnectorFx(
	lc fx.Lifecycle,
	cfg *config.TelegramConfig,
	db *gorm.DB,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Connector {
	connector := NewConnector(db, cfg, m, logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			disconnected := connector.Shutdown(ctx)
			logger.Info().
				Int("disconnected", disconnected).
				Msg("Telegram accounts disconnected")
			return nil
		},
	})

	return connector
}

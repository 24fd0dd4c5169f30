package media

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the media download workers
var Module = fx.Module("media",
	fx.Provide(NewDownloaderFx),
	fx.Invoke(registerLifecycle),
)

// NewDownloaderFx wires the downloader to the balancer and conflict resolver
func NewDownloaderFx(
	b *balancer.Balancer,
	store *upsert.Resolver,
	objects domain.MediaStore,
	cfg *config.MediaConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Downloader {
	return NewDownloader(b, store, objects, cfg, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, d *Downloader) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Stop()
			return nil
		},
	})
}

package s3

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the optional media object store
var Module = fx.Module("s3",
	fx.Provide(NewMediaStoreFx),
)

// NewMediaStoreFx returns a nil store when S3 archiving is disabled
func NewMediaStoreFx(lc fx.Lifecycle, cfg *config.S3Config, logger zerolog.Logger) (domain.MediaStore, error) {
	if !cfg.Enabled {
		logger.Info().Msg("S3 media archiving disabled")
		return nil, nil
	}

	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("Initializing S3/MinIO client")
			return client.EnsureBucket(ctx)
		},
	})
	return client, nil
}

package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the channel checkpoint cache, warmed before ingestion starts
var Module = fx.Module("cache",
	fx.Provide(NewMessageIDCache),
	fx.Invoke(warmCheckpoints),
)

func warmCheckpoints(lc fx.Lifecycle, checkpoints *MessageIDCache, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := checkpoints.LoadFromDB(ctx); err != nil {
				return fmt.Errorf("failed to warm channel checkpoints: %w", err)
			}
			logger.Info().Int("channels", checkpoints.Len()).Msg("Channel checkpoints warmed")
			return nil
		},
	})
}

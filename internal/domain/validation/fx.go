package validation

import (
	"context"

	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the validator and runs the schema check on start
var Module = fx.Module("validation",
	fx.Provide(
		New,
		func(v *Validator) upsert.Prechecker { return v },
	),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, v *Validator, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info().Msg("Ensuring unique constraints")
			return v.EnsureConstraints(ctx)
		},
	})
}

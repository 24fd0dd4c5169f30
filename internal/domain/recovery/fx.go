package recovery

import (
	"context"

	"github.com/Conte777/tgvault/internal/domain/recovery/repository/postgres"
	"go.uber.org/fx"
)

// Module provides the recovery manager and its account repository
var Module = fx.Module("recovery",
	fx.Provide(
		postgres.NewRepository,
		NewManager,
	),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := m.InitializeAccounts(ctx); err != nil {
				return err
			}
			m.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			m.Stop(ctx)
			return nil
		},
	})
}

package database

import (
	"context"
	"fmt"

	"github.com/Conte777/tgvault/config"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the migrated vault database and its session manager
var Module = fx.Module("database",
	fx.Provide(
		NewPostgresDBFx,
		NewSessionManager,
	),
)

// NewPostgresDBFx opens the vault database and applies pending migrations.
// A failed migration aborts startup since every writer relies on the unique keys.
func NewPostgresDBFx(
	lc fx.Lifecycle,
	cfg *config.DatabaseConfig,
	logger zerolog.Logger,
) (*gorm.DB, error) {
	logger = logger.With().Str("component", "database").Logger()

	db, err := NewPostgresDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db, cfg); err != nil {
		return nil, fmt.Errorf("failed to migrate vault schema: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("vault database unreachable: %w", err)
			}
			logger.Info().
				Str("host", cfg.Host).
				Str("database", cfg.DBName).
				Int("max_open_conns", cfg.MaxOpenConns).
				Msg("Vault database ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stats := sqlDB.Stats()
			logger.Info().Int("in_use", stats.InUse).Msg("Closing vault database")
			return sqlDB.Close()
		},
	})

	return db, nil
}

package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueIndex is a unique index the conflict resolver relies on
type UniqueIndex struct {
	Table   string
	Name    string
	Columns []string
}

// RequiredUniqueIndexes back every natural key used in ON CONFLICT clauses
var RequiredUniqueIndexes = []UniqueIndex{
	{Table: "users", Name: "idx_users_telegram_id", Columns: []string{"telegram_id"}},
	{Table: "monitored_channels", Name: "idx_monitored_channels_telegram_id", Columns: []string{"telegram_id"}},
	{Table: "messages", Name: "uq_messages_message_channel", Columns: []string{"message_id", "channel_id"}},
	{Table: "media_files", Name: "idx_media_files_message_id", Columns: []string{"message_id"}},
	{Table: "detections", Name: "uq_detections_message_kind_value", Columns: []string{"message_id", "kind", "value"}},
}

// EnsureConstraints creates any missing unique index. Safe to call repeatedly.
func (v *Validator) EnsureConstraints(ctx context.Context) error {
	migrator := v.db.WithContext(ctx).Migrator()

	for _, idx := range RequiredUniqueIndexes {
		if migrator.HasIndex(idx.Table, idx.Name) {
			continue
		}

		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.Name, idx.Table, strings.Join(idx.Columns, ", "),
		)
		if err := v.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("create unique index %s: %w", idx.Name, err)
		}

		v.logger.Info().
			Str("table", idx.Table).
			Str("index", idx.Name).
			Msg("Created missing unique index")
	}
	return nil
}

func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P07" || pgErr.Code == "42710"
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

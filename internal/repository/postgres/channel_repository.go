package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelRepository stores monitored channels and their ingestion checkpoints.
// Writes go through the session manager so transient failures are retried.
type ChannelRepository struct {
	sessions *database.SessionManager
}

// NewChannelRepository creates a new channel repository
func NewChannelRepository(sessions *database.SessionManager) *ChannelRepository {
	return &ChannelRepository{sessions: sessions}
}

func (r *ChannelRepository) db(ctx context.Context) *gorm.DB {
	return r.sessions.DB().WithContext(ctx)
}

// Create registers a channel, updating descriptive fields when it already exists
func (r *ChannelRepository) Create(ctx context.Context, ch *entities.MonitoredChannel) error {
	return r.sessions.Execute(ctx, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_hash", "username", "title", "type", "updated_at"}),
		}).Create(ch).Error
		if err != nil {
			return fmt.Errorf("failed to register channel: %w", err)
		}
		return tx.Where("telegram_id = ?", ch.TelegramID).First(ch).Error
	})
}

// GetByID retrieves a channel by row id
func (r *ChannelRepository) GetByID(ctx context.Context, id int64) (*entities.MonitoredChannel, error) {
	var ch entities.MonitoredChannel
	if err := r.db(ctx).First(&ch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", domain.ErrChannelNotFound, id)
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

// GetByTelegramID retrieves a channel by upstream id
func (r *ChannelRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*entities.MonitoredChannel, error) {
	var ch entities.MonitoredChannel
	if err := r.db(ctx).Where("telegram_id = ?", telegramID).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: telegram id %d", domain.ErrChannelNotFound, telegramID)
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

// ListMonitoring returns channels whose live listener should be attached
func (r *ChannelRepository) ListMonitoring(ctx context.Context) ([]entities.MonitoredChannel, error) {
	var channels []entities.MonitoredChannel
	err := r.db(ctx).
		Where("is_monitoring = ?", true).
		Order("id").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored channels: %w", err)
	}
	return channels, nil
}

// LastMessageIDs returns the newest stored message id of every channel keyed by row id
func (r *ChannelRepository) LastMessageIDs(ctx context.Context) (map[int64]int64, error) {
	var rows []struct {
		ID            int64
		LastMessageID int64
	}
	err := r.db(ctx).
		Model(&entities.MonitoredChannel{}).
		Select("id, last_message_id").
		Where("last_message_id > 0").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load last message ids: %w", err)
	}

	out := make(map[int64]int64, len(rows))
	for _, row := range rows {
		out[row.ID] = row.LastMessageID
	}
	return out, nil
}

// BeginBackfill flags the channel as backfilling
func (r *ChannelRepository) BeginBackfill(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]any{
		"backfill_in_progress": true,
		"status":               entities.ChannelStatusBackfilling,
		"last_error":           nil,
	})
}

// SaveCheckpoint persists the oldest processed message id and the running total
func (r *ChannelRepository) SaveCheckpoint(ctx context.Context, id, offsetID, processed int64) error {
	return r.update(ctx, id, map[string]any{
		"backfill_offset_id":     offsetID,
		"backfill_message_count": processed,
		"last_activity_at":       time.Now(),
	})
}

// FinishBackfill clears the in-progress flag. done marks the history as fully fetched.
func (r *ChannelRepository) FinishBackfill(ctx context.Context, id int64, done bool, cause error) error {
	updates := map[string]any{
		"backfill_in_progress": false,
		"status":               entities.ChannelStatusActive,
	}
	if done {
		updates["backfill_done"] = true
	}
	if cause != nil {
		updates["status"] = entities.ChannelStatusError
		updates["last_error"] = cause.Error()
	}
	return r.update(ctx, id, updates)
}

// ResetBackfill clears the checkpoint so the next backfill starts from the newest message
func (r *ChannelRepository) ResetBackfill(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]any{
		"backfill_offset_id":     0,
		"backfill_message_count": 0,
		"backfill_done":          false,
	})
}

// AdvanceLastMessageID moves the live checkpoint forward, never back
func (r *ChannelRepository) AdvanceLastMessageID(ctx context.Context, id, messageID int64) error {
	return r.sessions.Execute(ctx, func(tx *gorm.DB) error {
		return tx.Model(&entities.MonitoredChannel{}).
			Where("id = ? AND last_message_id < ?", id, messageID).
			Updates(map[string]any{
				"last_message_id":  messageID,
				"last_activity_at": time.Now(),
			}).Error
	})
}

// AddMessages increments the stored message counter
func (r *ChannelRepository) AddMessages(ctx context.Context, id, n int64) error {
	if n == 0 {
		return nil
	}
	return r.update(ctx, id, map[string]any{
		"message_count": gorm.Expr("message_count + ?", n),
	})
}

// AssignAccount pins the channel to an account
func (r *ChannelRepository) AssignAccount(ctx context.Context, id, accountID int64) error {
	return r.update(ctx, id, map[string]any{"account_id": accountID})
}

// SetMemberCount stores the last scraped member count
func (r *ChannelRepository) SetMemberCount(ctx context.Context, id int64, n int) error {
	return r.update(ctx, id, map[string]any{"member_count": n})
}

// SetMonitoring flips the monitoring flag in one transaction. It fails with
// domain.ErrAlreadyMonitoring or domain.ErrNotMonitoring when the flag already has that value.
func (r *ChannelRepository) SetMonitoring(ctx context.Context, id int64, monitoring bool) error {
	return r.sessions.WithSession(ctx, func(tx *gorm.DB) error {
		var ch entities.MonitoredChannel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ch, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", domain.ErrChannelNotFound, id)
			}
			return err
		}

		switch {
		case monitoring && ch.IsMonitoring:
			return domain.ErrAlreadyMonitoring
		case !monitoring && !ch.IsMonitoring:
			return domain.ErrNotMonitoring
		}

		status := entities.ChannelStatusActive
		if !monitoring && !ch.BackfillInProgress {
			status = entities.ChannelStatusPaused
		}
		return tx.Model(&entities.MonitoredChannel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"is_monitoring": monitoring,
				"status":        status,
			}).Error
	})
}

func (r *ChannelRepository) update(ctx context.Context, id int64, updates map[string]any) error {
	return r.sessions.Execute(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&entities.MonitoredChannel{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update channel %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", domain.ErrChannelNotFound, id)
		}
		return nil
	})
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/recovery/deps"
	"gorm.io/gorm"
)

// Repository implements deps.AccountRepository using PostgreSQL
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new PostgreSQL account repository
func NewRepository(db *gorm.DB) deps.AccountRepository {
	return &Repository{db: db}
}

// ListActive returns every active, non-backup account
func (r *Repository) ListActive(ctx context.Context) ([]entities.Account, error) {
	var accounts []entities.Account
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND is_backup = ?", true, false).
		Order("id").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	return accounts, nil
}

// ListBackups returns the active backup pool
func (r *Repository) ListBackups(ctx context.Context) ([]entities.Account, error) {
	var accounts []entities.Account
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND is_backup = ?", true, true).
		Order("id").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list backup accounts: %w", err)
	}
	return accounts, nil
}

// UpdateStatus stores the account status. A non-nil lastErr bumps the error counter.
func (r *Repository) UpdateStatus(ctx context.Context, accountID int64, status string, lastErr error) error {
	now := time.Now()
	updates := map[string]any{
		"status":           status,
		"last_activity_at": now,
	}
	if status == entities.AccountStatusConnected {
		updates["last_connected_at"] = now
	}
	if lastErr != nil {
		msg := lastErr.Error()
		updates["last_error"] = msg
		updates["error_count"] = gorm.Expr("error_count + 1")
	}

	result := r.db.WithContext(ctx).
		Model(&entities.Account{}).
		Where("id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update account status: %w", result.Error)
	}
	return nil
}

// RecordFloodWait bumps the flood wait counter
func (r *Repository) RecordFloodWait(ctx context.Context, accountID int64) error {
	return r.db.WithContext(ctx).
		Model(&entities.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"status":           entities.AccountStatusFloodWait,
			"flood_wait_count": gorm.Expr("flood_wait_count + 1"),
			"last_activity_at": time.Now(),
		}).Error
}

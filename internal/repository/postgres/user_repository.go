package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"gorm.io/gorm"
)

// UserRepository reads stored users for resolution hints and enrichment selection
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByTelegramID retrieves a user by upstream id
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*entities.User, error) {
	var user entities.User
	result := r.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&user)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", result.Error)
	}
	return &user, nil
}

// PeerHints returns the stored access hash, username and phone of a user
func (r *UserRepository) PeerHints(ctx context.Context, telegramID int64) (domain.PeerHints, error) {
	user, err := r.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return domain.PeerHints{}, err
	}

	hints := domain.PeerHints{Type: domain.PeerUser}
	if user.AccessHash != nil {
		hints.AccessHash = *user.AccessHash
	}
	if user.Username != nil {
		hints.Username = *user.Username
	}
	if user.Phone != nil {
		hints.Phone = *user.Phone
	}
	return hints, nil
}

// SelectForEnrichment picks up to limit users: first those never enriched and
// without a profile photo, then those whose last enrichment is older than staleBefore
func (r *UserRepository) SelectForEnrichment(ctx context.Context, limit int, staleBefore time.Time) ([]entities.User, error) {
	if limit <= 0 {
		return nil, nil
	}

	var fresh []entities.User
	err := r.db.WithContext(ctx).
		Where("current_photo_id IS NULL AND last_enriched_at IS NULL AND is_deleted = ?", false).
		Order("id").
		Limit(limit).
		Find(&fresh).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select unenriched users: %w", err)
	}
	if len(fresh) >= limit {
		return fresh, nil
	}

	query := r.db.WithContext(ctx).
		Where("(last_enriched_at IS NULL OR last_enriched_at < ?) AND is_deleted = ?", staleBefore, false)
	if len(fresh) > 0 {
		ids := make([]int64, len(fresh))
		for i, u := range fresh {
			ids[i] = u.ID
		}
		query = query.Where("id NOT IN ?", ids)
	}

	var stale []entities.User
	err = query.
		Order("last_enriched_at IS NOT NULL, last_enriched_at, id").
		Limit(limit - len(fresh)).
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select stale users: %w", err)
	}

	return append(fresh, stale...), nil
}

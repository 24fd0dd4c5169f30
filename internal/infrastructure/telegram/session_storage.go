package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/gotd/td/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStorage implements session.Storage over the sessions table, one row per account
type SessionStorage struct {
	db        *gorm.DB
	accountID int64
}

// NewSessionStorage creates the session storage of an account
func NewSessionStorage(db *gorm.DB, accountID int64) *SessionStorage {
	return &SessionStorage{db: db, accountID: accountID}
}

// LoadSession loads session data, session.ErrNotFound when the account never logged in
func (s *SessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	var sess entities.Session
	err := s.db.WithContext(ctx).Where("account_id = ?", s.accountID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if len(sess.SessionData) == 0 {
		return nil, session.ErrNotFound
	}
	return sess.SessionData, nil
}

// StoreSession inserts or replaces the session data
func (s *SessionStorage) StoreSession(ctx context.Context, data []byte) error {
	sess := entities.Session{AccountID: s.accountID, SessionData: data}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"session_data": data,
			"updated_at":   time.Now(),
		}),
	}).Create(&sess).Error
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// DeleteSession removes the session so the next connect reports the account unauthorized
func (s *SessionStorage) DeleteSession(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("account_id = ?", s.accountID).Delete(&entities.Session{}).Error
}

var _ session.Storage = (*SessionStorage)(nil)

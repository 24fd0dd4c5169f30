package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultEditableFields are the message columns an edit event may change
var DefaultEditableFields = []string{"text", "edit_date", "views", "forwards", "reactions"}

var editableMessageColumns = map[string]bool{
	"text":         true,
	"edit_date":    true,
	"views":        true,
	"forwards":     true,
	"reactions":    true,
	"is_pinned":    true,
	"has_media":    true,
	"message_type": true,
}

// Prechecker runs advisory checks over a batch before it is written
type Prechecker interface {
	PrecheckUsers(ctx context.Context, records []UserRecord)
	PrecheckMessages(ctx context.Context, records []MessageRecord)
}

// Failure is a record that could not be written
type Failure[R any] struct {
	Record R
	Err    error
}

// Written pairs an input record with the row stored for it
type Written[R any, T any] struct {
	Record R
	Stored T
}

// BatchResult reports partial success of a batch
type BatchResult[R any, T any] struct {
	Written    []Written[R, T]
	Failed     []Failure[R]
	Duplicates int
}

// Attempted is the number of records the batch tried to write
func (b BatchResult[R, T]) Attempted() int {
	return len(b.Written) + len(b.Failed) + b.Duplicates
}

// Resolver applies insert-or-update semantics against natural keys
type Resolver struct {
	sessions   *database.SessionManager
	precheck   Prechecker
	editFields []string
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewResolver creates a conflict resolver. precheck may be nil.
func NewResolver(
	sessions *database.SessionManager,
	precheck Prechecker,
	liveCfg *config.LiveConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Resolver, error) {
	fields := DefaultEditableFields
	if liveCfg != nil && len(liveCfg.EditableFields) > 0 {
		fields = liveCfg.EditableFields
	}
	for _, f := range fields {
		if !editableMessageColumns[f] {
			return nil, fmt.Errorf("message column %q is not editable", f)
		}
	}

	return &Resolver{
		sessions:   sessions,
		precheck:   precheck,
		editFields: append(append([]string{}, fields...), "updated_at"),
		metrics:    m,
		logger:     logger.With().Str("component", "conflict_resolver").Logger(),
		now:        time.Now,
	}, nil
}

// UpsertUser inserts the user or updates only the supplied fields
func (r *Resolver) UpsertUser(ctx context.Context, rec UserRecord) (*entities.User, error) {
	if rec.TelegramID <= 0 {
		return nil, fmt.Errorf("invalid telegram id %d", rec.TelegramID)
	}

	return database.Run(ctx, r.sessions, func(tx *gorm.DB) (*entities.User, error) {
		user, cols := rec.columns(r.now())
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).Create(&user).Error
		if err != nil {
			return nil, fmt.Errorf("upsert user %d: %w", rec.TelegramID, err)
		}

		var stored entities.User
		if err := tx.Where("telegram_id = ?", rec.TelegramID).First(&stored).Error; err != nil {
			return nil, fmt.Errorf("reload user %d: %w", rec.TelegramID, err)
		}
		return &stored, nil
	})
}

// UpsertUsers upserts every record independently
func (r *Resolver) UpsertUsers(ctx context.Context, records []UserRecord) BatchResult[UserRecord, *entities.User] {
	if r.precheck != nil && len(records) > 0 {
		r.precheck.PrecheckUsers(ctx, records)
	}

	var res BatchResult[UserRecord, *entities.User]
	for _, rec := range records {
		stored, err := r.UpsertUser(ctx, rec)
		if err != nil {
			r.logger.Error().Err(err).Int64("telegram_id", rec.TelegramID).Msg("User upsert failed")
			res.Failed = append(res.Failed, Failure[UserRecord]{Record: rec, Err: err})
			continue
		}
		res.Written = append(res.Written, Written[UserRecord, *entities.User]{Record: rec, Stored: stored})
	}

	r.metrics.RecordUpsert("user", "written", len(res.Written))
	r.metrics.RecordUpsert("user", "failed", len(res.Failed))
	return res
}

// InsertMessage stores a message unless its key already exists.
// duplicate is true when the insert became a no-op.
func (r *Resolver) InsertMessage(ctx context.Context, rec MessageRecord) (stored *entities.Message, duplicate bool, err error) {
	err = r.sessions.Execute(ctx, func(tx *gorm.DB) error {
		msg := rec.entity()
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "channel_id"}},
			DoNothing: true,
		}).Create(&msg)
		if result.Error != nil {
			return fmt.Errorf("insert message %d/%d: %w", rec.ChannelID, rec.MessageID, result.Error)
		}
		if result.RowsAffected == 0 {
			duplicate = true
			stored = nil
			return nil
		}

		duplicate = false
		stored = &msg
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, duplicate, nil
}

// InsertMessages inserts every record independently
func (r *Resolver) InsertMessages(ctx context.Context, records []MessageRecord) BatchResult[MessageRecord, *entities.Message] {
	if r.precheck != nil && len(records) > 0 {
		r.precheck.PrecheckMessages(ctx, records)
	}

	var res BatchResult[MessageRecord, *entities.Message]
	for _, rec := range records {
		stored, dup, err := r.InsertMessage(ctx, rec)
		switch {
		case err != nil:
			r.logger.Error().
				Err(err).
				Int64("channel_id", rec.ChannelID).
				Int64("message_id", rec.MessageID).
				Msg("Message insert failed")
			res.Failed = append(res.Failed, Failure[MessageRecord]{Record: rec, Err: err})
		case dup:
			res.Duplicates++
		default:
			res.Written = append(res.Written, Written[MessageRecord, *entities.Message]{Record: rec, Stored: stored})
		}
	}

	r.metrics.RecordUpsert("message", "written", len(res.Written))
	r.metrics.RecordUpsert("message", "duplicate", res.Duplicates)
	r.metrics.RecordUpsert("message", "failed", len(res.Failed))
	return res
}

// UpdateMessageEdit applies an edit event, changing only the editable columns
func (r *Resolver) UpdateMessageEdit(ctx context.Context, rec MessageRecord) (*entities.Message, error) {
	return database.Run(ctx, r.sessions, func(tx *gorm.DB) (*entities.Message, error) {
		msg := rec.entity()
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns(r.editFields),
		}).Create(&msg).Error
		if err != nil {
			return nil, fmt.Errorf("edit message %d/%d: %w", rec.ChannelID, rec.MessageID, err)
		}

		var stored entities.Message
		err = tx.Where("message_id = ? AND channel_id = ?", rec.MessageID, rec.ChannelID).First(&stored).Error
		if err != nil {
			return nil, fmt.Errorf("reload message %d/%d: %w", rec.ChannelID, rec.MessageID, err)
		}
		return &stored, nil
	})
}

// UpsertMedia inserts media metadata or updates the supplied fields
func (r *Resolver) UpsertMedia(ctx context.Context, rec MediaRecord) (*entities.MediaFile, error) {
	if rec.MessageID <= 0 {
		return nil, fmt.Errorf("invalid message row id %d", rec.MessageID)
	}

	return database.Run(ctx, r.sessions, func(tx *gorm.DB) (*entities.MediaFile, error) {
		media, cols := rec.columns(r.now())
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).Create(&media).Error
		if err != nil {
			return nil, fmt.Errorf("upsert media for message %d: %w", rec.MessageID, err)
		}

		var stored entities.MediaFile
		if err := tx.Where("message_id = ?", rec.MessageID).First(&stored).Error; err != nil {
			return nil, fmt.Errorf("reload media for message %d: %w", rec.MessageID, err)
		}
		return &stored, nil
	})
}

// RecordMediaAttempt bumps the download attempt counter and stores the outcome
func (r *Resolver) RecordMediaAttempt(ctx context.Context, messageID int64, status string, category *string) error {
	return r.sessions.Execute(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&entities.MediaFile{}).
			Where("message_id = ?", messageID).
			Updates(map[string]any{
				"download_attempts":   gorm.Expr("download_attempts + 1"),
				"download_status":     status,
				"last_error_category": category,
				"last_updated_at":     r.now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Activity is a per-user increment of activity counters
type Activity struct {
	Messages int64
	Media    int64
}

// IncrementUserActivity adds to the activity counters of stored users keyed by row id
func (r *Resolver) IncrementUserActivity(ctx context.Context, activity map[int64]Activity) error {
	var errs []error
	for userID, a := range activity {
		if a.Messages == 0 && a.Media == 0 {
			continue
		}
		err := r.sessions.Execute(ctx, func(tx *gorm.DB) error {
			return tx.Model(&entities.User{}).
				Where("id = ?", userID).
				Updates(map[string]any{
					"messages_count":  gorm.Expr("messages_count + ?", a.Messages),
					"media_count":     gorm.Expr("media_count + ?", a.Media),
					"last_updated_at": r.now(),
				}).Error
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

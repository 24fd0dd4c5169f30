package telegram

import (
	"context"
	"errors"

	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/gotd/td/telegram/updates"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdatesStateStorage persists the gap recovery state of every account so
// updates missed while offline are replayed after a reconnect or restart.
// It implements updates.StateStorage and updates.ChannelAccessHasher.
type UpdatesStateStorage struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewUpdatesStateStorage creates a new state storage
func NewUpdatesStateStorage(db *gorm.DB, logger zerolog.Logger) *UpdatesStateStorage {
	return &UpdatesStateStorage{
		db:     db,
		logger: logger.With().Str("component", "updates_state_storage").Logger(),
	}
}

// GetState retrieves the common state of a user
func (s *UpdatesStateStorage) GetState(ctx context.Context, userID int64) (updates.State, bool, error) {
	var state entities.UpdatesState
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return updates.State{}, false, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to get state")
		return updates.State{}, false, err
	}

	return updates.State{
		Pts:  state.Pts,
		Qts:  state.Qts,
		Date: state.Date,
		Seq:  state.Seq,
	}, true, nil
}

// SetState saves the complete common state
func (s *UpdatesStateStorage) SetState(ctx context.Context, userID int64, state updates.State) error {
	return s.upsert(ctx, entities.UpdatesState{
		UserID: userID,
		Pts:    state.Pts,
		Qts:    state.Qts,
		Date:   state.Date,
		Seq:    state.Seq,
	}, "pts", "qts", "date", "seq")
}

// SetPts updates only pts
func (s *UpdatesStateStorage) SetPts(ctx context.Context, userID int64, pts int) error {
	return s.upsert(ctx, entities.UpdatesState{UserID: userID, Pts: pts}, "pts")
}

// SetQts updates only qts
func (s *UpdatesStateStorage) SetQts(ctx context.Context, userID int64, qts int) error {
	return s.upsert(ctx, entities.UpdatesState{UserID: userID, Qts: qts}, "qts")
}

// SetDate updates only date
func (s *UpdatesStateStorage) SetDate(ctx context.Context, userID int64, date int) error {
	return s.upsert(ctx, entities.UpdatesState{UserID: userID, Date: date}, "date")
}

// SetSeq updates only seq
func (s *UpdatesStateStorage) SetSeq(ctx context.Context, userID int64, seq int) error {
	return s.upsert(ctx, entities.UpdatesState{UserID: userID, Seq: seq}, "seq")
}

// SetDateSeq updates date and seq together
func (s *UpdatesStateStorage) SetDateSeq(ctx context.Context, userID int64, date, seq int) error {
	return s.upsert(ctx, entities.UpdatesState{UserID: userID, Date: date, Seq: seq}, "date", "seq")
}

func (s *UpdatesStateStorage) upsert(ctx context.Context, state entities.UpdatesState, columns ...string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&state).Error
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", state.UserID).Strs("columns", columns).Msg("failed to save state")
	}
	return err
}

// GetChannelPts retrieves the pts of one channel
func (s *UpdatesStateStorage) GetChannelPts(ctx context.Context, userID, channelID int64) (int, bool, error) {
	state, found, err := s.channel(ctx, userID, channelID)
	return state.Pts, found, err
}

// SetChannelPts saves the pts of one channel
func (s *UpdatesStateStorage) SetChannelPts(ctx context.Context, userID, channelID int64, pts int) error {
	return s.upsertChannel(ctx, entities.ChannelState{UserID: userID, ChannelID: channelID, Pts: pts}, "pts")
}

// ForEachChannels calls f for every channel state of a user
func (s *UpdatesStateStorage) ForEachChannels(ctx context.Context, userID int64, f func(ctx context.Context, channelID int64, pts int) error) error {
	var states []entities.ChannelState
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("channel_id").Find(&states).Error; err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to get channels")
		return err
	}

	for _, state := range states {
		if err := f(ctx, state.ChannelID, state.Pts); err != nil {
			return err
		}
	}
	return nil
}

// GetChannelAccessHash returns the access hash stored for a channel
func (s *UpdatesStateStorage) GetChannelAccessHash(ctx context.Context, userID, channelID int64) (int64, bool, error) {
	state, found, err := s.channel(ctx, userID, channelID)
	if !found || state.AccessHash == 0 {
		return 0, false, err
	}
	return state.AccessHash, true, err
}

// SetChannelAccessHash stores the access hash of a channel
func (s *UpdatesStateStorage) SetChannelAccessHash(ctx context.Context, userID, channelID, accessHash int64) error {
	return s.upsertChannel(ctx, entities.ChannelState{UserID: userID, ChannelID: channelID, AccessHash: accessHash}, "access_hash")
}

func (s *UpdatesStateStorage) channel(ctx context.Context, userID, channelID int64) (entities.ChannelState, bool, error) {
	var state entities.ChannelState
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entities.ChannelState{}, false, nil
	}
	if err != nil {
		s.logger.Error().Err(err).
			Int64("user_id", userID).
			Int64("channel_id", channelID).
			Msg("failed to get channel state")
		return entities.ChannelState{}, false, err
	}
	return state, true, nil
}

func (s *UpdatesStateStorage) upsertChannel(ctx context.Context, state entities.ChannelState, columns ...string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&state).Error
	if err != nil {
		s.logger.Error().Err(err).
			Int64("user_id", state.UserID).
			Int64("channel_id", state.ChannelID).
			Strs("columns", columns).
			Msg("failed to save channel state")
	}
	return err
}

var (
	_ updates.StateStorage        = (*UpdatesStateStorage)(nil)
	_ updates.ChannelAccessHasher = (*UpdatesStateStorage)(nil)
)

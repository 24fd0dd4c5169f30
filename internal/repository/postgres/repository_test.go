package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"github.com/Conte777/tgvault/internal/infrastructure/database/dbtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newChannelRepo(t *testing.T) (*ChannelRepository, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	sessions := database.NewSessionManager(db, &config.DatabaseConfig{MaxRetries: 1}, nil, zerolog.Nop())
	return NewChannelRepository(sessions), db
}

func ptr[T any](v T) *T { return &v }

func TestChannelRepository_CreateIsIdempotent(t *testing.T) {
	repo, _ := newChannelRepo(t)
	ctx := context.Background()

	first := &entities.MonitoredChannel{TelegramID: 1001, Title: "old", Type: entities.ChannelTypeMegagroup}
	require.NoError(t, repo.Create(ctx, first))

	second := &entities.MonitoredChannel{TelegramID: 1001, Title: "new", Type: entities.ChannelTypeMegagroup}
	require.NoError(t, repo.Create(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	got, err := repo.GetByTelegramID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
}

func TestChannelRepository_NotFound(t *testing.T) {
	repo, _ := newChannelRepo(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)

	err = repo.SaveCheckpoint(ctx, 404, 10, 10)
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)

	err = repo.SetMonitoring(ctx, 404, true)
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
}

func TestChannelRepository_SetMonitoring(t *testing.T) {
	repo, _ := newChannelRepo(t)
	ctx := context.Background()

	ch := &entities.MonitoredChannel{TelegramID: 7, Type: entities.ChannelTypeBroadcast}
	require.NoError(t, repo.Create(ctx, ch))

	require.NoError(t, repo.SetMonitoring(ctx, ch.ID, true))
	assert.ErrorIs(t, repo.SetMonitoring(ctx, ch.ID, true), domain.ErrAlreadyMonitoring)

	monitored, err := repo.ListMonitoring(ctx)
	require.NoError(t, err)
	require.Len(t, monitored, 1)
	assert.Equal(t, ch.ID, monitored[0].ID)

	require.NoError(t, repo.SetMonitoring(ctx, ch.ID, false))
	assert.ErrorIs(t, repo.SetMonitoring(ctx, ch.ID, false), domain.ErrNotMonitoring)

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, got.IsMonitoring)
	assert.Equal(t, entities.ChannelStatusPaused, got.Status)
}

func TestChannelRepository_BackfillCheckpoint(t *testing.T) {
	repo, _ := newChannelRepo(t)
	ctx := context.Background()

	ch := &entities.MonitoredChannel{TelegramID: 8, Type: entities.ChannelTypeMegagroup}
	require.NoError(t, repo.Create(ctx, ch))

	require.NoError(t, repo.BeginBackfill(ctx, ch.ID))
	require.NoError(t, repo.SaveCheckpoint(ctx, ch.ID, 901, 100))

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, got.BackfillInProgress)
	assert.Equal(t, entities.ChannelStatusBackfilling, got.Status)
	assert.Equal(t, int64(901), got.BackfillOffsetID)
	assert.Equal(t, int64(100), got.BackfillMessageCount)

	require.NoError(t, repo.FinishBackfill(ctx, ch.ID, true, nil))
	got, err = repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, got.BackfillInProgress)
	assert.True(t, got.BackfillDone)
	assert.Equal(t, entities.ChannelStatusActive, got.Status)

	require.NoError(t, repo.ResetBackfill(ctx, ch.ID))
	got, err = repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Zero(t, got.BackfillOffsetID)
	assert.False(t, got.BackfillDone)
}

func TestChannelRepository_FinishBackfillWithError(t *testing.T) {
	repo, _ := newChannelRepo(t)
	ctx := context.Background()

	ch := &entities.MonitoredChannel{TelegramID: 9, Type: entities.ChannelTypeMegagroup}
	require.NoError(t, repo.Create(ctx, ch))
	require.NoError(t, repo.BeginBackfill(ctx, ch.ID))
	require.NoError(t, repo.FinishBackfill(ctx, ch.ID, false, assert.AnError))

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ChannelStatusError, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, assert.AnError.Error(), *got.LastError)
	assert.False(t, got.BackfillDone)
}

func TestChannelRepository_LastMessageIDOnlyAdvances(t *testing.T) {
	repo, _ := newChannelRepo(t)
	ctx := context.Background()

	ch := &entities.MonitoredChannel{TelegramID: 10, Type: entities.ChannelTypeMegagroup}
	require.NoError(t, repo.Create(ctx, ch))

	require.NoError(t, repo.AdvanceLastMessageID(ctx, ch.ID, 50))
	require.NoError(t, repo.AdvanceLastMessageID(ctx, ch.ID, 20))
	require.NoError(t, repo.AddMessages(ctx, ch.ID, 3))
	require.NoError(t, repo.AddMessages(ctx, ch.ID, 2))

	ids, err := repo.LastMessageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{ch.ID: 50}, ids)

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.MessageCount)
}

func TestUserRepository_PeerHints(t *testing.T) {
	db := dbtest.New(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&entities.User{
		TelegramID:    5,
		AccessHash:    ptr(int64(99)),
		Username:      ptr("alice"),
		LastUpdatedAt: time.Now(),
	}).Error)

	hints, err := repo.PeerHints(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.PeerHints{Type: domain.PeerUser, AccessHash: 99, Username: "alice"}, hints)

	_, err = repo.PeerHints(ctx, 6)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_SelectForEnrichment(t *testing.T) {
	db := dbtest.New(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	now := time.Now()
	old := now.Add(-60 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	// 1 never enriched without photo, 2 never enriched with photo, 3 and 6 stale,
	// 4 recently enriched, 5 deleted
	users := []entities.User{
		{TelegramID: 1, LastUpdatedAt: now},
		{TelegramID: 2, CurrentPhotoID: ptr(int64(7)), LastUpdatedAt: now},
		{TelegramID: 3, LastEnrichedAt: &old, LastUpdatedAt: now},
		{TelegramID: 4, LastEnrichedAt: &recent, LastUpdatedAt: now},
		{TelegramID: 5, IsDeleted: true, LastUpdatedAt: now},
		{TelegramID: 6, CurrentPhotoID: ptr(int64(8)), LastEnrichedAt: &old, LastUpdatedAt: now},
	}
	require.NoError(t, db.Create(&users).Error)

	staleBefore := now.Add(-30 * 24 * time.Hour)

	picked, err := repo.SelectForEnrichment(ctx, 3, staleBefore)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, telegramIDs(picked))

	picked, err = repo.SelectForEnrichment(ctx, 10, staleBefore)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 6}, telegramIDs(picked))

	picked, err = repo.SelectForEnrichment(ctx, 0, staleBefore)
	require.NoError(t, err)
	assert.Empty(t, picked)
}

func telegramIDs(users []entities.User) []int64 {
	out := make([]int64, len(users))
	for i, u := range users {
		out[i] = u.TelegramID
	}
	return out
}

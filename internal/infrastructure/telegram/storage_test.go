package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/Conte777/tgvault/internal/infrastructure/database/dbtest"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/updates"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStorage(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	storage := NewSessionStorage(db, 1)

	_, err := storage.LoadSession(ctx)
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, storage.StoreSession(ctx, []byte("first")))
	data, err := storage.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	require.NoError(t, storage.StoreSession(ctx, []byte("second")))
	data, err = storage.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	other := NewSessionStorage(db, 2)
	_, err = other.LoadSession(ctx)
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, storage.DeleteSession(ctx))
	_, err = storage.LoadSession(ctx)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestUpdatesStateStorage_State(t *testing.T) {
	ctx := context.Background()
	storage := NewUpdatesStateStorage(dbtest.New(t), zerolog.Nop())

	_, found, err := storage.GetState(ctx, 100)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.SetState(ctx, 100, updates.State{Pts: 10, Qts: 2, Date: 1700000000, Seq: 5}))
	require.NoError(t, storage.SetPts(ctx, 100, 11))
	require.NoError(t, storage.SetDateSeq(ctx, 100, 1700000050, 6))

	state, found, err := storage.GetState(ctx, 100)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, updates.State{Pts: 11, Qts: 2, Date: 1700000050, Seq: 6}, state)

	require.NoError(t, storage.SetQts(ctx, 200, 7))
	state, found, err = storage.GetState(ctx, 200)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, updates.State{Qts: 7}, state)
}

func TestUpdatesStateStorage_Channels(t *testing.T) {
	ctx := context.Background()
	storage := NewUpdatesStateStorage(dbtest.New(t), zerolog.Nop())

	_, found, err := storage.GetChannelPts(ctx, 1, 500)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.SetChannelAccessHash(ctx, 1, 500, 9999))
	_, found, err = storage.GetChannelAccessHash(ctx, 1, 400)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.SetChannelPts(ctx, 1, 500, 30))
	require.NoError(t, storage.SetChannelPts(ctx, 1, 400, 20))
	require.NoError(t, storage.SetChannelPts(ctx, 2, 500, 99))

	pts, found, err := storage.GetChannelPts(ctx, 1, 500)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 30, pts)

	hash, found, err := storage.GetChannelAccessHash(ctx, 1, 500)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(9999), hash)

	var seen []int64
	err = storage.ForEachChannels(ctx, 1, func(ctx context.Context, channelID int64, pts int) error {
		seen = append(seen, channelID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{400, 500}, seen)

	stop := errors.New("stop")
	calls := 0
	err = storage.ForEachChannels(ctx, 1, func(ctx context.Context, channelID int64, pts int) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

package upsert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"github.com/Conte777/tgvault/internal/infrastructure/database/dbtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPrecheck struct {
	mu       sync.Mutex
	users    int
	messages int
}

func (p *recordingPrecheck) PrecheckUsers(ctx context.Context, records []UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users += len(records)
}

func (p *recordingPrecheck) PrecheckMessages(ctx context.Context, records []MessageRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages += len(records)
}

func newTestResolver(t *testing.T, precheck Prechecker) (*Resolver, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	sessions := database.NewSessionManager(db, &config.DatabaseConfig{MaxRetries: 2}, nil, zerolog.Nop())
	r, err := NewResolver(sessions, precheck, &config.LiveConfig{}, nil, zerolog.Nop())
	require.NoError(t, err)
	return r, db
}

func seedChannel(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	ch := entities.MonitoredChannel{TelegramID: 1001, Title: "test", Type: entities.ChannelTypeMegagroup}
	require.NoError(t, db.Create(&ch).Error)
	return ch.ID
}

func ptr[T any](v T) *T { return &v }

func TestUpsertUser_ConcurrentSameKeyConverges(t *testing.T) {
	r, db := newTestResolver(t, nil)
	ctx := context.Background()

	names := make(map[string]bool)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("racer_%d", i)
		names[name] = true
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			_, err := r.UpsertUser(ctx, UserRecord{TelegramID: 777, Username: ptr(username)})
			errs <- err
		}(name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&entities.User{}).Where("telegram_id = ?", 777).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored entities.User
	require.NoError(t, db.Where("telegram_id = ?", 777).First(&stored).Error)
	assert.False(t, stored.HasStories)
	assert.Zero(t, stored.MessagesCount)
	require.NotNil(t, stored.Username)
	assert.True(t, names[*stored.Username], "username %q is not one of the supplied values", *stored.Username)
}

func TestUpsertUser_NilFieldsPreserveStoredValues(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ctx := context.Background()

	first, err := r.UpsertUser(ctx, UserRecord{
		TelegramID: 42,
		Username:   ptr("alice"),
		FirstName:  ptr("Alice"),
		IsPremium:  ptr(true),
		AccessHash: ptr(int64(99)),
	})
	require.NoError(t, err)

	second, err := r.UpsertUser(ctx, UserRecord{
		TelegramID: 42,
		FirstName:  ptr("Alicia"),
		Bio:        ptr("hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", *second.Username)
	assert.Equal(t, "Alicia", *second.FirstName)
	assert.Equal(t, "hello", *second.Bio)
	assert.True(t, second.IsPremium)
	assert.Equal(t, int64(99), *second.AccessHash)
	assert.False(t, second.LastUpdatedAt.Before(first.LastUpdatedAt))
}

func TestUpsertUser_ExplicitFalseOverridesTrue(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ctx := context.Background()

	_, err := r.UpsertUser(ctx, UserRecord{TelegramID: 5, IsScam: ptr(true)})
	require.NoError(t, err)

	stored, err := r.UpsertUser(ctx, UserRecord{TelegramID: 5, IsScam: ptr(false)})
	require.NoError(t, err)
	assert.False(t, stored.IsScam)
}

func TestUpsertUser_IncompletePayloadGetsDefaults(t *testing.T) {
	r, _ := newTestResolver(t, nil)

	stored, err := r.UpsertUser(context.Background(), UserRecord{TelegramID: 8})
	require.NoError(t, err)

	assert.Nil(t, stored.Username)
	assert.Zero(t, stored.MessagesCount)
	assert.Zero(t, stored.GroupsCount)
	assert.Zero(t, stored.MediaCount)
	assert.False(t, stored.IsBot)
	assert.False(t, stored.IsDeleted)
	assert.False(t, stored.HasStories)
	assert.False(t, stored.IsWatchlist)
	assert.False(t, stored.LastUpdatedAt.IsZero())
}

func TestUpsertUser_CountersSurviveUpserts(t *testing.T) {
	r, db := newTestResolver(t, nil)
	ctx := context.Background()

	user, err := r.UpsertUser(ctx, UserRecord{TelegramID: 11})
	require.NoError(t, err)
	require.NoError(t, r.IncrementUserActivity(ctx, map[int64]Activity{user.ID: {Messages: 3, Media: 1}}))

	_, err = r.UpsertUser(ctx, UserRecord{TelegramID: 11, Username: ptr("later")})
	require.NoError(t, err)

	var stored entities.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, int64(3), stored.MessagesCount)
	assert.Equal(t, int64(1), stored.MediaCount)
}

func TestUpsertUsers_PartialFailure(t *testing.T) {
	precheck := &recordingPrecheck{}
	r, _ := newTestResolver(t, precheck)

	res := r.UpsertUsers(context.Background(), []UserRecord{
		{TelegramID: 1},
		{TelegramID: 0},
		{TelegramID: 2},
	})

	assert.Len(t, res.Written, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, int64(0), res.Failed[0].Record.TelegramID)
	assert.Equal(t, 3, res.Attempted())
	assert.Equal(t, 3, precheck.users)
}

func TestInsertMessage_DuplicateIsNoOp(t *testing.T) {
	r, db := newTestResolver(t, nil)
	ctx := context.Background()
	channelID := seedChannel(t, db)

	rec := MessageRecord{MessageID: 10, ChannelID: channelID, MessageType: "text", Date: time.Now(), Text: ptr("first")}

	stored, dup, err := r.InsertMessage(ctx, rec)
	require.NoError(t, err)
	assert.False(t, dup)
	require.NotNil(t, stored)

	rec.Text = ptr("second")
	stored, dup, err = r.InsertMessage(ctx, rec)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Nil(t, stored)

	var rows []entities.Message
	require.NoError(t, db.Where("message_id = ? AND channel_id = ?", 10, channelID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", *rows[0].Text)
}

func TestInsertMessages_CountsDuplicates(t *testing.T) {
	precheck := &recordingPrecheck{}
	r, db := newTestResolver(t, precheck)
	channelID := seedChannel(t, db)

	now := time.Now()
	batch := []MessageRecord{
		{MessageID: 1, ChannelID: channelID, MessageType: "text", Date: now},
		{MessageID: 2, ChannelID: channelID, MessageType: "text", Date: now},
		{MessageID: 1, ChannelID: channelID, MessageType: "text", Date: now},
	}

	res := r.InsertMessages(context.Background(), batch)
	assert.Len(t, res.Written, 2)
	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 3, precheck.messages)
}

func TestInsertMessages_MissingSenderStillAttempted(t *testing.T) {
	r, db := newTestResolver(t, nil)
	ctx := context.Background()
	channelID := seedChannel(t, db)

	sender, err := r.UpsertUser(ctx, UserRecord{TelegramID: 500})
	require.NoError(t, err)

	var batch []MessageRecord
	for i := int64(1); i <= 4; i++ {
		batch = append(batch, MessageRecord{MessageID: i, ChannelID: channelID, SenderID: ptr(sender.ID), MessageType: "text", Date: time.Now()})
	}
	batch = append(batch, MessageRecord{MessageID: 5, ChannelID: channelID, SenderID: ptr(int64(987654)), MessageType: "text", Date: time.Now()})

	res := r.InsertMessages(ctx, batch)
	assert.Equal(t, 5, res.Attempted())
}

func TestUpdateMessageEdit_OnlyEditableFields(t *testing.T) {
	r, db := newTestResolver(t, nil)
	ctx := context.Background()
	channelID := seedChannel(t, db)

	_, _, err := r.InsertMessage(ctx, MessageRecord{
		MessageID:       3,
		ChannelID:       channelID,
		MessageType:     "text",
		Date:            time.Now(),
		Text:            ptr("original"),
		Views:           1,
		ForwardFromName: ptr("source"),
	})
	require.NoError(t, err)

	edited := time.Now()
	stored, err := r.UpdateMessageEdit(ctx, MessageRecord{
		MessageID:       3,
		ChannelID:       channelID,
		MessageType:     "text",
		Date:            time.Now(),
		Text:            ptr("edited"),
		EditDate:        &edited,
		Views:           10,
		ForwardFromName: ptr("changed"),
	})
	require.NoError(t, err)

	assert.Equal(t, "edited", *stored.Text)
	assert.Equal(t, 10, stored.Views)
	require.NotNil(t, stored.EditDate)
	assert.Equal(t, "source", *stored.ForwardFromName)
}

func TestNewResolver_RejectsUnknownEditField(t *testing.T) {
	_, err := NewResolver(nil, nil, &config.LiveConfig{EditableFields: []string{"text", "sender_id"}}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestUpsertMedia_CoalescesAndKeepsAttempts(t *testing.T) {
	r, db := newTestResolver(t, nil)
	ctx := context.Background()
	channelID := seedChannel(t, db)

	msg, _, err := r.InsertMessage(ctx, MessageRecord{MessageID: 9, ChannelID: channelID, MessageType: "photo", Date: time.Now(), HasMedia: true})
	require.NoError(t, err)

	_, err = r.UpsertMedia(ctx, MediaRecord{MessageID: msg.ID, MediaType: "photo", FileName: ptr("a.jpg"), FileSize: ptr(int64(100))})
	require.NoError(t, err)

	category := "io"
	require.NoError(t, r.RecordMediaAttempt(ctx, msg.ID, entities.MediaStatusFailed, &category))

	stored, err := r.UpsertMedia(ctx, MediaRecord{MessageID: msg.ID, MediaType: "photo", LocalPath: ptr("/tmp/a.jpg"), DownloadStatus: ptr(entities.MediaStatusDownloaded)})
	require.NoError(t, err)

	assert.Equal(t, "a.jpg", *stored.FileName)
	assert.Equal(t, int64(100), *stored.FileSize)
	assert.Equal(t, "/tmp/a.jpg", *stored.LocalPath)
	assert.Equal(t, entities.MediaStatusDownloaded, stored.DownloadStatus)
	assert.Equal(t, 1, stored.DownloadAttempts)
	assert.Equal(t, "io", *stored.LastErrorCategory)

	var count int64
	require.NoError(t, db.Model(&entities.MediaFile{}).Where("message_id = ?", msg.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordMediaAttempt_MissingRow(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	err := r.RecordMediaAttempt(context.Background(), 12345, entities.MediaStatusFailed, nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

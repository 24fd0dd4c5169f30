package media

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/clienttest"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/registry"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attempt struct {
	status   string
	category string
}

type memoryStore struct {
	mu       sync.Mutex
	records  []upsert.MediaRecord
	attempts []attempt
}

func (s *memoryStore) UpsertMedia(ctx context.Context, rec upsert.MediaRecord) (*entities.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return &entities.MediaFile{MessageID: rec.MessageID, MediaType: rec.MediaType}, nil
}

func (s *memoryStore) RecordMediaAttempt(ctx context.Context, messageID int64, status string, category *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := attempt{status: status}
	if category != nil {
		a.category = *category
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *memoryStore) Attempts() []attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attempt(nil), s.attempts...)
}

func (s *memoryStore) Records() []upsert.MediaRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upsert.MediaRecord(nil), s.records...)
}

type fakeObjects struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeObjects) Upload(ctx context.Context, key, path, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/media/" + key, nil
}

func newTestDownloader(t *testing.T, enabled bool) (*Downloader, *clienttest.Client, *memoryStore) {
	t.Helper()

	reg := registry.New()
	client := clienttest.New(1)
	require.NoError(t, reg.Add(client))

	store := &memoryStore{}
	d := NewDownloader(balancer.New(reg, nil, zerolog.Nop()), store, nil, &config.MediaConfig{
		Enabled:      enabled,
		Dir:          t.TempDir(),
		Workers:      1,
		QueueSize:    8,
		MaxFileSize:  1024,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
		MaxFloodWait: time.Minute,
	}, nil, zerolog.Nop())
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d, client, store
}

func photoJob() Job {
	return Job{
		AccountID:    1,
		ChannelID:    3,
		MessageRowID: 11,
		MessageID:    501,
		Media:        domain.MediaRef{Kind: domain.MediaPhoto, FileID: 77, Size: 100},
	}
}

func TestDownloader_DownloadsAndArchives(t *testing.T) {
	d, client, store := newTestDownloader(t, true)
	objects := &fakeObjects{}
	d.objects = objects

	client.DownloadMediaFn = func(ctx context.Context, media domain.MediaRef, path string) error {
		return os.WriteFile(path, []byte("data"), 0o644)
	}

	d.Start()
	t.Cleanup(d.Stop)

	require.NoError(t, d.Queue(context.Background(), photoJob()))
	require.Eventually(t, func() bool { return d.Status().Downloaded == 1 }, time.Second, 5*time.Millisecond)

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "photo", records[0].MediaType)
	assert.Nil(t, records[0].LocalPath, "pending row carries metadata only")

	final := records[1]
	require.NotNil(t, final.LocalPath)
	assert.Contains(t, *final.LocalPath, "501_77.jpg")
	assert.FileExists(t, *final.LocalPath)
	require.NotNil(t, final.StorageURL)
	assert.Equal(t, "https://cdn.example.com/media/channels/3/501_77.jpg", *final.StorageURL)

	assert.Equal(t, []attempt{{status: entities.MediaStatusDownloaded}}, store.Attempts())
}

func TestDownloader_SkipsLargeFiles(t *testing.T) {
	d, client, store := newTestDownloader(t, true)

	called := false
	client.DownloadMediaFn = func(ctx context.Context, media domain.MediaRef, path string) error {
		called = true
		return nil
	}

	job := photoJob()
	job.Media.Size = 4096
	require.NoError(t, d.Queue(context.Background(), job))

	assert.False(t, called)
	assert.Equal(t, 0, d.Status().QueueDepth)
	assert.Equal(t, int64(1), d.Status().Skipped)
	assert.Equal(t, []attempt{{status: entities.MediaStatusSkipped, category: CategoryTooLarge}}, store.Attempts())
}

func TestDownloader_DisabledKeepsMetadataOnly(t *testing.T) {
	d, _, store := newTestDownloader(t, false)

	require.NoError(t, d.Queue(context.Background(), photoJob()))
	assert.Len(t, store.Records(), 1)
	assert.Empty(t, store.Attempts())
	assert.Equal(t, 0, d.Status().QueueDepth)
}

func TestDownloader_RetriesThenFails(t *testing.T) {
	d, client, store := newTestDownloader(t, true)

	var calls int
	var mu sync.Mutex
	client.DownloadMediaFn = func(ctx context.Context, media domain.MediaRef, path string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("FILE_REFERENCE_EXPIRED")
	}

	d.Start()
	t.Cleanup(d.Stop)

	require.NoError(t, d.Queue(context.Background(), photoJob()))
	require.Eventually(t, func() bool { return d.Status().Failed == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()

	attempts := store.Attempts()
	require.Len(t, attempts, 3)
	assert.Equal(t, attempt{status: entities.MediaStatusPending, category: CategoryUpstream}, attempts[0])
	assert.Equal(t, attempt{status: entities.MediaStatusFailed, category: CategoryUpstream}, attempts[2])
}

func TestDownloader_UnavailableFailsAtOnce(t *testing.T) {
	d, client, store := newTestDownloader(t, true)

	client.DownloadMediaFn = func(ctx context.Context, media domain.MediaRef, path string) error {
		return domain.NewUpstreamError(domain.KindPeerUnavailable, errors.New("CHANNEL_PRIVATE"))
	}

	d.Start()
	t.Cleanup(d.Stop)

	require.NoError(t, d.Queue(context.Background(), photoJob()))
	require.Eventually(t, func() bool { return d.Status().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []attempt{{status: entities.MediaStatusFailed, category: CategoryUnavailable}}, store.Attempts())
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.NewFloodWait(time.Second, nil), CategoryFloodWait},
		{domain.NewUpstreamError(domain.KindPeerUnavailable, nil), CategoryUnavailable},
		{domain.NewUpstreamError(domain.KindTimeout, nil), CategoryUpstream},
		{&os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, CategoryIO},
		{errors.New("boom"), CategoryUpstream},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.err), tt.err.Error())
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "report.pdf", fileName(domain.MediaRef{FileName: "../../report.pdf"}))
	assert.Equal(t, "9.ogg", fileName(domain.MediaRef{Kind: domain.MediaVoice, FileID: 9}))
}

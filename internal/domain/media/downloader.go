package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// Error categories stored in media_files.last_error_category
const (
	CategoryFloodWait   = "flood_wait"
	CategoryUnavailable = "unavailable"
	CategoryTooLarge    = "too_large"
	CategoryIO          = "io"
	CategoryUpstream    = "upstream"
)

// Job downloads the attachment of one stored message
type Job struct {
	AccountID    int64
	ChannelID    int64
	MessageRowID int64
	MessageID    int64
	GroupedID    int64
	Media        domain.MediaRef
}

// ClientPicker hands out connections for downloads
type ClientPicker interface {
	GetClient(accountID int64) (domain.Client, error)
	GetNextClient() (int64, domain.Client, error)
	ReportSuccess(accountID int64)
	ReportError(accountID int64, err error)
}

// Store persists media metadata and download outcomes
type Store interface {
	UpsertMedia(ctx context.Context, rec upsert.MediaRecord) (*entities.MediaFile, error)
	RecordMediaAttempt(ctx context.Context, messageID int64, status string, category *string) error
}

// Status is a snapshot of the downloader counters
type Status struct {
	Enabled    bool  `json:"enabled"`
	QueueDepth int   `json:"queue_depth"`
	Downloaded int64 `json:"downloaded"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Requeued   int64 `json:"requeued"`
}

// Downloader is a bounded pool of media download workers
type Downloader struct {
	clients ClientPicker
	store   Store
	objects domain.MediaStore
	cfg     *config.MediaConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger

	jobs chan Job

	downloaded atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	requeued   atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDownloader creates a downloader. objects may be nil when archiving is disabled.
func NewDownloader(
	clients ClientPicker,
	store Store,
	objects domain.MediaStore,
	cfg *config.MediaConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Downloader {
	ctx, cancel := context.WithCancel(context.Background())

	return &Downloader{
		clients: clients,
		store:   store,
		objects: objects,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "media").Logger(),
		jobs:    make(chan Job, cfg.QueueSize),
		sleep:   sleepContext,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Queue records the attachment as pending and schedules its download.
// Files above the size cap are marked skipped without downloading.
func (d *Downloader) Queue(ctx context.Context, job Job) error {
	rec := metadataRecord(job)
	if _, err := d.store.UpsertMedia(ctx, rec); err != nil {
		return fmt.Errorf("register media: %w", err)
	}

	if !d.cfg.Enabled {
		return nil
	}

	if d.cfg.MaxFileSize > 0 && job.Media.Size > d.cfg.MaxFileSize {
		d.skipped.Add(1)
		d.metrics.RecordMediaDownload(entities.MediaStatusSkipped)
		category := CategoryTooLarge
		return d.store.RecordMediaAttempt(ctx, job.MessageRowID, entities.MediaStatusSkipped, &category)
	}

	select {
	case d.jobs <- job:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Start launches the workers
func (d *Downloader) Start() {
	if !d.cfg.Enabled {
		d.logger.Info().Msg("Media downloads disabled")
		return
	}
	d.logger.Info().Int("workers", d.cfg.Workers).Str("dir", d.cfg.Dir).Msg("Starting media downloader")

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop cancels in-flight downloads and waits for the workers
func (d *Downloader) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Int64("downloaded", d.downloaded.Load()).Msg("Media downloader stopped")
}

// Status returns the downloader counters
func (d *Downloader) Status() Status {
	return Status{
		Enabled:    d.cfg.Enabled,
		QueueDepth: len(d.jobs),
		Downloaded: d.downloaded.Load(),
		Failed:     d.failed.Load(),
		Skipped:    d.skipped.Load(),
		Requeued:   d.requeued.Load(),
	}
}

func (d *Downloader) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.jobs:
			d.process(d.ctx, job)
		}
	}
}

func (d *Downloader) process(ctx context.Context, job Job) {
	logger := d.logger.With().
		Int64("channel_id", job.ChannelID).
		Int64("message_id", job.MessageID).
		Logger()

	path := d.localPath(job)
	delay := d.cfg.RetryDelay

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.download(ctx, job, path)
		if err == nil {
			d.finish(ctx, job, path, logger)
			return
		}
		if ctx.Err() != nil {
			return
		}

		category := Categorize(err)
		switch category {
		case CategoryFloodWait:
			wait, _ := domain.FloodWait(err)
			wait = min(wait, d.cfg.MaxFloodWait)
			logger.Warn().Dur("wait", wait).Msg("Flood wait during media download, requeueing")
			d.record(ctx, job, entities.MediaStatusPending, category, logger)
			if d.sleep(ctx, wait) != nil {
				return
			}
			select {
			case d.jobs <- job:
				d.requeued.Add(1)
			default:
				logger.Warn().Msg("Media queue full, download left pending")
			}
			return
		case CategoryUnavailable:
			d.fail(ctx, job, category, err, logger)
			return
		}

		if attempt == d.cfg.MaxAttempts {
			d.fail(ctx, job, category, err, logger)
			return
		}
		d.record(ctx, job, entities.MediaStatusPending, category, logger)
		logger.Debug().Err(err).Int("attempt", attempt).Msg("Media download failed, retrying")
		if d.sleep(ctx, delay) != nil {
			return
		}
		delay *= 2
	}
}

func (d *Downloader) download(ctx context.Context, job Job, path string) error {
	accountID, client, err := d.pick(job.AccountID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	if err := client.DownloadMedia(ctx, job.Media, path); err != nil {
		_ = os.Remove(path)
		d.clients.ReportError(accountID, err)
		return err
	}
	d.clients.ReportSuccess(accountID)
	return nil
}

func (d *Downloader) pick(accountID int64) (int64, domain.Client, error) {
	if accountID != 0 {
		client, err := d.clients.GetClient(accountID)
		if err == nil {
			return accountID, client, nil
		}
		if !errors.Is(err, domain.ErrNotConnected) {
			return 0, nil, err
		}
	}
	return d.clients.GetNextClient()
}

func (d *Downloader) finish(ctx context.Context, job Job, path string, logger zerolog.Logger) {
	rec := upsert.MediaRecord{
		MessageID: job.MessageRowID,
		MediaType: string(job.Media.Kind),
		LocalPath: &path,
	}
	if info, err := os.Stat(path); err == nil {
		size := info.Size()
		rec.FileSize = &size
	}

	if d.objects != nil {
		url, err := d.objects.Upload(ctx, objectKey(job, path), path, contentType(job.Media, path))
		if err != nil {
			logger.Warn().Err(err).Msg("Media archive upload failed, keeping local copy")
		} else {
			rec.StorageURL = &url
		}
	}

	if _, err := d.store.UpsertMedia(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to store media path")
	}
	if err := d.store.RecordMediaAttempt(ctx, job.MessageRowID, entities.MediaStatusDownloaded, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to record media download")
	}

	d.downloaded.Add(1)
	d.metrics.RecordMediaDownload(entities.MediaStatusDownloaded)
	logger.Debug().Str("path", path).Msg("Media downloaded")
}

func (d *Downloader) fail(ctx context.Context, job Job, category string, cause error, logger zerolog.Logger) {
	d.record(ctx, job, entities.MediaStatusFailed, category, logger)
	d.failed.Add(1)
	d.metrics.RecordMediaDownload(entities.MediaStatusFailed)
	logger.Warn().Err(cause).Str("category", category).Msg("Media download failed")
}

func (d *Downloader) record(ctx context.Context, job Job, status, category string, logger zerolog.Logger) {
	if err := d.store.RecordMediaAttempt(ctx, job.MessageRowID, status, &category); err != nil {
		logger.Error().Err(err).Msg("Failed to record media attempt")
	}
}

// localPath is <dir>/<channel>/<message>_<file>
func (d *Downloader) localPath(job Job) string {
	return filepath.Join(
		d.cfg.Dir,
		strconv.FormatInt(job.ChannelID, 10),
		strconv.FormatInt(job.MessageID, 10)+"_"+fileName(job.Media),
	)
}

// Categorize maps a download error to a stored error category
func Categorize(err error) string {
	switch domain.KindOf(err) {
	case domain.KindFloodWait:
		return CategoryFloodWait
	case domain.KindPeerUnavailable, domain.KindUnauthorized:
		return CategoryUnavailable
	case domain.KindOther:
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return CategoryIO
		}
		return CategoryUpstream
	default:
		return CategoryUpstream
	}
}

func metadataRecord(job Job) upsert.MediaRecord {
	m := job.Media
	rec := upsert.MediaRecord{
		MessageID: job.MessageRowID,
		MediaType: string(m.Kind),
	}
	if m.FileID != 0 {
		rec.FileID = &m.FileID
	}
	if m.FileName != "" {
		rec.FileName = &m.FileName
	}
	if m.MimeType != "" {
		rec.MimeType = &m.MimeType
	}
	if m.Size > 0 {
		rec.FileSize = &m.Size
	}
	if m.Width > 0 {
		rec.Width = &m.Width
	}
	if m.Height > 0 {
		rec.Height = &m.Height
	}
	if m.Duration > 0 {
		rec.Duration = &m.Duration
	}
	if job.GroupedID != 0 {
		rec.GroupedID = &job.GroupedID
	}
	return rec
}

var defaultExtensions = map[domain.MediaKind]string{
	domain.MediaPhoto:     ".jpg",
	domain.MediaVideo:     ".mp4",
	domain.MediaAudio:     ".mp3",
	domain.MediaVoice:     ".ogg",
	domain.MediaSticker:   ".webp",
	domain.MediaAnimation: ".mp4",
	domain.MediaDocument:  ".bin",
}

func fileName(m domain.MediaRef) string {
	if m.FileName != "" {
		return filepath.Base(strings.ReplaceAll(m.FileName, "\\", "/"))
	}

	ext := ""
	if m.MimeType != "" {
		if exts, err := mime.ExtensionsByType(m.MimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	if ext == "" {
		ext = defaultExtensions[m.Kind]
	}
	return strconv.FormatInt(m.FileID, 10) + ext
}

func contentType(m domain.MediaRef, path string) string {
	if m.MimeType != "" {
		return m.MimeType
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func objectKey(job Job, path string) string {
	return "channels/" + strconv.FormatInt(job.ChannelID, 10) + "/" + filepath.Base(path)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

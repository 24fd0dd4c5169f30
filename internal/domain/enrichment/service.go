package enrichment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/rs/zerolog"
)

// ClientPicker hands out connections and collects their outcomes
type ClientPicker interface {
	GetClient(accountID int64) (domain.Client, error)
	GetNextClient() (int64, domain.Client, error)
	WaitForClient(ctx context.Context) (int64, domain.Client, error)
	MinFloodWaitRemaining() time.Duration
	ReportSuccess(accountID int64)
	ReportError(accountID int64, err error)
}

// PeerResolver turns a user id into a usable peer
type PeerResolver interface {
	Resolve(ctx context.Context, client domain.Client, id int64) (*domain.Peer, error)
}

// UserStore persists enrichment results
type UserStore interface {
	UpsertUser(ctx context.Context, rec upsert.UserRecord) (*entities.User, error)
}

// Service fetches and stores the extended profile of one user
type Service struct {
	clients   ClientPicker
	resolver  PeerResolver
	users     UserStore
	publisher events.Publisher
	cfg       *config.EnrichmentConfig
	mediaDir  string
	logger    zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates the enrichment operation. publisher may be nil.
func NewService(
	clients ClientPicker,
	resolver PeerResolver,
	users UserStore,
	publisher events.Publisher,
	cfg *config.EnrichmentConfig,
	mediaCfg *config.MediaConfig,
	logger zerolog.Logger,
) *Service {
	return &Service{
		clients:   clients,
		resolver:  resolver,
		users:     users,
		publisher: publisher,
		cfg:       cfg,
		mediaDir:  mediaCfg.Dir,
		logger:    logger.With().Str("component", "enrichment").Logger(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Enrich resolves the user, fetches the full profile and newest photo and
// upserts the result. Flood waits are returned unchanged so the queue can requeue.
func (s *Service) Enrich(ctx context.Context, task Task) error {
	accountID, client, err := s.pick(ctx, task.AccountID)
	if err != nil {
		return err
	}

	logger := s.logger.With().Int64("user_id", task.UserID).Int64("account_id", accountID).Logger()

	peer, err := s.resolver.Resolve(ctx, client, task.UserID)
	if err != nil {
		s.clients.ReportError(accountID, err)
		return fmt.Errorf("resolve user %d: %w", task.UserID, err)
	}

	var profile *domain.UserProfile
	err = s.withRetry(ctx, func() error {
		var err error
		profile, err = client.GetFullUser(ctx, *peer)
		return err
	})
	if err != nil {
		s.clients.ReportError(accountID, err)
		return fmt.Errorf("full user %d: %w", task.UserID, err)
	}

	rec := profileRecord(profile, s.now())

	if s.cfg.DownloadPhotos {
		photoID, path, err := s.fetchPhoto(ctx, client, *peer, task.UserID)
		switch {
		case err != nil && domain.KindOf(err) == domain.KindFloodWait:
			s.clients.ReportError(accountID, err)
			return err
		case err != nil:
			logger.Warn().Err(err).Msg("Profile photo download failed")
		case photoID != 0:
			rec.CurrentPhotoID = &photoID
			rec.CurrentPhotoPath = &path
		}
	}

	user, err := s.users.UpsertUser(ctx, rec)
	if err != nil {
		return fmt.Errorf("store user %d: %w", task.UserID, err)
	}
	s.clients.ReportSuccess(accountID)

	events.Emit(ctx, s.publisher, logger, events.New(events.UserEnriched, task.ChannelID, map[string]any{
		"user_id":     user.ID,
		"telegram_id": user.TelegramID,
		"username":    deref(user.Username),
		"source":      task.Source,
		"has_photo":   user.CurrentPhotoID != nil,
	}))

	logger.Debug().Str("source", task.Source).Msg("Profile stored")
	return nil
}

// pick prefers the task's account and falls back to the balancer's choice.
// When every account is paused it waits for the earliest one if that fits the
// flood wait ceiling, and returns the wait otherwise.
func (s *Service) pick(ctx context.Context, accountID int64) (int64, domain.Client, error) {
	if accountID != 0 {
		client, err := s.clients.GetClient(accountID)
		if err == nil {
			return accountID, client, nil
		}
		if !errors.Is(err, domain.ErrNotConnected) {
			return 0, nil, err
		}
	}

	id, client, err := s.clients.GetNextClient()
	if !errors.Is(err, domain.ErrAllClientsBlocked) {
		return id, client, err
	}

	wait := s.clients.MinFloodWaitRemaining()
	if wait > s.cfg.MaxFloodWait {
		return 0, nil, domain.NewFloodWait(wait, err)
	}
	s.logger.Debug().Dur("wait", wait).Msg("All accounts paused, waiting for one")
	return s.clients.WaitForClient(ctx)
}

func (s *Service) fetchPhoto(ctx context.Context, client domain.Client, peer domain.Peer, userID int64) (int64, string, error) {
	var photos []domain.Photo
	err := s.withRetry(ctx, func() error {
		var err error
		photos, err = client.GetUserPhotos(ctx, peer, 1)
		return err
	})
	if err != nil || len(photos) == 0 {
		return 0, "", err
	}

	photo := photos[0]
	path := filepath.Join(s.mediaDir, "avatars", strconv.FormatInt(userID, 10)+"_"+strconv.FormatInt(photo.ID, 10)+".jpg")
	if _, err := os.Stat(path); err == nil {
		return photo.ID, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, "", fmt.Errorf("create avatar dir: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		return client.DownloadPhoto(ctx, photo, path)
	})
	if err != nil {
		_ = os.Remove(path)
		return 0, "", err
	}
	return photo.ID, path, nil
}

// withRetry retries transient upstream I/O with a doubling delay. Flood waits,
// revoked sessions and inaccessible peers are returned at once.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	delay := s.cfg.IORetryDelay
	var err error

	for attempt := 1; attempt <= s.cfg.IOAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		switch domain.KindOf(err) {
		case domain.KindFloodWait, domain.KindUnauthorized, domain.KindPeerUnavailable:
			return err
		}
		if attempt == s.cfg.IOAttempts {
			break
		}
		if serr := s.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
	return err
}

func profileRecord(p *domain.UserProfile, now time.Time) upsert.UserRecord {
	u := p.User
	rec := upsert.UserRecord{
		TelegramID:     u.ID,
		IsBot:          &u.Bot,
		IsPremium:      &u.Premium,
		IsVerified:     &u.Verified,
		IsScam:         &u.Scam,
		IsFake:         &u.Fake,
		IsRestricted:   &u.Restricted,
		IsDeleted:      &u.Deleted,
		HasStories:     &p.HasStories,
		LastSeenAt:     u.LastSeen,
		LastEnrichedAt: &now,
	}
	if u.AccessHash != 0 {
		rec.AccessHash = &u.AccessHash
	}
	rec.Username = nonEmpty(u.Username)
	rec.FirstName = nonEmpty(u.FirstName)
	rec.LastName = nonEmpty(u.LastName)
	rec.Phone = nonEmpty(u.Phone)
	rec.Bio = nonEmpty(p.Bio)
	return rec
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	dialogPageSize = 100
	maxDialogPages = 10
)

var errNotLoggedIn = errors.New("session is not logged in")

// MTProtoClient implements domain.Client using gotd/td
type MTProtoClient struct {
	accountID int64
	apiID     int
	apiHash   string

	sessions *SessionStorage
	state    *UpdatesStateStorage
	limiter  *rate.Limiter
	files    *downloader.Downloader
	peers    *peerCache
	handlers *handlerSet
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu            sync.RWMutex
	client        *telegram.Client
	api           *tg.Client
	connected     bool
	disconnecting bool
	cancelFunc    context.CancelFunc
	runDone       chan struct{}
}

// ClientConfig holds configuration for MTProtoClient
type ClientConfig struct {
	AccountID   int64
	PhoneNumber string
	APIID       int
	APIHash     string
	RateLimit   float64
	RateBurst   int
	DB          *gorm.DB
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// maskPhoneNumber masks phone number for logging (keeps first 2 and last 2 digits)
func maskPhoneNumber(phone string) string {
	if len(phone) < 4 {
		return "***"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}

// NewMTProtoClient creates a new MTProto client instance
func NewMTProtoClient(cfg ClientConfig) (*MTProtoClient, error) {
	if cfg.APIID == 0 {
		return nil, fmt.Errorf("APIID is required")
	}
	if cfg.APIHash == "" {
		return nil, fmt.Errorf("APIHash is required")
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	logger := cfg.Logger.With().
		Str("component", "mtproto_client").
		Int64("account_id", cfg.AccountID).
		Str("phone", maskPhoneNumber(cfg.PhoneNumber)).
		Logger()
	peers := newPeerCache()

	return &MTProtoClient{
		accountID: cfg.AccountID,
		apiID:     cfg.APIID,
		apiHash:   cfg.APIHash,
		sessions:  NewSessionStorage(cfg.DB, cfg.AccountID),
		state:     NewUpdatesStateStorage(cfg.DB, cfg.Logger),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		files:     downloader.NewDownloader(),
		peers:     peers,
		handlers:  newHandlerSet(peers, logger),
		metrics:   cfg.Metrics,
		logger:    logger,
	}, nil
}

// AccountID returns the database id of the account
func (c *MTProtoClient) AccountID() int64 {
	return c.accountID
}

// Connect connects with the stored session and blocks until updates are flowing.
// An account without a valid session fails with a KindUnauthorized error; logging
// in is an operator action. The connection outlives ctx, which only bounds the wait.
func (c *MTProtoClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already connected")
		return nil
	}
	if c.disconnecting {
		c.mu.Unlock()
		return domain.NewUpstreamError(domain.KindDisconnected, errors.New("disconnect in progress"))
	}
	// Keep the lock to prevent concurrent connection attempts
	defer c.mu.Unlock()

	c.logger.Info().Msg("connecting to Telegram")
	if c.cancelFunc != nil {
		// leftover of a connection that dropped on its own
		c.cancelFunc()
		c.cancelFunc = nil
	}

	dispatcher := tg.NewUpdateDispatcher()
	c.handlers.install(dispatcher)
	gaps := updates.New(updates.Config{
		Handler:      dispatcher,
		Storage:      c.state,
		AccessHasher: c.state,
	})

	client := telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		SessionStorage: c.sessions,
		UpdateHandler:  gaps,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	errChan := make(chan error, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to check auth status: %w", err)
			}
			if !status.Authorized || status.User == nil {
				return domain.NewUpstreamError(domain.KindUnauthorized, errNotLoggedIn)
			}

			return gaps.Run(ctx, client.API(), status.User.ID, updates.AuthOptions{
				OnStart: func(ctx context.Context) {
					close(ready)
				},
			})
		})
		errChan <- err
		c.stopped(runDone, err)
	}()

	select {
	case <-ready:
		c.client = client
		c.api = client.API()
		c.cancelFunc = cancel
		c.runDone = runDone
		c.connected = true
		c.logger.Info().Msg("successfully connected to Telegram")
		return nil
	case err := <-errChan:
		cancel()
		if err == nil {
			err = errors.New("client stopped before it was ready")
		}
		return fmt.Errorf("failed to connect: %w", ClassifyError(err))
	case <-ctx.Done():
		cancel()
		return domain.NewUpstreamError(domain.KindTimeout, ctx.Err())
	}
}

// stopped clears the connection state when the run loop of the current
// connection exits on its own
func (c *MTProtoClient) stopped(runDone chan struct{}, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runDone != runDone || c.disconnecting {
		return
	}
	c.connected = false
	c.client = nil
	c.api = nil
	c.logger.Warn().Err(err).Msg("connection to Telegram lost")
}

// Disconnect disconnects from Telegram with graceful shutdown.
// Multiple calls to Disconnect() are safe and will return nil if already disconnected.
func (c *MTProtoClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.disconnecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("disconnect already in progress")
		return nil
	}
	if c.cancelFunc == nil {
		c.mu.Unlock()
		c.logger.Debug().Msg("already disconnected")
		return nil
	}

	c.logger.Info().Msg("disconnecting from Telegram")

	c.disconnecting = true
	cancelFunc := c.cancelFunc
	runDone := c.runDone
	c.mu.Unlock()

	cancelFunc()
	select {
	case <-runDone:
		c.logger.Debug().Msg("client stopped gracefully")
	case <-ctx.Done():
		c.logger.Warn().Msg("disconnect timeout reached while waiting for client shutdown")
	}

	c.mu.Lock()
	c.client = nil
	c.api = nil
	c.connected = false
	c.cancelFunc = nil
	c.runDone = nil
	c.disconnecting = false
	c.mu.Unlock()

	c.logger.Info().Msg("successfully disconnected from Telegram")
	return nil
}

// IsConnected checks if client is connected to Telegram
func (c *MTProtoClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// IsAuthorized asks the server whether the session is still valid
func (c *MTProtoClient) IsAuthorized(ctx context.Context) (bool, error) {
	c.mu.RLock()
	client, connected := c.client, c.connected
	c.mu.RUnlock()
	if !connected || client == nil {
		return false, domain.NewUpstreamError(domain.KindDisconnected, domain.ErrNotConnected)
	}

	status, err := client.Auth().Status(ctx)
	c.record("auth.status", err)
	if err != nil {
		return false, ClassifyError(err)
	}
	return status.Authorized, nil
}

// Subscribe registers a handler for pushed message updates
func (c *MTProtoClient) Subscribe(handler domain.UpdateHandler) func() {
	return c.handlers.add(handler)
}

// call returns the API once the rate limiter admits the request
func (c *MTProtoClient) call(ctx context.Context) (*tg.Client, error) {
	c.mu.RLock()
	api, connected := c.api, c.connected
	c.mu.RUnlock()
	if !connected || api == nil {
		return nil, domain.NewUpstreamError(domain.KindDisconnected, domain.ErrNotConnected)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return api, nil
}

func (c *MTProtoClient) record(method string, err error) {
	result := "ok"
	if err != nil {
		result = domain.KindOf(ClassifyError(err)).String()
	}
	c.metrics.RecordUpstreamRequest(method, result)
}

// GetHistory returns one page of messages older than req.OffsetID
func (c *MTProtoClient) GetHistory(ctx context.Context, peer domain.Peer, req domain.HistoryRequest) ([]domain.RawMessage, error) {
	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     inputPeer(peer),
		OffsetID: int(req.OffsetID),
		Limit:    req.Limit,
	})
	c.record("messages.getHistory", err)
	if err != nil {
		return nil, ClassifyError(err)
	}

	page, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	c.peers.remember(page.GetUsers(), page.GetChats())

	users := usersByID(page.GetUsers())
	out := make([]domain.RawMessage, 0, len(page.GetMessages()))
	for _, m := range page.GetMessages() {
		if msg, ok := messageFromTG(m, users); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// GetParticipants returns one page of members. Supergroups page on the server;
// basic groups return every member at once and are paged here.
func (c *MTProtoClient) GetParticipants(ctx context.Context, peer domain.Peer, offset, limit int) ([]domain.RawUser, error) {
	if !peer.HasMembers() {
		return nil, domain.ErrNoMemberList
	}

	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	var users []tg.UserClass
	if peer.Type == domain.PeerChat {
		full, err := api.MessagesGetFullChat(ctx, peer.ID)
		c.record("messages.getFullChat", err)
		if err != nil {
			return nil, ClassifyError(err)
		}
		c.peers.remember(full.Users, full.Chats)
		if offset >= len(full.Users) {
			return nil, nil
		}
		users = full.Users[offset:min(offset+limit, len(full.Users))]
	} else {
		res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: inputChannel(peer),
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   limit,
		})
		c.record("channels.getParticipants", err)
		if err != nil {
			return nil, ClassifyError(err)
		}
		parts, ok := res.(*tg.ChannelsChannelParticipants)
		if !ok {
			return nil, nil
		}
		c.peers.remember(parts.Users, parts.Chats)
		users = parts.Users
	}

	out := make([]domain.RawUser, 0, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			out = append(out, userFromTG(user))
		}
	}
	return out, nil
}

// GetFullUser returns the extended profile of a user
func (c *MTProtoClient) GetFullUser(ctx context.Context, peer domain.Peer) (*domain.UserProfile, error) {
	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	full, err := api.UsersGetFullUser(ctx, inputUser(peer))
	c.record("users.getFullUser", err)
	if err != nil {
		return nil, ClassifyError(err)
	}
	c.peers.remember(full.Users, full.Chats)

	profile := &domain.UserProfile{
		User:        domain.RawUser{ID: peer.ID, AccessHash: peer.AccessHash},
		Bio:         full.FullUser.About,
		CommonChats: full.FullUser.CommonChatsCount,
		HasStories:  full.FullUser.StoriesPinnedAvailable,
	}
	if u, ok := usersByID(full.Users)[peer.ID]; ok {
		profile.User = userFromTG(u)
	}
	return profile, nil
}

// GetUserPhotos lists profile photos, newest first
func (c *MTProtoClient) GetUserPhotos(ctx context.Context, peer domain.Peer, limit int) ([]domain.Photo, error) {
	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	res, err := api.PhotosGetUserPhotos(ctx, &tg.PhotosGetUserPhotosRequest{
		UserID: inputUser(peer),
		Limit:  limit,
	})
	c.record("photos.getUserPhotos", err)
	if err != nil {
		return nil, ClassifyError(err)
	}

	var photos []tg.PhotoClass
	switch r := res.(type) {
	case *tg.PhotosPhotos:
		photos = r.Photos
	case *tg.PhotosPhotosSlice:
		photos = r.Photos
	}

	out := make([]domain.Photo, 0, len(photos))
	for _, p := range photos {
		if photo, ok := photoFromTG(p); ok {
			out = append(out, photo)
		}
	}
	return out, nil
}

// DownloadMedia stores a message attachment at path
func (c *MTProtoClient) DownloadMedia(ctx context.Context, media domain.MediaRef, path string) error {
	var loc tg.InputFileLocationClass
	if media.Kind == domain.MediaPhoto {
		loc = &tg.InputPhotoFileLocation{
			ID:            media.FileID,
			AccessHash:    media.AccessHash,
			FileReference: media.FileReference,
			ThumbSize:     media.ThumbSize,
		}
	} else {
		loc = &tg.InputDocumentFileLocation{
			ID:            media.FileID,
			AccessHash:    media.AccessHash,
			FileReference: media.FileReference,
		}
	}
	return c.download(ctx, loc, path)
}

// DownloadPhoto stores a profile photo at path
func (c *MTProtoClient) DownloadPhoto(ctx context.Context, photo domain.Photo, path string) error {
	return c.download(ctx, &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     photo.ThumbSize,
	}, path)
}

func (c *MTProtoClient) download(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
	api, err := c.call(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = c.files.Download(api, loc).ToPath(ctx, path)
	c.record("upload.getFile", err)
	if err != nil {
		return ClassifyError(err)
	}
	c.logger.Debug().Str("path", path).Dur("elapsed", time.Since(start)).Msg("file downloaded")
	return nil
}

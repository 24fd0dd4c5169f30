// Package clienttest provides a scriptable domain.Client for tests.
package clienttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Conte777/tgvault/internal/domain"
)

// Client is a domain.Client whose behaviour is set through func fields.
// Nil funcs return zero values.
type Client struct {
	ID int64

	ConnectFn        func(ctx context.Context) error
	IsAuthorizedFn   func(ctx context.Context) (bool, error)
	ResolvePeerFn    func(ctx context.Context, id int64, hints domain.PeerHints) (*domain.Peer, error)
	ResolveUserFn    func(ctx context.Context, username string) (*domain.Peer, error)
	ResolvePhoneFn   func(ctx context.Context, phone string) (*domain.Peer, error)
	RefreshDialogsFn func(ctx context.Context) error
	GetHistoryFn     func(ctx context.Context, peer domain.Peer, req domain.HistoryRequest) ([]domain.RawMessage, error)
	ParticipantsFn   func(ctx context.Context, peer domain.Peer, offset, limit int) ([]domain.RawUser, error)
	GetFullUserFn    func(ctx context.Context, peer domain.Peer) (*domain.UserProfile, error)
	GetPhotosFn      func(ctx context.Context, peer domain.Peer, limit int) ([]domain.Photo, error)
	DownloadMediaFn  func(ctx context.Context, media domain.MediaRef, path string) error
	DownloadPhotoFn  func(ctx context.Context, photo domain.Photo, path string) error

	connected   atomic.Bool
	connects    atomic.Int32
	disconnects atomic.Int32

	mu       sync.Mutex
	handlers map[int]domain.UpdateHandler
	nextID   int
}

// New returns a connected fake for accountID
func New(accountID int64) *Client {
	c := &Client{ID: accountID}
	c.connected.Store(true)
	return c
}

func (c *Client) AccountID() int64 { return c.ID }

func (c *Client) Connect(ctx context.Context) error {
	c.connects.Add(1)
	if c.ConnectFn != nil {
		if err := c.ConnectFn(ctx); err != nil {
			return err
		}
	}
	c.connected.Store(true)
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.disconnects.Add(1)
	c.connected.Store(false)
	return nil
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// SetConnected flips the connected flag without counting a connect
func (c *Client) SetConnected(v bool) { c.connected.Store(v) }

// Connects is the number of Connect calls
func (c *Client) Connects() int { return int(c.connects.Load()) }

// Disconnects is the number of Disconnect calls
func (c *Client) Disconnects() int { return int(c.disconnects.Load()) }

func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	if c.IsAuthorizedFn != nil {
		return c.IsAuthorizedFn(ctx)
	}
	return true, nil
}

func (c *Client) ResolvePeer(ctx context.Context, id int64, hints domain.PeerHints) (*domain.Peer, error) {
	if c.ResolvePeerFn != nil {
		return c.ResolvePeerFn(ctx, id, hints)
	}
	return &domain.Peer{ID: id, AccessHash: hints.AccessHash, Type: domain.PeerUser}, nil
}

func (c *Client) ResolveUsername(ctx context.Context, username string) (*domain.Peer, error) {
	if c.ResolveUserFn != nil {
		return c.ResolveUserFn(ctx, username)
	}
	return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, nil)
}

func (c *Client) ResolvePhone(ctx context.Context, phone string) (*domain.Peer, error) {
	if c.ResolvePhoneFn != nil {
		return c.ResolvePhoneFn(ctx, phone)
	}
	return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, nil)
}

func (c *Client) RefreshDialogs(ctx context.Context) error {
	if c.RefreshDialogsFn != nil {
		return c.RefreshDialogsFn(ctx)
	}
	return nil
}

func (c *Client) GetHistory(ctx context.Context, peer domain.Peer, req domain.HistoryRequest) ([]domain.RawMessage, error) {
	if c.GetHistoryFn != nil {
		return c.GetHistoryFn(ctx, peer, req)
	}
	return nil, nil
}

func (c *Client) GetParticipants(ctx context.Context, peer domain.Peer, offset, limit int) ([]domain.RawUser, error) {
	if c.ParticipantsFn != nil {
		return c.ParticipantsFn(ctx, peer, offset, limit)
	}
	return nil, nil
}

func (c *Client) GetFullUser(ctx context.Context, peer domain.Peer) (*domain.UserProfile, error) {
	if c.GetFullUserFn != nil {
		return c.GetFullUserFn(ctx, peer)
	}
	return &domain.UserProfile{User: domain.RawUser{ID: peer.ID, AccessHash: peer.AccessHash}}, nil
}

func (c *Client) GetUserPhotos(ctx context.Context, peer domain.Peer, limit int) ([]domain.Photo, error) {
	if c.GetPhotosFn != nil {
		return c.GetPhotosFn(ctx, peer, limit)
	}
	return nil, nil
}

func (c *Client) DownloadMedia(ctx context.Context, media domain.MediaRef, path string) error {
	if c.DownloadMediaFn != nil {
		return c.DownloadMediaFn(ctx, media, path)
	}
	return nil
}

func (c *Client) DownloadPhoto(ctx context.Context, photo domain.Photo, path string) error {
	if c.DownloadPhotoFn != nil {
		return c.DownloadPhotoFn(ctx, photo, path)
	}
	return nil
}

func (c *Client) Subscribe(handler domain.UpdateHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handlers == nil {
		c.handlers = make(map[int]domain.UpdateHandler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Subscribers is the number of registered update handlers
func (c *Client) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *Client) snapshot() []domain.UpdateHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.UpdateHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		out = append(out, h)
	}
	return out
}

// EmitNew delivers a new message to every subscriber
func (c *Client) EmitNew(ctx context.Context, msg domain.RawMessage) {
	for _, h := range c.snapshot() {
		h.OnNewMessage(ctx, msg)
	}
}

// EmitEdit delivers an edited message to every subscriber
func (c *Client) EmitEdit(ctx context.Context, msg domain.RawMessage) {
	for _, h := range c.snapshot() {
		h.OnEditMessage(ctx, msg)
	}
}

// EmitDelete delivers a deletion to every subscriber
func (c *Client) EmitDelete(ctx context.Context, channelID int64, ids []int64) {
	for _, h := range c.snapshot() {
		h.OnDeleteMessages(ctx, channelID, ids)
	}
}

var _ domain.Client = (*Client)(nil)

package domain

import "context"

// Client defines the upstream operations the pipeline needs from one account connection
type Client interface {
	// AccountID returns the database id of the account behind this connection
	AccountID() int64

	// Connect connects and blocks until the session is ready or fails
	Connect(ctx context.Context) error

	// Disconnect disconnects from Telegram
	// The context controls the timeout for graceful shutdown
	Disconnect(ctx context.Context) error

	// IsConnected checks if client is connected
	IsConnected() bool

	// IsAuthorized asks the server whether the session is still authorized
	IsAuthorized(ctx context.Context) (bool, error)

	// ResolvePeer resolves a peer by id using cached or hinted access hashes
	ResolvePeer(ctx context.Context, id int64, hints PeerHints) (*Peer, error)

	// ResolveUsername resolves a public username
	ResolveUsername(ctx context.Context, username string) (*Peer, error)

	// ResolvePhone resolves a user through a phone number
	ResolvePhone(ctx context.Context, phone string) (*Peer, error)

	// RefreshDialogs reloads the dialog list so that access hashes get cached
	RefreshDialogs(ctx context.Context) error

	// GetHistory returns one page of messages in descending id order
	GetHistory(ctx context.Context, peer Peer, req HistoryRequest) ([]RawMessage, error)

	// GetParticipants returns one page of group members
	GetParticipants(ctx context.Context, peer Peer, offset, limit int) ([]RawUser, error)

	// GetFullUser returns the extended profile of a user
	GetFullUser(ctx context.Context, peer Peer) (*UserProfile, error)

	// GetUserPhotos lists the profile photos of a user, newest first
	GetUserPhotos(ctx context.Context, peer Peer, limit int) ([]Photo, error)

	// DownloadMedia stores an attachment at path
	DownloadMedia(ctx context.Context, media MediaRef, path string) error

	// DownloadPhoto stores a profile photo at path
	DownloadPhoto(ctx context.Context, photo Photo, path string) error

	// Subscribe registers an update handler and returns a function removing it
	Subscribe(handler UpdateHandler) (unsubscribe func())
}

// UpdateHandler receives live message events from a client
type UpdateHandler interface {
	OnNewMessage(ctx context.Context, msg RawMessage)
	OnEditMessage(ctx context.Context, msg RawMessage)
	OnDeleteMessages(ctx context.Context, channelID int64, ids []int64)
}

// MediaStore archives downloaded files outside the local disk
type MediaStore interface {
	// Upload stores a local file under key and returns its public URL
	Upload(ctx context.Context, key, path, contentType string) (string, error)
}

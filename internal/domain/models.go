package domain

import "time"

// PeerType distinguishes users, broadcast/supergroup channels and basic groups
type PeerType string

const (
	PeerUser    PeerType = "user"
	PeerChannel PeerType = "channel"
	PeerChat    PeerType = "chat"
)

// Peer is a resolved, usable upstream reference
type Peer struct {
	ID         int64
	AccessHash int64
	Type       PeerType
	Username   string
	Title      string
	// Megagroup is true for supergroups, false for broadcast channels
	Megagroup bool
}

// HasMembers reports whether the peer exposes a member list
func (p Peer) HasMembers() bool {
	return p.Type == PeerChat || (p.Type == PeerChannel && p.Megagroup)
}

// PeerHints are stored facts that let the resolver try alternative strategies
type PeerHints struct {
	// Type narrows direct lookups; empty tries the cache, then users, then channels
	Type       PeerType
	AccessHash int64
	Username   string
	Phone      string
}

// RawUser is an upstream user converted at the adapter boundary
type RawUser struct {
	ID         int64
	AccessHash int64
	Username   string
	FirstName  string
	LastName   string
	Phone      string
	Bot        bool
	Premium    bool
	Verified   bool
	Scam       bool
	Fake       bool
	Restricted bool
	Deleted    bool
	PhotoID    int64
	LastSeen   *time.Time
}

// MediaKind is the normalized attachment type
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaSticker   MediaKind = "sticker"
	MediaAnimation MediaKind = "animation"
)

// MediaRef locates a downloadable attachment
type MediaRef struct {
	Kind          MediaKind
	FileID        int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string
	DCID          int
	FileName      string
	MimeType      string
	Size          int64
	Width         int
	Height        int
	Duration      int
}

// RawMessage is an upstream message converted at the adapter boundary
type RawMessage struct {
	ID              int64
	ChannelID       int64
	Date            time.Time
	EditDate        *time.Time
	Text            string
	Type            string
	SenderID        int64
	Sender          *RawUser
	Views           int
	Forwards        int
	Reactions       int
	ReplyToID       int64
	ForwardFromID   int64
	ForwardFromName string
	GroupedID       int64
	Pinned          bool
	Media           *MediaRef
}

// Photo is a profile photo reference
type Photo struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string
	DCID          int
	Date          time.Time
}

// UserProfile is the extended data returned by a full-user lookup
type UserProfile struct {
	User        RawUser
	Bio         string
	CommonChats int
	HasStories  bool
}

// HistoryRequest selects one page of messages older than OffsetID
type HistoryRequest struct {
	// OffsetID of zero starts from the newest message
	OffsetID int64
	Limit    int
}

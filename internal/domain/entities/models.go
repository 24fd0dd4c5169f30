package entities

import "time"

// Account status values persisted in accounts.status
const (
	AccountStatusDisconnected = "disconnected"
	AccountStatusConnected    = "connected"
	AccountStatusFloodWait    = "flood_wait"
	AccountStatusBanned       = "banned"
	AccountStatusAuthRequired = "auth_required"
)

// Channel monitoring status values
const (
	ChannelStatusActive      = "active"
	ChannelStatusPaused      = "paused"
	ChannelStatusBackfilling = "backfilling"
	ChannelStatusError       = "error"
)

// Channel types
const (
	ChannelTypeBroadcast = "channel"
	ChannelTypeMegagroup = "megagroup"
	ChannelTypeGroup     = "group"
)

// Media download states
const (
	MediaStatusPending    = "pending"
	MediaStatusDownloaded = "downloaded"
	MediaStatusFailed     = "failed"
	MediaStatusSkipped    = "skipped"
)

// Account represents an authenticated upstream identity
type Account struct {
	ID              int64      `gorm:"primaryKey"`
	PhoneNumber     string     `gorm:"uniqueIndex;not null;size:32"`
	Status          string     `gorm:"not null;default:'disconnected';size:32"`
	IsActive        bool       `gorm:"not null;default:true;index"`
	IsBackup        bool       `gorm:"not null;default:false"`
	ErrorCount      int        `gorm:"not null;default:0"`
	FloodWaitCount  int        `gorm:"not null;default:0"`
	LastError       *string    `gorm:"type:text"`
	LastActivityAt  *time.Time `gorm:""`
	LastConnectedAt *time.Time `gorm:""`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// Session holds the serialized MTProto session of an account
type Session struct {
	ID          int64     `gorm:"primaryKey"`
	AccountID   int64     `gorm:"uniqueIndex;not null"`
	SessionData []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Session
func (Session) TableName() string {
	return "sessions"
}

// MonitoredChannel is a group or channel under surveillance
type MonitoredChannel struct {
	ID                   int64      `gorm:"primaryKey"`
	TelegramID           int64      `gorm:"uniqueIndex;not null"`
	AccessHash           int64      `gorm:"not null;default:0"`
	Username             *string    `gorm:"size:255"`
	Title                string     `gorm:"size:255;default:''"`
	Type                 string     `gorm:"not null;default:'channel';size:32"`
	AccountID            *int64     `gorm:"index"`
	Status               string     `gorm:"not null;default:'active';size:32;index"`
	IsMonitoring         bool       `gorm:"not null;default:false"`
	BackfillDone         bool       `gorm:"not null;default:false"`
	BackfillInProgress   bool       `gorm:"not null;default:false"`
	BackfillOffsetID     int64      `gorm:"not null;default:0"`
	BackfillMessageCount int64      `gorm:"not null;default:0"`
	LastMessageID        int64      `gorm:"not null;default:0"`
	MessageCount         int64      `gorm:"not null;default:0"`
	MemberCount          int        `gorm:"not null;default:0"`
	LastError            *string    `gorm:"type:text"`
	LastActivityAt       *time.Time `gorm:""`
	CreatedAt            time.Time  `gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for MonitoredChannel
func (MonitoredChannel) TableName() string {
	return "monitored_channels"
}

// IsGroup reports whether the channel has an enumerable member list
func (c *MonitoredChannel) IsGroup() bool {
	return c.Type == ChannelTypeMegagroup || c.Type == ChannelTypeGroup
}

// User is an upstream participant, unique by TelegramID
type User struct {
	ID               int64      `gorm:"primaryKey"`
	TelegramID       int64      `gorm:"uniqueIndex;not null"`
	AccessHash       *int64     `gorm:""`
	Username         *string    `gorm:"size:64;index"`
	FirstName        *string    `gorm:"size:255"`
	LastName         *string    `gorm:"size:255"`
	Phone            *string    `gorm:"size:32"`
	Bio              *string    `gorm:"type:text"`
	IsBot            bool       `gorm:"not null;default:false"`
	IsPremium        bool       `gorm:"not null;default:false"`
	IsVerified       bool       `gorm:"not null;default:false"`
	IsScam           bool       `gorm:"not null;default:false"`
	IsFake           bool       `gorm:"not null;default:false"`
	IsRestricted     bool       `gorm:"not null;default:false"`
	IsDeleted        bool       `gorm:"not null;default:false"`
	HasStories       bool       `gorm:"not null;default:false"`
	IsWatchlist      bool       `gorm:"not null;default:false"`
	IsFavorite       bool       `gorm:"not null;default:false"`
	MessagesCount    int64      `gorm:"not null;default:0"`
	GroupsCount      int        `gorm:"not null;default:0"`
	MediaCount       int64      `gorm:"not null;default:0"`
	CurrentPhotoID   *int64     `gorm:""`
	CurrentPhotoPath *string    `gorm:"size:512"`
	LastSeenAt       *time.Time `gorm:""`
	LastEnrichedAt   *time.Time `gorm:"index"`
	LastUpdatedAt    time.Time  `gorm:"not null"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// Message is one ingested message, unique by (MessageID, ChannelID)
type Message struct {
	ID               int64      `gorm:"primaryKey"`
	MessageID        int64      `gorm:"not null;uniqueIndex:uq_messages_message_channel"`
	ChannelID        int64      `gorm:"not null;uniqueIndex:uq_messages_message_channel;index"`
	SenderID         *int64     `gorm:"index"`
	Text             *string    `gorm:"type:text"`
	MessageType      string     `gorm:"not null;default:'text';size:32"`
	Date             time.Time  `gorm:"not null"`
	EditDate         *time.Time `gorm:""`
	Views            int        `gorm:"not null;default:0"`
	Forwards         int        `gorm:"not null;default:0"`
	Reactions        int        `gorm:"not null;default:0"`
	ReplyToMessageID *int64     `gorm:""`
	ForwardFromID    *int64     `gorm:""`
	ForwardFromName  *string    `gorm:"size:255"`
	GroupedID        *int64     `gorm:"index"`
	HasMedia         bool       `gorm:"not null;default:false"`
	IsPinned         bool       `gorm:"not null;default:false"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// MediaFile is attachment metadata, one per message
type MediaFile struct {
	ID                int64     `gorm:"primaryKey"`
	MessageID         int64     `gorm:"uniqueIndex;not null"`
	MediaType         string    `gorm:"not null;size:32"`
	FileID            *int64    `gorm:""`
	FileName          *string   `gorm:"size:255"`
	MimeType          *string   `gorm:"size:128"`
	FileSize          *int64    `gorm:""`
	Width             *int      `gorm:""`
	Height            *int      `gorm:""`
	Duration          *int      `gorm:""`
	LocalPath         *string   `gorm:"size:512"`
	StorageURL        *string   `gorm:"size:1024"`
	GroupedID         *int64    `gorm:"index"`
	DownloadStatus    string    `gorm:"not null;default:'pending';size:32;index"`
	DownloadAttempts  int       `gorm:"not null;default:0"`
	LastErrorCategory *string   `gorm:"size:64"`
	LastUpdatedAt     time.Time `gorm:"not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for MediaFile
func (MediaFile) TableName() string {
	return "media_files"
}

// Detection is one sensitive pattern found in a message
type Detection struct {
	ID        int64     `gorm:"primaryKey"`
	MessageID int64     `gorm:"not null;uniqueIndex:uq_detections_message_kind_value"`
	Kind      string    `gorm:"not null;size:32;uniqueIndex:uq_detections_message_kind_value;index"`
	Value     string    `gorm:"not null;size:512;uniqueIndex:uq_detections_message_kind_value"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for Detection
func (Detection) TableName() string {
	return "detections"
}

// UpdatesState is the common update sequence of one logged in user
type UpdatesState struct {
	UserID int64 `gorm:"primaryKey;autoIncrement:false"`
	Pts    int   `gorm:"not null;default:0"`
	Qts    int   `gorm:"not null;default:0"`
	Date   int   `gorm:"not null;default:0"`
	Seq    int   `gorm:"not null;default:0"`
}

// TableName returns the table name for UpdatesState
func (UpdatesState) TableName() string {
	return "telegram_updates_state"
}

// ChannelState is the per-channel update sequence of one logged in user
type ChannelState struct {
	UserID     int64 `gorm:"primaryKey;autoIncrement:false"`
	ChannelID  int64 `gorm:"primaryKey;autoIncrement:false"`
	Pts        int   `gorm:"not null;default:0"`
	AccessHash int64 `gorm:"not null;default:0"`
}

// TableName returns the table name for ChannelState
func (ChannelState) TableName() string {
	return "telegram_channel_state"
}

// All lists every model, in dependency order, for auto migration
func All() []any {
	return []any{
		&Account{},
		&Session{},
		&MonitoredChannel{},
		&User{},
		&Message{},
		&MediaFile{},
		&Detection{},
		&UpdatesState{},
		&ChannelState{},
	}
}

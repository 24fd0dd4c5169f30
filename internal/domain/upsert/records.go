package upsert

import (
	"time"

	"github.com/Conte777/tgvault/internal/domain/entities"
)

// UserRecord is a user payload keyed by TelegramID. Nil fields were not
// observed and leave the stored value untouched.
type UserRecord struct {
	TelegramID       int64      `validate:"required,gt=0"`
	AccessHash       *int64     `validate:"omitempty"`
	Username         *string    `validate:"omitempty,max=64"`
	FirstName        *string    `validate:"omitempty,max=255"`
	LastName         *string    `validate:"omitempty,max=255"`
	Phone            *string    `validate:"omitempty,max=32"`
	Bio              *string    `validate:"omitempty,max=4096"`
	IsBot            *bool      `validate:"omitempty"`
	IsPremium        *bool      `validate:"omitempty"`
	IsVerified       *bool      `validate:"omitempty"`
	IsScam           *bool      `validate:"omitempty"`
	IsFake           *bool      `validate:"omitempty"`
	IsRestricted     *bool      `validate:"omitempty"`
	IsDeleted        *bool      `validate:"omitempty"`
	HasStories       *bool      `validate:"omitempty"`
	CurrentPhotoID   *int64     `validate:"omitempty"`
	CurrentPhotoPath *string    `validate:"omitempty,max=512"`
	LastSeenAt       *time.Time `validate:"omitempty"`
	LastEnrichedAt   *time.Time `validate:"omitempty"`
}

// columns returns the entity for insertion and the names of supplied columns
func (r UserRecord) columns(now time.Time) (entities.User, []string) {
	u := entities.User{
		TelegramID:    r.TelegramID,
		LastUpdatedAt: now,
	}
	var cols []string

	setPtr(&u.AccessHash, r.AccessHash, "access_hash", &cols)
	setPtr(&u.Username, r.Username, "username", &cols)
	setPtr(&u.FirstName, r.FirstName, "first_name", &cols)
	setPtr(&u.LastName, r.LastName, "last_name", &cols)
	setPtr(&u.Phone, r.Phone, "phone", &cols)
	setPtr(&u.Bio, r.Bio, "bio", &cols)
	setBool(&u.IsBot, r.IsBot, "is_bot", &cols)
	setBool(&u.IsPremium, r.IsPremium, "is_premium", &cols)
	setBool(&u.IsVerified, r.IsVerified, "is_verified", &cols)
	setBool(&u.IsScam, r.IsScam, "is_scam", &cols)
	setBool(&u.IsFake, r.IsFake, "is_fake", &cols)
	setBool(&u.IsRestricted, r.IsRestricted, "is_restricted", &cols)
	setBool(&u.IsDeleted, r.IsDeleted, "is_deleted", &cols)
	setBool(&u.HasStories, r.HasStories, "has_stories", &cols)
	setPtr(&u.CurrentPhotoID, r.CurrentPhotoID, "current_photo_id", &cols)
	setPtr(&u.CurrentPhotoPath, r.CurrentPhotoPath, "current_photo_path", &cols)
	setPtr(&u.LastSeenAt, r.LastSeenAt, "last_seen_at", &cols)
	setPtr(&u.LastEnrichedAt, r.LastEnrichedAt, "last_enriched_at", &cols)

	return u, append(cols, "last_updated_at", "updated_at")
}

// MessageRecord is a message payload keyed by (MessageID, ChannelID)
type MessageRecord struct {
	MessageID        int64      `validate:"required,gt=0"`
	ChannelID        int64      `validate:"required,gt=0"`
	SenderID         *int64     `validate:"omitempty,gt=0"`
	Text             *string    `validate:"omitempty,max=16384"`
	MessageType      string     `validate:"required,max=32"`
	Date             time.Time  `validate:"required"`
	EditDate         *time.Time `validate:"omitempty"`
	Views            int        `validate:"gte=0"`
	Forwards         int        `validate:"gte=0"`
	Reactions        int        `validate:"gte=0"`
	ReplyToMessageID *int64     `validate:"omitempty,gt=0"`
	ForwardFromID    *int64     `validate:"omitempty"`
	ForwardFromName  *string    `validate:"omitempty,max=255"`
	GroupedID        *int64     `validate:"omitempty"`
	HasMedia         bool
	IsPinned         bool
}

func (r MessageRecord) entity() entities.Message {
	return entities.Message{
		MessageID:        r.MessageID,
		ChannelID:        r.ChannelID,
		SenderID:         r.SenderID,
		Text:             r.Text,
		MessageType:      r.MessageType,
		Date:             r.Date,
		EditDate:         r.EditDate,
		Views:            r.Views,
		Forwards:         r.Forwards,
		Reactions:        r.Reactions,
		ReplyToMessageID: r.ReplyToMessageID,
		ForwardFromID:    r.ForwardFromID,
		ForwardFromName:  r.ForwardFromName,
		GroupedID:        r.GroupedID,
		HasMedia:         r.HasMedia,
		IsPinned:         r.IsPinned,
	}
}

// MediaRecord is attachment metadata keyed by the owning message row id
type MediaRecord struct {
	MessageID         int64   `validate:"required,gt=0"`
	MediaType         string  `validate:"required,max=32"`
	FileID            *int64  `validate:"omitempty"`
	FileName          *string `validate:"omitempty,max=255"`
	MimeType          *string `validate:"omitempty,max=128"`
	FileSize          *int64  `validate:"omitempty,gte=0"`
	Width             *int    `validate:"omitempty,gte=0"`
	Height            *int    `validate:"omitempty,gte=0"`
	Duration          *int    `validate:"omitempty,gte=0"`
	LocalPath         *string `validate:"omitempty,max=512"`
	StorageURL        *string `validate:"omitempty,max=1024"`
	GroupedID         *int64  `validate:"omitempty"`
	DownloadStatus    *string `validate:"omitempty,oneof=pending downloaded failed skipped"`
	LastErrorCategory *string `validate:"omitempty,max=64"`
}

func (r MediaRecord) columns(now time.Time) (entities.MediaFile, []string) {
	m := entities.MediaFile{
		MessageID:      r.MessageID,
		MediaType:      r.MediaType,
		DownloadStatus: entities.MediaStatusPending,
		LastUpdatedAt:  now,
	}
	cols := []string{"media_type"}

	setPtr(&m.FileID, r.FileID, "file_id", &cols)
	setPtr(&m.FileName, r.FileName, "file_name", &cols)
	setPtr(&m.MimeType, r.MimeType, "mime_type", &cols)
	setPtr(&m.FileSize, r.FileSize, "file_size", &cols)
	setPtr(&m.Width, r.Width, "width", &cols)
	setPtr(&m.Height, r.Height, "height", &cols)
	setPtr(&m.Duration, r.Duration, "duration", &cols)
	setPtr(&m.LocalPath, r.LocalPath, "local_path", &cols)
	setPtr(&m.StorageURL, r.StorageURL, "storage_url", &cols)
	setPtr(&m.GroupedID, r.GroupedID, "grouped_id", &cols)
	setPtr(&m.LastErrorCategory, r.LastErrorCategory, "last_error_category", &cols)
	if r.DownloadStatus != nil {
		m.DownloadStatus = *r.DownloadStatus
		cols = append(cols, "download_status")
	}

	return m, append(cols, "last_updated_at", "updated_at")
}

func setPtr[T any](dst **T, src *T, col string, cols *[]string) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
	*cols = append(*cols, col)
}

func setBool(dst *bool, src *bool, col string, cols *[]string) {
	if src == nil {
		return
	}
	*dst = *src
	*cols = append(*cols, col)
}

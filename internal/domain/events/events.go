package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Type names an outbound notification
type Type string

const (
	BackfillStarted       Type = "backfill_started"
	BackfillProgress      Type = "backfill_progress"
	BackfillCompleted     Type = "backfill_completed"
	BackfillCancelled     Type = "backfill_cancelled"
	BackfillFailed        Type = "backfill_failed"
	NewMessage            Type = "new_message"
	MessageEdited         Type = "message_edited"
	MessageDeleted        Type = "message_deleted"
	MemberScrapeStarted   Type = "member_scrape_started"
	MemberScrapeCompleted Type = "member_scrape_completed"
	DetectionFound        Type = "detection_found"
	UserEnriched          Type = "user_enriched"
)

// Event is one structured notification for downstream consumers
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	ChannelID int64          `json:"channel_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with a fresh id and the current time
func New(t Type, channelID int64, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		ChannelID: channelID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Key is the partitioning key relays use to keep per-channel order
func (e Event) Key() string {
	if e.ChannelID != 0 {
		return "channel:" + strconv.FormatInt(e.ChannelID, 10)
	}
	return string(e.Type)
}

// Publisher delivers events to an external transport
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

package ingest

import (
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/upsert"
)

// userRecord keeps only what the upstream actually reported
func userRecord(u domain.RawUser) upsert.UserRecord {
	rec := upsert.UserRecord{
		TelegramID:   u.ID,
		Username:     nonEmpty(u.Username),
		FirstName:    nonEmpty(u.FirstName),
		LastName:     nonEmpty(u.LastName),
		Phone:        nonEmpty(u.Phone),
		IsBot:        &u.Bot,
		IsPremium:    &u.Premium,
		IsVerified:   &u.Verified,
		IsScam:       &u.Scam,
		IsFake:       &u.Fake,
		IsRestricted: &u.Restricted,
		IsDeleted:    &u.Deleted,
		LastSeenAt:   u.LastSeen,
	}
	if u.AccessHash != 0 {
		rec.AccessHash = &u.AccessHash
	}
	if u.PhotoID != 0 {
		rec.CurrentPhotoID = &u.PhotoID
	}
	return rec
}

func messageRecord(m domain.RawMessage, channelRowID int64, senderRowID int64) upsert.MessageRecord {
	rec := upsert.MessageRecord{
		MessageID:   m.ID,
		ChannelID:   channelRowID,
		Text:        nonEmpty(m.Text),
		MessageType: m.Type,
		Date:        m.Date,
		EditDate:    m.EditDate,
		Views:       max(m.Views, 0),
		Forwards:    max(m.Forwards, 0),
		Reactions:   max(m.Reactions, 0),
		HasMedia:    m.Media != nil,
		IsPinned:    m.Pinned,
	}
	if rec.MessageType == "" {
		rec.MessageType = "text"
		if m.Media != nil {
			rec.MessageType = string(m.Media.Kind)
		}
	}
	if senderRowID > 0 {
		rec.SenderID = &senderRowID
	}
	if m.ReplyToID > 0 {
		rec.ReplyToMessageID = &m.ReplyToID
	}
	if m.ForwardFromID != 0 {
		rec.ForwardFromID = &m.ForwardFromID
	}
	rec.ForwardFromName = nonEmpty(m.ForwardFromName)
	if m.GroupedID != 0 {
		rec.GroupedID = &m.GroupedID
	}
	return rec
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package telegram

import (
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/gotd/td/tg"
)

// Message types for content without a downloadable attachment
const (
	messageTypeService  = "service"
	messageTypePoll     = "poll"
	messageTypeLocation = "location"
	messageTypeContact  = "contact"
)

func unixTime(ts int) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

// peerID extracts the bare id of any peer reference
func peerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerChannel:
		return v.ChannelID
	}
	return 0
}

func peerTypeOf(p tg.PeerClass) domain.PeerType {
	switch p.(type) {
	case *tg.PeerUser:
		return domain.PeerUser
	case *tg.PeerChat:
		return domain.PeerChat
	case *tg.PeerChannel:
		return domain.PeerChannel
	}
	return ""
}

func inputPeer(p domain.Peer) tg.InputPeerClass {
	switch p.Type {
	case domain.PeerUser:
		return &tg.InputPeerUser{UserID: p.ID, AccessHash: p.AccessHash}
	case domain.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ID}
	default:
		return &tg.InputPeerChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
	}
}

func inputUser(p domain.Peer) *tg.InputUser {
	return &tg.InputUser{UserID: p.ID, AccessHash: p.AccessHash}
}

func inputChannel(p domain.Peer) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
}

func peerFromUser(u *tg.User) domain.Peer {
	return domain.Peer{
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Type:       domain.PeerUser,
		Username:   usernameOf(u),
		Title:      u.FirstName,
	}
}

func peerFromChannel(c *tg.Channel) domain.Peer {
	username := c.Username
	if username == "" && len(c.Usernames) > 0 {
		username = c.Usernames[0].Username
	}
	return domain.Peer{
		ID:         c.ID,
		AccessHash: c.AccessHash,
		Type:       domain.PeerChannel,
		Username:   username,
		Title:      c.Title,
		Megagroup:  c.Megagroup,
	}
}

func peerFromChat(c *tg.Chat) domain.Peer {
	return domain.Peer{ID: c.ID, Type: domain.PeerChat, Title: c.Title}
}

func usernameOf(u *tg.User) string {
	if u.Username != "" {
		return u.Username
	}
	if len(u.Usernames) > 0 {
		return u.Usernames[0].Username
	}
	return ""
}

// userFromTG converts a full user constructor
func userFromTG(u *tg.User) domain.RawUser {
	raw := domain.RawUser{
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Username:   usernameOf(u),
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		Bot:        u.Bot,
		Premium:    u.Premium,
		Verified:   u.Verified,
		Scam:       u.Scam,
		Fake:       u.Fake,
		Restricted: u.Restricted,
		Deleted:    u.Deleted,
	}
	if photo, ok := u.Photo.(*tg.UserProfilePhoto); ok {
		raw.PhotoID = photo.PhotoID
	}
	if status, ok := u.Status.(*tg.UserStatusOffline); ok {
		seen := unixTime(status.WasOnline)
		raw.LastSeen = &seen
	}
	return raw
}

func usersByID(users []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			out[user.ID] = user
		}
	}
	return out
}

// messageFromTG converts a message; empty messages are reported as not ok
func messageFromTG(m tg.MessageClass, users map[int64]*tg.User) (domain.RawMessage, bool) {
	switch msg := m.(type) {
	case *tg.Message:
		raw := domain.RawMessage{
			ID:        int64(msg.ID),
			ChannelID: peerID(msg.PeerID),
			Date:      unixTime(msg.Date),
			Text:      msg.Message,
			Pinned:    msg.Pinned,
		}
		setSender(&raw, msg.FromID, users)

		if ts, ok := msg.GetEditDate(); ok {
			edited := unixTime(ts)
			raw.EditDate = &edited
		}
		if views, ok := msg.GetViews(); ok {
			raw.Views = views
		}
		if forwards, ok := msg.GetForwards(); ok {
			raw.Forwards = forwards
		}
		if reactions, ok := msg.GetReactions(); ok {
			for _, r := range reactions.Results {
				raw.Reactions += r.Count
			}
		}
		if reply, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok {
			if id, ok := reply.GetReplyToMsgID(); ok {
				raw.ReplyToID = int64(id)
			}
		}
		if fwd, ok := msg.GetFwdFrom(); ok {
			if from, ok := fwd.GetFromID(); ok {
				raw.ForwardFromID = peerID(from)
			}
			if name, ok := fwd.GetFromName(); ok {
				raw.ForwardFromName = name
			}
		}
		if grouped, ok := msg.GetGroupedID(); ok {
			raw.GroupedID = grouped
		}
		raw.Media, raw.Type = mediaFromTG(msg.Media)
		return raw, true

	case *tg.MessageService:
		raw := domain.RawMessage{
			ID:        int64(msg.ID),
			ChannelID: peerID(msg.PeerID),
			Date:      unixTime(msg.Date),
			Type:      messageTypeService,
		}
		setSender(&raw, msg.FromID, users)
		return raw, true
	}
	return domain.RawMessage{}, false
}

func setSender(raw *domain.RawMessage, from tg.PeerClass, users map[int64]*tg.User) {
	sender, ok := from.(*tg.PeerUser)
	if !ok {
		return
	}
	raw.SenderID = sender.UserID
	if u, ok := users[sender.UserID]; ok {
		converted := userFromTG(u)
		raw.Sender = &converted
	}
}

// mediaFromTG returns the downloadable attachment, if any, and the message type
// for attachments that cannot be downloaded. An empty type means plain text.
func mediaFromTG(media tg.MessageMediaClass) (*domain.MediaRef, string) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, ""
		}
		ref := &domain.MediaRef{
			Kind:          domain.MediaPhoto,
			FileID:        photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			DCID:          photo.DCID,
		}
		ref.ThumbSize, ref.Width, ref.Height, ref.Size = largestSize(photo.Sizes)
		return ref, ""

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, ""
		}
		return documentRef(doc), ""

	case *tg.MessageMediaPoll:
		return nil, messageTypePoll
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return nil, messageTypeLocation
	case *tg.MessageMediaContact:
		return nil, messageTypeContact
	}
	return nil, ""
}

func documentRef(doc *tg.Document) *domain.MediaRef {
	ref := &domain.MediaRef{
		Kind:          domain.MediaDocument,
		FileID:        doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
		DCID:          doc.DCID,
		MimeType:      doc.MimeType,
		Size:          doc.Size,
	}

	var video, audio, voice, sticker, animated bool
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			ref.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			video = true
			ref.Width, ref.Height = a.W, a.H
			ref.Duration = int(a.Duration)
		case *tg.DocumentAttributeAudio:
			audio = true
			voice = a.Voice
			ref.Duration = a.Duration
		case *tg.DocumentAttributeImageSize:
			ref.Width, ref.Height = a.W, a.H
		case *tg.DocumentAttributeSticker:
			sticker = true
		case *tg.DocumentAttributeAnimated:
			animated = true
		}
	}

	switch {
	case sticker:
		ref.Kind = domain.MediaSticker
	case animated:
		ref.Kind = domain.MediaAnimation
	case voice:
		ref.Kind = domain.MediaVoice
	case audio:
		ref.Kind = domain.MediaAudio
	case video:
		ref.Kind = domain.MediaVideo
	}
	return ref
}

// largestSize picks the biggest rendition of a photo
func largestSize(sizes []tg.PhotoSizeClass) (thumb string, width, height int, size int64) {
	for _, s := range sizes {
		switch ps := s.(type) {
		case *tg.PhotoSize:
			if ps.W*ps.H >= width*height {
				thumb, width, height, size = ps.Type, ps.W, ps.H, int64(ps.Size)
			}
		case *tg.PhotoSizeProgressive:
			if ps.W*ps.H >= width*height {
				thumb, width, height, size = ps.Type, ps.W, ps.H, 0
				if n := len(ps.Sizes); n > 0 {
					size = int64(ps.Sizes[n-1])
				}
			}
		}
	}
	return thumb, width, height, size
}

func photoFromTG(p tg.PhotoClass) (domain.Photo, bool) {
	photo, ok := p.(*tg.Photo)
	if !ok {
		return domain.Photo{}, false
	}
	thumb, _, _, _ := largestSize(photo.Sizes)
	return domain.Photo{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     thumb,
		DCID:          photo.DCID,
		Date:          unixTime(photo.Date),
	}, true
}

package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/gotd/td/tg"
)

// ResolvePeer returns a usable peer for id. Entities already seen by this
// account are served from memory; otherwise the hinted access hash is verified
// with a direct lookup.
func (c *MTProtoClient) ResolvePeer(ctx context.Context, id int64, hints domain.PeerHints) (*domain.Peer, error) {
	if peer, ok := c.peers.get(id, hints.Type); ok {
		return &peer, nil
	}

	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	switch hints.Type {
	case domain.PeerChat:
		return c.lookupChat(ctx, api, id)
	case domain.PeerChannel:
		return c.lookupChannel(ctx, api, id, hints.AccessHash)
	case domain.PeerUser:
		return c.lookupUser(ctx, api, id, hints.AccessHash)
	}

	if hints.AccessHash == 0 {
		return nil, domain.NewUpstreamError(domain.KindOther,
			fmt.Errorf("%w: no access hash for peer %d", domain.ErrResolutionFailed, id))
	}
	peer, err := c.lookupUser(ctx, api, id, hints.AccessHash)
	if err == nil {
		return peer, nil
	}
	return c.lookupChannel(ctx, api, id, hints.AccessHash)
}

func (c *MTProtoClient) lookupUser(ctx context.Context, api *tg.Client, id, accessHash int64) (*domain.Peer, error) {
	users, err := api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: id, AccessHash: accessHash}})
	c.record("users.getUsers", err)
	if err != nil {
		return nil, ClassifyError(err)
	}
	c.peers.remember(users, nil)

	if user, ok := usersByID(users)[id]; ok {
		peer := peerFromUser(user)
		return &peer, nil
	}
	return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, fmt.Errorf("user %d not found", id))
}

func (c *MTProtoClient) lookupChannel(ctx context.Context, api *tg.Client, id, accessHash int64) (*domain.Peer, error) {
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id, AccessHash: accessHash}})
	c.record("channels.getChannels", err)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return c.pickChat(res.GetChats(), id)
}

func (c *MTProtoClient) lookupChat(ctx context.Context, api *tg.Client, id int64) (*domain.Peer, error) {
	res, err := api.MessagesGetChats(ctx, []int64{id})
	c.record("messages.getChats", err)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return c.pickChat(res.GetChats(), id)
}

func (c *MTProtoClient) pickChat(chats []tg.ChatClass, id int64) (*domain.Peer, error) {
	c.peers.remember(nil, chats)

	for _, ch := range chats {
		switch chat := ch.(type) {
		case *tg.Channel:
			if chat.ID == id {
				peer := peerFromChannel(chat)
				return &peer, nil
			}
		case *tg.Chat:
			if chat.ID == id {
				peer := peerFromChat(chat)
				return &peer, nil
			}
		case *tg.ChannelForbidden:
			if chat.ID == id {
				return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, fmt.Errorf("channel %d is forbidden", id))
			}
		case *tg.ChatForbidden:
			if chat.ID == id {
				return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, fmt.Errorf("chat %d is forbidden", id))
			}
		}
	}
	return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, fmt.Errorf("chat %d not found", id))
}

// ResolveUsername resolves a public username with or without the leading @
func (c *MTProtoClient) ResolveUsername(ctx context.Context, username string) (*domain.Peer, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, fmt.Errorf("empty username"))
	}

	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	c.record("contacts.resolveUsername", err)
	if err != nil {
		c.logger.Debug().Err(err).Str("username", username).Msg("failed to resolve username")
		return nil, ClassifyError(err)
	}
	return c.resolved(resolved)
}

// ResolvePhone resolves a user through a phone number visible to this account
func (c *MTProtoClient) ResolvePhone(ctx context.Context, phone string) (*domain.Peer, error) {
	api, err := c.call(ctx)
	if err != nil {
		return nil, err
	}

	resolved, err := api.ContactsResolvePhone(ctx, phone)
	c.record("contacts.resolvePhone", err)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return c.resolved(resolved)
}

func (c *MTProtoClient) resolved(res *tg.ContactsResolvedPeer) (*domain.Peer, error) {
	c.peers.remember(res.Users, res.Chats)

	id, typ := peerID(res.Peer), peerTypeOf(res.Peer)
	if peer, ok := c.peers.get(id, typ); ok {
		return &peer, nil
	}
	return nil, domain.NewUpstreamError(domain.KindPeerUnavailable, fmt.Errorf("resolved peer %d missing from result", id))
}

// RefreshDialogs walks the dialog list so that every peer the account talks to
// gets its access hash cached
func (c *MTProtoClient) RefreshDialogs(ctx context.Context) error {
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogPageSize,
	}

	for page := 0; page < maxDialogPages; page++ {
		api, err := c.call(ctx)
		if err != nil {
			return err
		}

		res, err := api.MessagesGetDialogs(ctx, req)
		c.record("messages.getDialogs", err)
		if err != nil {
			return ClassifyError(err)
		}

		dialogs, ok := res.AsModified()
		if !ok {
			break
		}
		c.peers.remember(dialogs.GetUsers(), dialogs.GetChats())

		list := dialogs.GetDialogs()
		if _, complete := res.(*tg.MessagesDialogs); complete || len(list) < dialogPageSize {
			break
		}

		last, ok := list[len(list)-1].(*tg.Dialog)
		if !ok {
			break
		}
		lastPeer, ok := c.peers.get(peerID(last.Peer), peerTypeOf(last.Peer))
		if !ok {
			break
		}
		req.OffsetPeer = inputPeer(lastPeer)
		req.OffsetID = last.TopMessage
		req.OffsetDate = topMessageDate(dialogs.GetMessages(), last)
	}

	c.logger.Debug().Int("cached_peers", c.peers.size()).Msg("dialogs refreshed")
	return nil
}

func topMessageDate(messages []tg.MessageClass, d *tg.Dialog) int {
	for _, m := range messages {
		switch msg := m.(type) {
		case *tg.Message:
			if msg.ID == d.TopMessage && peerID(msg.PeerID) == peerID(d.Peer) {
				return msg.Date
			}
		case *tg.MessageService:
			if msg.ID == d.TopMessage && peerID(msg.PeerID) == peerID(d.Peer) {
				return msg.Date
			}
		}
	}
	return 0
}

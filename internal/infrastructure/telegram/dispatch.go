package telegram

import (
	"context"
	"sync"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
)

// handlerSet fans pushed updates out to subscribers. It belongs to the client,
// not to a connection, so subscriptions survive reconnects.
type handlerSet struct {
	peers  *peerCache
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[int]domain.UpdateHandler
	next     int
}

func newHandlerSet(peers *peerCache, logger zerolog.Logger) *handlerSet {
	return &handlerSet{
		peers:    peers,
		logger:   logger,
		handlers: make(map[int]domain.UpdateHandler),
	}
}

func (h *handlerSet) add(handler domain.UpdateHandler) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.handlers[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

func (h *handlerSet) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

func (h *handlerSet) each(fn func(domain.UpdateHandler)) {
	h.mu.RLock()
	handlers := make([]domain.UpdateHandler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		fn(handler)
	}
}

// install registers the message callbacks on a fresh dispatcher
func (h *handlerSet) install(d tg.UpdateDispatcher) {
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		h.newMessage(ctx, e, u.Message)
		return nil
	})
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		h.newMessage(ctx, e, u.Message)
		return nil
	})
	d.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		h.editMessage(ctx, e, u.Message)
		return nil
	})
	d.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		h.editMessage(ctx, e, u.Message)
		return nil
	})
	d.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		ids := make([]int64, len(u.Messages))
		for i, id := range u.Messages {
			ids[i] = int64(id)
		}
		h.each(func(handler domain.UpdateHandler) {
			handler.OnDeleteMessages(ctx, u.ChannelID, ids)
		})
		return nil
	})
}

func (h *handlerSet) newMessage(ctx context.Context, e tg.Entities, m tg.MessageClass) {
	msg, ok := h.convert(e, m)
	if !ok {
		return
	}
	h.each(func(handler domain.UpdateHandler) {
		handler.OnNewMessage(ctx, msg)
	})
}

func (h *handlerSet) editMessage(ctx context.Context, e tg.Entities, m tg.MessageClass) {
	msg, ok := h.convert(e, m)
	if !ok {
		return
	}
	h.each(func(handler domain.UpdateHandler) {
		handler.OnEditMessage(ctx, msg)
	})
}

// convert drops private dialogs, only groups and channels are ingested
func (h *handlerSet) convert(e tg.Entities, m tg.MessageClass) (domain.RawMessage, bool) {
	h.peers.rememberEntities(e)

	msg, ok := messageFromTG(m, e.Users)
	if !ok {
		return domain.RawMessage{}, false
	}
	if base, ok := m.(interface{ GetPeerID() tg.PeerClass }); ok {
		if _, private := base.GetPeerID().(*tg.PeerUser); private {
			return domain.RawMessage{}, false
		}
	}
	h.logger.Debug().
		Int64("chat_id", msg.ChannelID).
		Int64("message_id", msg.ID).
		Msg("Update received")
	return msg, true
}

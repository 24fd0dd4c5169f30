package telegram

import (
	"sync"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/gotd/td/tg"
)

type peerKey struct {
	typ domain.PeerType
	id  int64
}

// peerCache remembers access hashes of every entity the account has seen
type peerCache struct {
	mu    sync.RWMutex
	peers map[peerKey]domain.Peer
}

func newPeerCache() *peerCache {
	return &peerCache{peers: make(map[peerKey]domain.Peer)}
}

func (c *peerCache) put(peers ...domain.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range peers {
		c.peers[peerKey{typ: p.Type, id: p.ID}] = p
	}
}

// get looks the id up under typ, or under every type when typ is empty
func (c *peerCache) get(id int64, typ domain.PeerType) (domain.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if typ != "" {
		p, ok := c.peers[peerKey{typ: typ, id: id}]
		return p, ok
	}
	for _, t := range []domain.PeerType{domain.PeerUser, domain.PeerChannel, domain.PeerChat} {
		if p, ok := c.peers[peerKey{typ: t, id: id}]; ok {
			return p, true
		}
	}
	return domain.Peer{}, false
}

// remember caches users and chats from an RPC result. Min constructors carry
// access hashes that are only valid in the context they arrived in and are skipped.
func (c *peerCache) remember(users []tg.UserClass, chats []tg.ChatClass) {
	peers := make([]domain.Peer, 0, len(users)+len(chats))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok && !user.Min {
			peers = append(peers, peerFromUser(user))
		}
	}
	for _, ch := range chats {
		switch chat := ch.(type) {
		case *tg.Channel:
			if !chat.Min {
				peers = append(peers, peerFromChannel(chat))
			}
		case *tg.Chat:
			peers = append(peers, peerFromChat(chat))
		}
	}
	c.put(peers...)
}

// rememberEntities caches the entities attached to a pushed update
func (c *peerCache) rememberEntities(e tg.Entities) {
	users := make([]tg.UserClass, 0, len(e.Users))
	for _, u := range e.Users {
		users = append(users, u)
	}
	chats := make([]tg.ChatClass, 0, len(e.Chats)+len(e.Channels))
	for _, ch := range e.Chats {
		chats = append(chats, ch)
	}
	for _, ch := range e.Channels {
		chats = append(chats, ch)
	}
	c.remember(users, chats)
}

func (c *peerCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

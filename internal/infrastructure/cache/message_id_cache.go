package cache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// CheckpointSource loads the persisted newest message id of every channel
type CheckpointSource interface {
	LastMessageIDs(ctx context.Context) (map[int64]int64, error)
}

// MessageIDCache keeps the newest seen message id per channel so that the
// live listener and backfill only move the persisted marker forward
type MessageIDCache struct {
	data   map[int64]int64
	mu     sync.RWMutex
	source CheckpointSource
	logger zerolog.Logger
}

// NewMessageIDCache creates a new MessageIDCache instance
func NewMessageIDCache(source CheckpointSource, logger zerolog.Logger) *MessageIDCache {
	return &MessageIDCache{
		data:   make(map[int64]int64),
		source: source,
		logger: logger.With().Str("component", "message_id_cache").Logger(),
	}
}

// Get returns the cached newest message id for a channel
func (c *MessageIDCache) Get(channelID int64) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messageID, exists := c.data[channelID]
	return messageID, exists
}

// SetIfGreater atomically updates the cache only if newMessageID > current
func (c *MessageIDCache) SetIfGreater(channelID, newMessageID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.data[channelID]
	if !exists || newMessageID > current {
		c.data[channelID] = newMessageID
		c.logger.Debug().
			Int64("channel_id", channelID).
			Int64("old_message_id", current).
			Int64("new_message_id", newMessageID).
			Msg("updated cached message ID")
		return true
	}

	return false
}

// Delete removes a channel from the cache
func (c *MessageIDCache) Delete(channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, channelID)
}

// LoadFromDB loads all channel message IDs from the database into the cache
func (c *MessageIDCache) LoadFromDB(ctx context.Context) error {
	ids, err := c.source.LastMessageIDs(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for channelID, messageID := range ids {
		if messageID > c.data[channelID] {
			c.data[channelID] = messageID
		}
	}

	c.logger.Info().
		Int("channels_loaded", len(ids)).
		Msg("loaded message IDs from database")

	return nil
}

// Len returns the number of tracked channels
func (c *MessageIDCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

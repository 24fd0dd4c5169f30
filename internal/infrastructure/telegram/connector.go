package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/recovery/deps"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Connector builds one client per account and connects it on demand.
// A reconnect reuses the account's client, keeping its subscriptions and peer cache.
type Connector struct {
	db      *gorm.DB
	cfg     *config.TelegramConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[int64]*MTProtoClient
}

// NewConnector creates a connector
func NewConnector(db *gorm.DB, cfg *config.TelegramConfig, m *metrics.Metrics, logger zerolog.Logger) *Connector {
	return &Connector{
		db:      db,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		clients: make(map[int64]*MTProtoClient),
	}
}

// Connect connects the account's client and returns it
func (c *Connector) Connect(ctx context.Context, accountID int64) (domain.Client, error) {
	client, err := c.client(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Connector) client(ctx context.Context, accountID int64) (*MTProtoClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[accountID]; ok {
		return client, nil
	}

	var account entities.Account
	err := c.db.WithContext(ctx).First(&account, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}

	client, err := NewMTProtoClient(ClientConfig{
		AccountID:   account.ID,
		PhoneNumber: account.PhoneNumber,
		APIID:       c.cfg.APIID,
		APIHash:     c.cfg.APIHash,
		RateLimit:   c.cfg.RateLimit,
		RateBurst:   c.cfg.RateBurst,
		DB:          c.db,
		Metrics:     c.metrics,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.clients[accountID] = client
	return client, nil
}

// Shutdown disconnects every client built so far and returns how many there were
func (c *Connector) Shutdown(ctx context.Context) int {
	c.mu.Lock()
	clients := make([]*MTProtoClient, 0, len(c.clients))
	for _, client := range c.clients {
		clients = append(clients, client)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client *MTProtoClient) {
			defer wg.Done()
			if err := client.Disconnect(ctx); err != nil {
				c.logger.Warn().Err(err).Int64("account_id", client.AccountID()).Msg("Failed to disconnect account")
			}
		}(client)
	}
	wg.Wait()
	return len(clients)
}

var _ deps.Connector = (*Connector)(nil)

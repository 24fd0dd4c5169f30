package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/rs/zerolog"
)

// connections picks the account that serves a channel
type connections struct {
	clients  ClientPicker
	recovery SessionRecovery
	channels ChannelStore
	logger   zerolog.Logger
}

// forChannel returns the client of the channel's pinned account, pinning one
// chosen by the balancer when the channel has none yet
func (c *connections) forChannel(ctx context.Context, ch *entities.MonitoredChannel) (int64, domain.Client, error) {
	if ch.AccountID != nil {
		id := *ch.AccountID
		client, err := c.clients.GetClient(id)
		if err == nil {
			return id, client, nil
		}
		if !errors.Is(err, domain.ErrNotConnected) {
			return id, nil, err
		}
		if c.recovery != nil {
			client, rerr := c.recovery.HandleDisconnection(ctx, id, err)
			if rerr == nil {
				return id, client, nil
			}
			if errors.Is(rerr, domain.ErrReconnectExhausted) {
				if backupID, backup, berr := c.rotate(ctx, ch, id, rerr); berr == nil {
					return backupID, backup, nil
				}
			}
			c.logger.Warn().Err(rerr).Int64("account_id", id).Msg("Pinned account unavailable, choosing another")
		}
	}

	id, client, err := c.clients.GetNextClient()
	if err != nil {
		return 0, nil, err
	}
	if err := c.channels.AssignAccount(ctx, ch.ID, id); err != nil {
		return 0, nil, fmt.Errorf("assign account: %w", err)
	}
	ch.AccountID = &id
	return id, client, nil
}

// handleFailure handles an upstream failure in a long-running loop. It returns
// the account and client to retry with, or the error when the failure is final.
// A channel whose account ran out of reconnects moves to a backup account.
func (c *connections) handleFailure(ctx context.Context, ch *entities.MonitoredChannel, accountID int64, err error) (int64, domain.Client, error) {
	c.clients.ReportError(accountID, err)

	switch domain.KindOf(err) {
	case domain.KindDisconnected, domain.KindTimeout:
	default:
		return accountID, nil, err
	}
	if c.recovery == nil {
		return accountID, nil, err
	}

	client, rerr := c.recovery.HandleDisconnection(ctx, accountID, err)
	if rerr == nil {
		return accountID, client, nil
	}
	if !errors.Is(rerr, domain.ErrReconnectExhausted) {
		return accountID, nil, rerr
	}
	return c.rotate(ctx, ch, accountID, rerr)
}

// rotate pins the channel to the backup standing in for failedID
func (c *connections) rotate(ctx context.Context, ch *entities.MonitoredChannel, failedID int64, cause error) (int64, domain.Client, error) {
	backupID, client, err := c.recovery.RotateToBackup(ctx, failedID)
	if err != nil {
		return failedID, nil, errors.Join(cause, err)
	}
	if err := c.channels.AssignAccount(ctx, ch.ID, backupID); err != nil {
		return failedID, nil, fmt.Errorf("assign backup account: %w", err)
	}
	ch.AccountID = &backupID

	c.logger.Warn().
		Int64("channel_id", ch.ID).
		Int64("account_id", failedID).
		Int64("backup_id", backupID).
		Msg("Reconnects exhausted, channel moved to backup account")
	return backupID, client, nil
}

// peerFor resolves the channel with its stored access hash
func peerFor(ctx context.Context, client domain.Client, ch *entities.MonitoredChannel) (domain.Peer, error) {
	hints := domain.PeerHints{Type: domain.PeerChannel, AccessHash: ch.AccessHash}
	if ch.Type == entities.ChannelTypeGroup {
		hints.Type = domain.PeerChat
	}
	if ch.Username != nil {
		hints.Username = *ch.Username
	}
	peer, err := client.ResolvePeer(ctx, ch.TelegramID, hints)
	if err != nil {
		return domain.Peer{}, fmt.Errorf("resolve channel %d: %w", ch.TelegramID, err)
	}
	return *peer, nil
}

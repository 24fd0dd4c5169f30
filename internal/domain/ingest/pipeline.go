package ingest

import (
	"context"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// Ingestion modes, also used as enrichment source tags
const (
	ModeBackfill = "backfill"
	ModeLive     = "live"
	ModeMembers  = "members"
)

type storedMessage struct {
	raw      domain.RawMessage
	row      *entities.Message
	senderID int64
}

type pageResult struct {
	stored     []storedMessage
	duplicates int
	failed     int
	minID      int64
	maxID      int64
}

// pipeline writes raw messages and fans out the side-work for what was stored
type pipeline struct {
	channels    ChannelStore
	writer      Writer
	enrichment  EnrichmentQueue
	media       MediaQueue
	scanner     Scanner
	checkpoints Checkpoints
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// store upserts the senders first, then inserts the messages pointing at the
// sender rows, then queues media, detection and enrichment for inserted messages only
func (p *pipeline) store(ctx context.Context, ch *entities.MonitoredChannel, accountID int64, mode string, msgs []domain.RawMessage) pageResult {
	var res pageResult
	if len(msgs) == 0 {
		return res
	}

	senders := p.upsertSenders(ctx, msgs)

	records := make([]upsert.MessageRecord, len(msgs))
	byID := make(map[int64]domain.RawMessage, len(msgs))
	for i, m := range msgs {
		records[i] = messageRecord(m, ch.ID, senders[m.SenderID])
		byID[m.ID] = m
		if res.minID == 0 || m.ID < res.minID {
			res.minID = m.ID
		}
		res.maxID = max(res.maxID, m.ID)
	}

	batch := p.writer.InsertMessages(ctx, records)
	res.duplicates = batch.Duplicates
	res.failed = len(batch.Failed)

	activity := make(map[int64]upsert.Activity)
	for _, w := range batch.Written {
		raw := byID[w.Record.MessageID]
		res.stored = append(res.stored, storedMessage{raw: raw, row: w.Stored, senderID: raw.SenderID})

		if w.Stored.SenderID != nil {
			a := activity[*w.Stored.SenderID]
			a.Messages++
			if raw.Media != nil {
				a.Media++
			}
			activity[*w.Stored.SenderID] = a
		}
		p.sideWork(ctx, ch, accountID, mode, raw, w.Stored)
	}

	if err := p.writer.IncrementUserActivity(ctx, activity); err != nil {
		p.logger.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Failed to update user activity counters")
	}
	if n := len(batch.Written); n > 0 {
		if err := p.channels.AddMessages(ctx, ch.ID, int64(n)); err != nil {
			p.logger.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Failed to update channel message count")
		}
		p.metrics.RecordMessagesIngested(mode, n)
	}
	p.advance(ctx, ch.ID, res.maxID)

	return res
}

// upsertSenders returns sender telegram id -> user row id
func (p *pipeline) upsertSenders(ctx context.Context, msgs []domain.RawMessage) map[int64]int64 {
	seen := make(map[int64]bool)
	var records []upsert.UserRecord

	for _, m := range msgs {
		if m.SenderID <= 0 || seen[m.SenderID] {
			continue
		}
		seen[m.SenderID] = true

		if m.Sender != nil {
			records = append(records, userRecord(*m.Sender))
		} else {
			records = append(records, upsert.UserRecord{TelegramID: m.SenderID})
		}
	}

	rows := make(map[int64]int64, len(records))
	if len(records) == 0 {
		return rows
	}

	batch := p.writer.UpsertUsers(ctx, records)
	for _, w := range batch.Written {
		rows[w.Stored.TelegramID] = w.Stored.ID
	}
	return rows
}

func (p *pipeline) sideWork(ctx context.Context, ch *entities.MonitoredChannel, accountID int64, mode string, raw domain.RawMessage, row *entities.Message) {
	logger := p.logger.With().Int64("channel_id", ch.ID).Int64("message_id", raw.ID).Logger()

	if raw.Media != nil && p.media != nil {
		job := media.Job{
			AccountID:    accountID,
			ChannelID:    ch.ID,
			MessageRowID: row.ID,
			MessageID:    raw.ID,
			GroupedID:    raw.GroupedID,
			Media:        *raw.Media,
		}
		if err := p.media.Queue(ctx, job); err != nil {
			logger.Warn().Err(err).Msg("Media not queued")
		}
	}

	if p.scanner != nil {
		if _, err := p.scanner.ScanMessage(ctx, row); err != nil {
			logger.Warn().Err(err).Msg("Detection scan failed")
		}
	}

	if raw.SenderID > 0 && p.enrichment != nil {
		err := p.enrichment.Queue(enrichment.Task{
			AccountID: accountID,
			UserID:    raw.SenderID,
			ChannelID: ch.ID,
			Source:    mode,
		})
		if err != nil {
			logger.Debug().Err(err).Int64("user_id", raw.SenderID).Msg("Sender not queued for enrichment")
		}
	}
}

// advance moves the live checkpoint forward, skipping the write when the cache proves it stale
func (p *pipeline) advance(ctx context.Context, channelID, messageID int64) {
	if messageID <= 0 {
		return
	}
	if p.checkpoints != nil && !p.checkpoints.SetIfGreater(channelID, messageID) {
		return
	}
	if err := p.channels.AdvanceLastMessageID(ctx, channelID, messageID); err != nil {
		p.logger.Warn().Err(err).Int64("channel_id", channelID).Msg("Failed to advance last message id")
	}
}

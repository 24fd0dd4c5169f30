package ingest

import (
	"context"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/domain/upsert"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ScrapeResult counts one member scrape
type ScrapeResult struct {
	ChannelID int64 `json:"channel_id"`
	Fetched   int   `json:"fetched"`
	Stored    int   `json:"stored"`
	Failed    int   `json:"failed"`
	Queued    int   `json:"queued"`
}

// MemberScraper stores the member list of a group and queues the members for enrichment
type MemberScraper struct {
	channels   ChannelStore
	conns      *connections
	writer     Writer
	enrichment EnrichmentQueue
	publisher  events.Publisher
	cfg        *config.BackfillConfig
	logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func newMemberScraper(
	channels ChannelStore,
	conns *connections,
	writer Writer,
	enrichment EnrichmentQueue,
	publisher events.Publisher,
	cfg *config.BackfillConfig,
	logger zerolog.Logger,
) *MemberScraper {
	return &MemberScraper{
		channels:   channels,
		conns:      conns,
		writer:     writer,
		enrichment: enrichment,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.With().Str("component", "members").Logger(),
		sleep:      sleepContext,
	}
}

// Scrape fetches member pages while the previous page is being stored.
// Broadcast channels fail with domain.ErrNoMemberList.
func (s *MemberScraper) Scrape(ctx context.Context, channelID int64) (ScrapeResult, error) {
	res := ScrapeResult{ChannelID: channelID}

	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return res, err
	}
	if !ch.IsGroup() {
		return res, domain.ErrNoMemberList
	}

	accountID, client, err := s.conns.forChannel(ctx, ch)
	if err != nil {
		return res, err
	}
	peer, err := peerFor(ctx, client, ch)
	if err != nil {
		return res, err
	}
	if !peer.HasMembers() {
		return res, domain.ErrNoMemberList
	}

	logger := s.logger.With().Int64("channel_id", ch.ID).Int64("account_id", accountID).Logger()
	events.Emit(ctx, s.publisher, logger, events.New(events.MemberScrapeStarted, ch.ID, map[string]any{
		"account_id": accountID,
	}))

	pages := make(chan []domain.RawUser, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pages)

		offset := 0
		for {
			page, err := client.GetParticipants(gctx, peer, offset, s.cfg.MemberPageSize)
			if err != nil {
				if wait, ok := domain.FloodWait(err); ok {
					s.conns.clients.ReportError(accountID, err)
					if err := s.sleep(gctx, min(wait, s.cfg.MaxFloodWait)); err != nil {
						return err
					}
					continue
				}
				s.conns.clients.ReportError(accountID, err)
				return err
			}
			s.conns.clients.ReportSuccess(accountID)

			if len(page) == 0 {
				return nil
			}
			res.Fetched += len(page)

			select {
			case pages <- page:
			case <-gctx.Done():
				return gctx.Err()
			}

			if len(page) < s.cfg.MemberPageSize {
				return nil
			}
			offset += len(page)
		}
	})

	g.Go(func() error {
		for page := range pages {
			records := make([]upsert.UserRecord, 0, len(page))
			for _, u := range page {
				records = append(records, userRecord(u))
			}

			batch := s.writer.UpsertUsers(gctx, records)
			res.Stored += len(batch.Written)
			res.Failed += len(batch.Failed)

			if s.enrichment == nil {
				continue
			}
			for _, w := range batch.Written {
				err := s.enrichment.Queue(enrichment.Task{
					AccountID: accountID,
					UserID:    w.Stored.TelegramID,
					ChannelID: ch.ID,
					Source:    ModeMembers,
				})
				if err == nil {
					res.Queued++
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Int("fetched", res.Fetched).Msg("Member scrape failed")
		return res, err
	}

	if err := s.channels.SetMemberCount(ctx, ch.ID, res.Fetched); err != nil {
		logger.Warn().Err(err).Msg("Failed to store member count")
	}

	events.Emit(ctx, s.publisher, logger, events.New(events.MemberScrapeCompleted, ch.ID, map[string]any{
		"fetched": res.Fetched,
		"stored":  res.Stored,
		"failed":  res.Failed,
		"queued":  res.Queued,
	}))
	logger.Info().
		Int("fetched", res.Fetched).
		Int("stored", res.Stored).
		Int("failed", res.Failed).
		Msg("Member scrape completed")

	return res, nil
}

package ingest

import (
	"context"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// Status is the ingestion part of the status snapshot
type Status struct {
	Backfills []BackfillStatus `json:"backfills"`
	Monitors  []MonitorStatus  `json:"monitors"`
}

// Deps groups the collaborators of the ingestion service
type Deps struct {
	Channels    ChannelStore
	Writer      Writer
	Clients     ClientPicker
	Recovery    SessionRecovery
	Enrichment  EnrichmentQueue
	Media       MediaQueue
	Scanner     Scanner
	Checkpoints Checkpoints
	Publisher   events.Publisher
}

// Service is the backfill and live ingestion orchestrator
type Service struct {
	backfill *Backfiller
	live     *LiveMonitor
	members  *MemberScraper
	logger   zerolog.Logger
}

// NewService builds the orchestrator. Nil side-work queues are skipped.
func NewService(d Deps, cfg *config.BackfillConfig, m *metrics.Metrics, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "ingest").Logger()

	conns := &connections{
		clients:  d.Clients,
		recovery: d.Recovery,
		channels: d.Channels,
		logger:   logger,
	}
	pipe := &pipeline{
		channels:    d.Channels,
		writer:      d.Writer,
		enrichment:  d.Enrichment,
		media:       d.Media,
		scanner:     d.Scanner,
		checkpoints: d.Checkpoints,
		metrics:     m,
		logger:      logger,
	}

	members := newMemberScraper(d.Channels, conns, d.Writer, d.Enrichment, d.Publisher, cfg, logger)
	return &Service{
		backfill: newBackfiller(d.Channels, conns, pipe, members, d.Publisher, cfg, m, logger),
		live:     newLiveMonitor(d.Channels, conns, pipe, d.Writer, d.Enrichment, d.Publisher, logger),
		members:  members,
		logger:   logger,
	}
}

// StartBackfill starts a background backfill of the channel
func (s *Service) StartBackfill(ctx context.Context, channelID int64, opts BackfillOptions) error {
	return s.backfill.Start(ctx, channelID, opts)
}

// StopBackfill cancels the channel's backfill and waits for its checkpoint
func (s *Service) StopBackfill(ctx context.Context, channelID int64) error {
	return s.backfill.Stop(ctx, channelID)
}

// StartMonitor attaches the live listener
func (s *Service) StartMonitor(ctx context.Context, channelID int64) error {
	return s.live.Start(ctx, channelID)
}

// StopMonitor detaches the live listener
func (s *Service) StopMonitor(ctx context.Context, channelID int64) error {
	return s.live.Stop(ctx, channelID)
}

// ScrapeMembers stores the member list of a group
func (s *Service) ScrapeMembers(ctx context.Context, channelID int64) (ScrapeResult, error) {
	return s.members.Scrape(ctx, channelID)
}

// Restore re-attaches live listeners of monitored channels
func (s *Service) Restore(ctx context.Context) error {
	n, err := s.live.Restore(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Int("monitors", n).Msg("Live monitors restored")
	return nil
}

// Shutdown cancels backfills and detaches listeners, keeping the monitoring flags
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.backfill.StopAll()
		close(done)
	}()
	s.live.DetachAll()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns running backfills and attached monitors
func (s *Service) Status() Status {
	return Status{
		Backfills: s.backfill.Active(),
		Monitors:  s.live.Active(),
	}
}

// setSleep replaces the wait used between pages and after flood waits
func (s *Service) setSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.backfill.sleep = fn
	s.members.sleep = fn
}

package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/control/deps"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/ingest"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/recovery"
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/domain/scheduler"
	pkgerrors "github.com/Conte777/tgvault/pkg/errors"
	"github.com/rs/zerolog"
)

// ManualSource tags enrichment tasks queued by an operator
const ManualSource = "manual"

// Snapshot is the aggregated status of the pipeline
type Snapshot struct {
	Timestamp  time.Time                `json:"timestamp"`
	Enrichment enrichment.Status        `json:"enrichment"`
	Backfills  []ingest.BackfillStatus  `json:"backfills"`
	Monitors   []ingest.MonitorStatus   `json:"monitors"`
	Sessions   []recovery.SessionStatus `json:"sessions"`
	Balancer   []balancer.AccountStats  `json:"balancer"`
	Resolver   resolver.Stats           `json:"resolver"`
	Scheduler  scheduler.Status         `json:"scheduler"`
	Media      media.Status             `json:"media"`
}

// Component is the health of one part of the pipeline
type Component struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Service exposes the pipeline operations to operators
type Service struct {
	ingestion        deps.Ingestion
	enrichment       deps.EnrichmentQueue
	sessions         deps.Sessions
	balancer         deps.Balancer
	resolver         deps.Resolver
	scheduler        deps.Scheduler
	media            deps.Media
	schedulerEnabled bool
	logger           zerolog.Logger
	now              func() time.Time
}

// Config groups the collaborators of the service
type Config struct {
	Ingestion        deps.Ingestion
	Enrichment       deps.EnrichmentQueue
	Sessions         deps.Sessions
	Balancer         deps.Balancer
	Resolver         deps.Resolver
	Scheduler        deps.Scheduler
	Media            deps.Media
	SchedulerEnabled bool
}

// NewService creates the control service
func NewService(cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		ingestion:        cfg.Ingestion,
		enrichment:       cfg.Enrichment,
		sessions:         cfg.Sessions,
		balancer:         cfg.Balancer,
		resolver:         cfg.Resolver,
		scheduler:        cfg.Scheduler,
		media:            cfg.Media,
		schedulerEnabled: cfg.SchedulerEnabled,
		logger:           logger.With().Str("component", "control").Logger(),
		now:              time.Now,
	}
}

// Snapshot collects the status of every component
func (s *Service) Snapshot() Snapshot {
	ingestion := s.ingestion.Status()
	return Snapshot{
		Timestamp:  s.now().UTC(),
		Enrichment: s.enrichment.Status(),
		Backfills:  ingestion.Backfills,
		Monitors:   ingestion.Monitors,
		Sessions:   s.sessions.Statuses(),
		Balancer:   s.balancer.Stats(),
		Resolver:   s.resolver.Stats(),
		Scheduler:  s.scheduler.Status(),
		Media:      s.media.Status(),
	}
}

// Health reports which parts of the pipeline can do work
func (s *Service) Health() []Component {
	components := make([]Component, 0, 3)

	healthy := 0
	for _, st := range s.sessions.Statuses() {
		if st.Health == recovery.HealthHealthy {
			healthy++
		}
	}
	sessions := Component{Name: "telegram_sessions", Healthy: healthy > 0}
	if !sessions.Healthy {
		sessions.Message = "No healthy Telegram sessions"
	}
	components = append(components, sessions)

	queue := Component{Name: "enrichment_queue", Healthy: s.enrichment.Status().Running}
	if !queue.Healthy {
		queue.Message = "Enrichment workers are not running"
	}
	components = append(components, queue)

	if s.schedulerEnabled {
		passive := Component{Name: "passive_scheduler", Healthy: s.scheduler.Status().Running}
		if !passive.Healthy {
			passive.Message = "Passive enrichment cycle is not running"
		}
		components = append(components, passive)
	}

	return components
}

// StartBackfill starts a historical backfill of the channel
func (s *Service) StartBackfill(ctx context.Context, channelID int64, opts ingest.BackfillOptions) error {
	if err := s.ingestion.StartBackfill(ctx, channelID, opts); err != nil {
		return s.translate(err, channelID)
	}
	s.logger.Info().Int64("channel_id", channelID).Bool("reset", opts.Reset).Msg("Backfill requested")
	return nil
}

// StopBackfill cancels the channel's backfill
func (s *Service) StopBackfill(ctx context.Context, channelID int64) error {
	if err := s.ingestion.StopBackfill(ctx, channelID); err != nil {
		return s.translate(err, channelID)
	}
	return nil
}

// StartMonitor attaches the live listener of the channel
func (s *Service) StartMonitor(ctx context.Context, channelID int64) error {
	if err := s.ingestion.StartMonitor(ctx, channelID); err != nil {
		return s.translate(err, channelID)
	}
	return nil
}

// StopMonitor detaches the live listener of the channel
func (s *Service) StopMonitor(ctx context.Context, channelID int64) error {
	if err := s.ingestion.StopMonitor(ctx, channelID); err != nil {
		return s.translate(err, channelID)
	}
	return nil
}

// Enrich queues an on-demand enrichment of the user
func (s *Service) Enrich(userID, accountID, channelID int64) error {
	if userID <= 0 {
		return pkgerrors.NewValidationErrorf("user id must be positive, got %d", userID)
	}
	err := s.enrichment.Queue(enrichment.Task{
		AccountID: accountID,
		UserID:    userID,
		ChannelID: channelID,
		Source:    ManualSource,
	})
	if err != nil {
		return s.translate(err, channelID)
	}
	return nil
}

// ResetAccount clears the reconnect budget and terminal state of an account and
// reconnects it
func (s *Service) ResetAccount(ctx context.Context, accountID int64) error {
	if accountID <= 0 {
		return pkgerrors.NewValidationErrorf("account id must be positive, got %d", accountID)
	}

	s.sessions.ResetAccount(accountID)
	if _, err := s.sessions.EnsureSessionActive(ctx, accountID); err != nil {
		s.logger.Warn().Err(err).Int64("account_id", accountID).Msg("Account reset but not reconnected")
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			return pkgerrors.NewNotFoundErrorf("account %d not found", accountID)
		case errors.Is(err, domain.ErrUnauthorized):
			return pkgerrors.NewConflictErrorf("account %d requires login", accountID)
		}
		return pkgerrors.NewServiceUnavailableError(fmt.Sprintf("account %d did not reconnect: %v", accountID, err))
	}

	s.logger.Info().Int64("account_id", accountID).Msg("Account reset and reconnected")
	return nil
}

// translate turns domain errors into operator-facing ones
func (s *Service) translate(err error, channelID int64) error {
	switch {
	case errors.Is(err, domain.ErrChannelNotFound):
		return pkgerrors.NewNotFoundErrorf("channel %d not found", channelID)
	case errors.Is(err, domain.ErrBackfillRunning),
		errors.Is(err, domain.ErrBackfillNotRunning),
		errors.Is(err, domain.ErrAlreadyMonitoring),
		errors.Is(err, domain.ErrNotMonitoring):
		return pkgerrors.NewConflictError(err.Error())
	case errors.Is(err, domain.ErrNoActiveAccounts),
		errors.Is(err, domain.ErrAllClientsBlocked),
		errors.Is(err, domain.ErrQueueFull):
		return pkgerrors.NewServiceUnavailableError(err.Error())
	case errors.Is(err, domain.ErrPeerUnavailable),
		errors.Is(err, domain.ErrResolutionFailed):
		return pkgerrors.NewConflictErrorf("channel %d is unavailable: %v", channelID, err)
	}
	return pkgerrors.NewInternalError(err.Error())
}

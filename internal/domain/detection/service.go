package detection

import (
	"context"
	"fmt"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxValueLength = 512

// Service scans stored messages and persists what it finds
type Service struct {
	sessions  *database.SessionManager
	detector  *Detector
	publisher events.Publisher
	enabled   bool
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewService creates a detection service. publisher may be nil.
func NewService(
	sessions *database.SessionManager,
	publisher events.Publisher,
	cfg *config.DetectionConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		sessions:  sessions,
		detector:  NewDetector(),
		publisher: publisher,
		enabled:   cfg.Enabled,
		metrics:   m,
		logger:    logger.With().Str("component", "detection").Logger(),
	}
}

// ScanMessage stores a Detection row per distinct finding in the message text.
// Findings already stored for the message are left as they are.
func (s *Service) ScanMessage(ctx context.Context, msg *entities.Message) ([]Finding, error) {
	if !s.enabled || msg == nil || msg.Text == nil {
		return nil, nil
	}

	findings := s.detector.Scan(*msg.Text)
	if len(findings) == 0 {
		return nil, nil
	}

	rows := make([]entities.Detection, len(findings))
	for i, f := range findings {
		value := f.Value
		if len(value) > maxValueLength {
			value = value[:maxValueLength]
		}
		rows[i] = entities.Detection{MessageID: msg.ID, Kind: f.Kind, Value: value}
	}

	err := s.sessions.Execute(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store detections for message %d: %w", msg.ID, err)
	}

	for _, f := range findings {
		s.metrics.RecordDetection(f.Kind)
	}

	s.logger.Debug().
		Int64("message_id", msg.MessageID).
		Int64("channel_id", msg.ChannelID).
		Int("findings", len(findings)).
		Msg("Sensitive patterns detected")

	events.Emit(ctx, s.publisher, s.logger, events.New(events.DetectionFound, msg.ChannelID, map[string]any{
		"message_id":     msg.MessageID,
		"message_row_id": msg.ID,
		"sender_id":      msg.SenderID,
		"findings":       findings,
	}))
	return findings, nil
}

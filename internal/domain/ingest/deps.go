package ingest

import (
	"context"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/detection"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/upsert"
)

// ChannelStore persists channels and their checkpoints
type ChannelStore interface {
	GetByID(ctx context.Context, id int64) (*entities.MonitoredChannel, error)
	ListMonitoring(ctx context.Context) ([]entities.MonitoredChannel, error)
	AssignAccount(ctx context.Context, id, accountID int64) error
	BeginBackfill(ctx context.Context, id int64) error
	SaveCheckpoint(ctx context.Context, id, offsetID, processed int64) error
	FinishBackfill(ctx context.Context, id int64, done bool, cause error) error
	ResetBackfill(ctx context.Context, id int64) error
	AdvanceLastMessageID(ctx context.Context, id, messageID int64) error
	AddMessages(ctx context.Context, id, n int64) error
	SetMemberCount(ctx context.Context, id int64, n int) error
	SetMonitoring(ctx context.Context, id int64, monitoring bool) error
}

// Writer is the conflict resolver as seen by ingestion
type Writer interface {
	UpsertUsers(ctx context.Context, records []upsert.UserRecord) upsert.BatchResult[upsert.UserRecord, *entities.User]
	InsertMessages(ctx context.Context, records []upsert.MessageRecord) upsert.BatchResult[upsert.MessageRecord, *entities.Message]
	UpdateMessageEdit(ctx context.Context, rec upsert.MessageRecord) (*entities.Message, error)
	IncrementUserActivity(ctx context.Context, activity map[int64]upsert.Activity) error
}

// ClientPicker hands out connections and collects their outcomes
type ClientPicker interface {
	GetClient(accountID int64) (domain.Client, error)
	GetNextClient() (int64, domain.Client, error)
	MinFloodWaitRemaining() time.Duration
	ReportSuccess(accountID int64)
	ReportError(accountID int64, err error)
}

// SessionRecovery reconnects accounts whose connection dropped and hands out
// backups for accounts that cannot be brought back
type SessionRecovery interface {
	HandleDisconnection(ctx context.Context, accountID int64, cause error) (domain.Client, error)
	RotateToBackup(ctx context.Context, failedID int64) (int64, domain.Client, error)
}

// EnrichmentQueue accepts users for profile enrichment
type EnrichmentQueue interface {
	Queue(task enrichment.Task) error
	IsPending(userID int64) bool
}

// MediaQueue accepts attachments for download
type MediaQueue interface {
	Queue(ctx context.Context, job media.Job) error
}

// Scanner looks for sensitive patterns in stored messages
type Scanner interface {
	ScanMessage(ctx context.Context, msg *entities.Message) ([]detection.Finding, error)
}

// Checkpoints caches the newest stored message id per channel
type Checkpoints interface {
	Get(channelID int64) (int64, bool)
	SetIfGreater(channelID, messageID int64) bool
}

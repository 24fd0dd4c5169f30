package deps

import (
	"context"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/balancer"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/ingest"
	"github.com/Conte777/tgvault/internal/domain/media"
	"github.com/Conte777/tgvault/internal/domain/recovery"
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/domain/scheduler"
)

// Ingestion starts and stops backfills and live monitors
type Ingestion interface {
	StartBackfill(ctx context.Context, channelID int64, opts ingest.BackfillOptions) error
	StopBackfill(ctx context.Context, channelID int64) error
	StartMonitor(ctx context.Context, channelID int64) error
	StopMonitor(ctx context.Context, channelID int64) error
	Status() ingest.Status
}

// EnrichmentQueue accepts on-demand enrichment tasks
type EnrichmentQueue interface {
	Queue(task enrichment.Task) error
	Status() enrichment.Status
}

// Sessions reports the health of every account connection and brings
// accounts back after an operator intervened
type Sessions interface {
	Statuses() []recovery.SessionStatus
	ResetAccount(accountID int64)
	EnsureSessionActive(ctx context.Context, accountID int64) (domain.Client, error)
}

// Balancer reports per-account usage
type Balancer interface {
	Stats() []balancer.AccountStats
}

// Resolver reports entity cache usage
type Resolver interface {
	Stats() resolver.Stats
}

// Scheduler reports the passive enrichment loop
type Scheduler interface {
	Status() scheduler.Status
}

// Media reports the download workers
type Media interface {
	Status() media.Status
}

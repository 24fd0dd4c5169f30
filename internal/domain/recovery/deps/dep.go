package deps

import (
	"context"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
)

// Connector builds and connects a fresh client for an account
type Connector interface {
	Connect(ctx context.Context, accountID int64) (domain.Client, error)
}

// AccountRepository persists account status and lists accounts
type AccountRepository interface {
	ListActive(ctx context.Context) ([]entities.Account, error)
	ListBackups(ctx context.Context) ([]entities.Account, error)
	UpdateStatus(ctx context.Context, accountID int64, status string, lastErr error) error
	RecordFloodWait(ctx context.Context, accountID int64) error
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrRecoveryFailed is matched by the error returned after every retry was used
var ErrRecoveryFailed = errors.New("database recovery failed")

// RecoveryError wraps the last transient error after retries are exhausted
type RecoveryError struct {
	Attempts int
	Err      error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("database recovery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

func (e *RecoveryError) Is(target error) bool {
	return target == ErrRecoveryFailed
}

// Operation is a unit of storage work run inside one transaction
type Operation func(tx *gorm.DB) error

// SessionManager runs storage operations in fresh transactions with bounded retries
type SessionManager struct {
	db         *gorm.DB
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewSessionManager creates a session manager
func NewSessionManager(db *gorm.DB, cfg *config.DatabaseConfig, m *metrics.Metrics, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		db:         db,
		logger:     logger.With().Str("component", "session_manager").Logger(),
		metrics:    m,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		sleep:      sleepContext,
	}
}

// DB exposes the underlying pool for read-only helpers
func (m *SessionManager) DB() *gorm.DB {
	return m.db
}

// Execute runs op with the configured retry budget
func (m *SessionManager) Execute(ctx context.Context, op Operation) error {
	return m.ExecuteWithRetry(ctx, op, m.maxRetries)
}

// ExecuteWithRetry runs op in a new transaction, retrying transient failures
// up to maxRetries more times with base*2^attempt delays in between.
func (m *SessionManager) ExecuteWithRetry(ctx context.Context, op Operation, maxRetries int) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := m.baseDelay * time.Duration(1<<(attempt-1))
			if err := m.sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
		}

		err := m.WithSession(ctx, op)
		if err == nil {
			if attempt > 0 {
				m.logger.Info().Int("attempt", attempt+1).Msg("Storage operation recovered")
			}
			return nil
		}

		decision := Classify(err)
		if !decision.IsTransient() {
			return err
		}

		lastErr = err
		m.metrics.RecordStorageRetry(decision.Reason)
		m.logger.Warn().
			Err(err).
			Str("reason", decision.Reason).
			Int("attempt", attempt+1).
			Int("max_attempts", maxRetries+1).
			Msg("Transient storage failure, recreating session")
	}

	m.metrics.RecordStorageRecoveryFailed()
	m.logger.Error().Err(lastErr).Int("attempts", maxRetries+1).Msg("Storage recovery failed")
	return &RecoveryError{Attempts: maxRetries + 1, Err: lastErr}
}

// WithSession runs fn inside one transaction that is committed on success and
// rolled back on error, panic or cancellation.
func (m *SessionManager) WithSession(ctx context.Context, fn Operation) (err error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
			m.logger.Debug().Err(rbErr).Msg("Rollback failed")
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit().Error; err != nil {
		return err
	}
	committed = true
	return nil
}

// Run executes fn with retries and returns its value
func Run[T any](ctx context.Context, m *SessionManager, fn func(tx *gorm.DB) (T, error)) (T, error) {
	var out T
	err := m.Execute(ctx, func(tx *gorm.DB) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

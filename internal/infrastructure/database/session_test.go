package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/infrastructure/database/dbtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestManager(t *testing.T) (*SessionManager, *[]time.Duration) {
	t.Helper()
	db := dbtest.New(t)
	m := NewSessionManager(db, &config.DatabaseConfig{MaxRetries: 3, RetryBaseDelay: 100 * time.Millisecond}, nil, zerolog.Nop())

	var delays []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return m, &delays
}

func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	m, delays := newTestManager(t)

	for k := 0; k < 3; k++ {
		*delays = nil
		attempts := 0
		err := m.ExecuteWithRetry(context.Background(), func(tx *gorm.DB) error {
			attempts++
			if attempts <= k {
				return Transient(errors.New("connection reset by peer"))
			}
			return nil
		}, 3)

		require.NoError(t, err)
		assert.Equal(t, k+1, attempts, "k=%d", k)
		assert.Len(t, *delays, k)
	}
}

func TestExecuteWithRetry_ExhaustsRetries(t *testing.T) {
	m, delays := newTestManager(t)

	attempts := 0
	lastErr := errors.New("deadlock detected")
	err := m.ExecuteWithRetry(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return lastErr
	}, 3)

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.True(t, errors.Is(err, ErrRecoveryFailed))
	assert.True(t, errors.Is(err, lastErr))

	var recErr *RecoveryError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 4, recErr.Attempts)

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *delays)
}

func TestExecuteWithRetry_NonTransientRunsOnce(t *testing.T) {
	m, _ := newTestManager(t)

	attempts := 0
	integrity := errors.New("UNIQUE constraint failed: users.telegram_id")
	err := m.ExecuteWithRetry(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return integrity
	}, 3)

	require.ErrorIs(t, err, integrity)
	assert.False(t, errors.Is(err, ErrRecoveryFailed))
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetry_ZeroRetries(t *testing.T) {
	m, _ := newTestManager(t)

	attempts := 0
	err := m.ExecuteWithRetry(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return Transient(errors.New("timeout"))
	}, 0)

	require.ErrorIs(t, err, ErrRecoveryFailed)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetry_CancelledDuringBackoff(t *testing.T) {
	m, _ := newTestManager(t)
	m.sleep = sleepContext
	m.baseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := m.ExecuteWithRetry(ctx, func(tx *gorm.DB) error {
		attempts++
		cancel()
		return Transient(errors.New("timeout"))
	}, 3)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestWithSession_CommitsOnSuccess(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	err := m.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Create(&entities.Account{PhoneNumber: "+100"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, m.DB().Model(&entities.Account{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWithSession_RollsBackOnError(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&entities.Account{PhoneNumber: "+200"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, m.DB().Model(&entities.Account{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithSession_RollsBackOnPanic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.WithSession(ctx, func(tx *gorm.DB) error {
			tx.Create(&entities.Account{PhoneNumber: "+300"})
			panic("unexpected")
		})
	})

	var count int64
	require.NoError(t, m.DB().Model(&entities.Account{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRun_ReturnsValue(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := Run(context.Background(), m, func(tx *gorm.DB) (int64, error) {
		acc := entities.Account{PhoneNumber: "+400"}
		if err := tx.Create(&acc).Error; err != nil {
			return 0, err
		}
		return acc.ID, nil
	})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

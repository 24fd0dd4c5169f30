package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedEnricher struct {
	mu    sync.Mutex
	calls map[int64]int
	fn    func(ctx context.Context, task Task, call int) error
}

func (e *scriptedEnricher) Enrich(ctx context.Context, task Task) error {
	e.mu.Lock()
	if e.calls == nil {
		e.calls = make(map[int64]int)
	}
	e.calls[task.UserID]++
	call := e.calls[task.UserID]
	e.mu.Unlock()

	if e.fn == nil {
		return nil
	}
	return e.fn(ctx, task, call)
}

func (e *scriptedEnricher) Calls(userID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[userID]
}

func testQueueConfig() *config.EnrichmentConfig {
	return &config.EnrichmentConfig{
		Concurrency:   2,
		QueueSize:     16,
		CompletedTTL:  time.Hour,
		CompletedSize: 100,
		MaxFloodWait:  5 * time.Minute,
		IOAttempts:    3,
	}
}

func startQueue(t *testing.T, e Enricher, cfg *config.EnrichmentConfig) *Queue {
	t.Helper()
	q := NewQueue(e, cfg, nil, zerolog.Nop())
	q.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func TestQueue_InProgressDuplicateIsSkipped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	enricher := &scriptedEnricher{fn: func(ctx context.Context, task Task, call int) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	q := startQueue(t, enricher, testQueueConfig())

	require.NoError(t, q.Queue(Task{UserID: 5, Source: "live"}))
	<-started
	assert.True(t, q.IsPending(5))

	require.NoError(t, q.Queue(Task{UserID: 5, Source: "backfill"}))
	require.Eventually(t, func() bool { return q.Status().Skipped == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.Status().InProgress)

	close(release)
	require.Eventually(t, func() bool { return q.Status().Succeeded == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, enricher.Calls(5))
	assert.False(t, q.IsPending(5))

	// completed users are dropped at the door
	require.NoError(t, q.Queue(Task{UserID: 5, Source: "passive"}))
	assert.Equal(t, int64(2), q.Status().Skipped)
	assert.Equal(t, 0, q.Status().QueueDepth)
	assert.Equal(t, 1, enricher.Calls(5))
}

func TestQueue_DropsNonUserIDs(t *testing.T) {
	q := NewQueue(&scriptedEnricher{}, testQueueConfig(), nil, zerolog.Nop())

	require.NoError(t, q.Queue(Task{UserID: -1001234567890}))
	require.NoError(t, q.Queue(Task{UserID: 0}))
	assert.Equal(t, 0, q.Status().QueueDepth)
}

func TestQueue_FullQueueRejects(t *testing.T) {
	cfg := testQueueConfig()
	cfg.QueueSize = 1
	q := NewQueue(&scriptedEnricher{}, cfg, nil, zerolog.Nop())

	require.NoError(t, q.Queue(Task{UserID: 1}))
	assert.ErrorIs(t, q.Queue(Task{UserID: 2}), domain.ErrQueueFull)
	assert.True(t, q.IsPending(1))
	assert.False(t, q.IsPending(2))
}

func TestQueue_FloodWaitRequeues(t *testing.T) {
	var slept []time.Duration
	var mu sync.Mutex

	enricher := &scriptedEnricher{fn: func(ctx context.Context, task Task, call int) error {
		if call == 1 {
			return domain.NewFloodWait(time.Hour, nil)
		}
		return nil
	}}
	q := NewQueue(enricher, testQueueConfig(), nil, zerolog.Nop())
	q.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}
	q.Start()
	t.Cleanup(q.Stop)

	require.NoError(t, q.Queue(Task{UserID: 9}))
	require.Eventually(t, func() bool { return q.Status().Succeeded == 1 }, time.Second, 5*time.Millisecond)

	st := q.Status()
	assert.Equal(t, int64(1), st.Requeued)
	assert.Zero(t, st.Failed)
	assert.Equal(t, 2, enricher.Calls(9))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{5 * time.Minute}, slept, "wait capped at the configured maximum")
}

func TestQueue_RequeueIntoFullQueueIsDropped(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Concurrency = 1
	cfg.QueueSize = 1

	enricher := &scriptedEnricher{fn: func(ctx context.Context, task Task, call int) error {
		if task.UserID == 1 {
			return domain.NewFloodWait(time.Minute, nil)
		}
		return nil
	}}
	q := NewQueue(enricher, cfg, nil, zerolog.Nop())
	q.sleep = func(ctx context.Context, d time.Duration) error {
		// Fill the queue while the only worker waits out the flood.
		if err := q.Queue(Task{UserID: 2}); err != nil {
			return err
		}
		for len(q.tasks) > 0 {
			time.Sleep(time.Millisecond)
		}
		return q.Queue(Task{UserID: 3})
	}
	q.Start()
	t.Cleanup(q.Stop)

	require.NoError(t, q.Queue(Task{UserID: 1}))
	require.Eventually(t, func() bool { return q.Status().Succeeded == 2 }, time.Second, 5*time.Millisecond)

	st := q.Status()
	assert.Equal(t, int64(1), st.Dropped)
	assert.Zero(t, st.Requeued)
	assert.Equal(t, 1, enricher.Calls(1))
	assert.False(t, q.IsPending(1))
}

func TestQueue_OtherErrorsDropTask(t *testing.T) {
	enricher := &scriptedEnricher{fn: func(ctx context.Context, task Task, call int) error {
		if task.UserID == 1 {
			return errors.New("boom")
		}
		return nil
	}}
	q := startQueue(t, enricher, testQueueConfig())

	require.NoError(t, q.Queue(Task{UserID: 1}))
	require.NoError(t, q.Queue(Task{UserID: 2}))
	require.Eventually(t, func() bool {
		st := q.Status()
		return st.Failed == 1 && st.Succeeded == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, enricher.Calls(1))
	assert.Equal(t, int64(2), q.Status().Processed)

	// a failed user is not remembered as completed
	require.NoError(t, q.Queue(Task{UserID: 1}))
	require.Eventually(t, func() bool { return enricher.Calls(1) == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	q := NewQueue(&scriptedEnricher{}, testQueueConfig(), nil, zerolog.Nop())
	q.Start()
	assert.True(t, q.Status().Running)

	q.Stop()
	q.Stop()
	assert.False(t, q.Status().Running)
}

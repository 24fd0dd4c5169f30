package enrichment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/infrastructure/cache"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Task asks for the extended profile of one user
type Task struct {
	// AccountID is the preferred connection, zero lets the balancer pick
	AccountID int64
	UserID    int64
	// ChannelID is the channel the user was seen in, zero when unknown
	ChannelID int64
	Source    string
}

// Enricher performs one enrichment
type Enricher interface {
	Enrich(ctx context.Context, task Task) error
}

// Status is a point-in-time view of the queue
type Status struct {
	Running    bool  `json:"running"`
	QueueDepth int   `json:"queue_depth"`
	InProgress int   `json:"in_progress"`
	Processed  int64 `json:"processed"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Requeued   int64 `json:"requeued"`
	Dropped    int64 `json:"dropped"`
	Completed  int   `json:"completed_cached"`
}

// Queue is a bounded, deduplicating enrichment work queue with a fixed number of workers.
// At most one enrichment per user id runs at any time.
type Queue struct {
	enricher Enricher
	cfg      *config.EnrichmentConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	tasks     chan Task
	sem       *semaphore.Weighted
	completed *cache.LRU[int64, struct{}]

	mu         sync.Mutex
	inProgress map[int64]struct{}
	queued     map[int64]int

	running   atomic.Bool
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	requeued  atomic.Int64
	dropped   atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates an enrichment queue. Call Start to launch the workers.
func NewQueue(enricher Enricher, cfg *config.EnrichmentConfig, m *metrics.Metrics, logger zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		enricher:   enricher,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With().Str("component", "enrichment_queue").Logger(),
		tasks:      make(chan Task, cfg.QueueSize),
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		completed:  cache.NewLRU[int64, struct{}](cfg.CompletedSize, cfg.CompletedTTL),
		inProgress: make(map[int64]struct{}),
		queued:     make(map[int64]int),
		sleep:      sleepContext,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Queue adds a task. Non-positive ids (channels and groups) and users enriched
// recently are dropped silently. A full queue fails with domain.ErrQueueFull.
func (q *Queue) Queue(task Task) error {
	if task.UserID <= 0 {
		return nil
	}
	if q.completed.Contains(task.UserID) {
		q.skipped.Add(1)
		return nil
	}

	q.mu.Lock()
	q.queued[task.UserID]++
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		q.metrics.SetEnrichmentQueueDepth(len(q.tasks))
		return nil
	default:
		q.unqueue(task.UserID)
		q.logger.Warn().Int64("user_id", task.UserID).Msg("Enrichment queue full, task dropped")
		return domain.ErrQueueFull
	}
}

// IsPending reports whether the user is waiting in the queue or being enriched
func (q *Queue) IsPending(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inProgress[userID]; ok {
		return true
	}
	return q.queued[userID] > 0
}

// Start launches the dispatch loop
func (q *Queue) Start() {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	q.logger.Info().
		Int("concurrency", q.cfg.Concurrency).
		Int("capacity", q.cfg.QueueSize).
		Msg("Starting enrichment queue")

	q.wg.Add(1)
	go q.dispatch()
}

// Stop cancels running enrichments and waits for the workers to exit.
// Tasks still queued are discarded.
func (q *Queue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}
	q.logger.Info().Msg("Stopping enrichment queue")

	q.cancel()
	q.wg.Wait()

	q.logger.Info().
		Int64("processed", q.processed.Load()).
		Int64("failed", q.failed.Load()).
		Msg("Enrichment queue stopped")
}

// Status returns a snapshot of the queue counters
func (q *Queue) Status() Status {
	q.mu.Lock()
	inProgress := len(q.inProgress)
	q.mu.Unlock()

	return Status{
		Running:    q.running.Load(),
		QueueDepth: len(q.tasks),
		InProgress: inProgress,
		Processed:  q.processed.Load(),
		Succeeded:  q.succeeded.Load(),
		Failed:     q.failed.Load(),
		Skipped:    q.skipped.Load(),
		Requeued:   q.requeued.Load(),
		Dropped:    q.dropped.Load(),
		Completed:  q.completed.Len(),
	}
}

func (q *Queue) dispatch() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			q.metrics.SetEnrichmentQueueDepth(len(q.tasks))

			if err := q.sem.Acquire(q.ctx, 1); err != nil {
				q.unqueue(task.UserID)
				return
			}

			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				defer q.sem.Release(1)
				q.process(task)
			}()
		}
	}
}

func (q *Queue) process(task Task) {
	logger := q.logger.With().
		Int64("user_id", task.UserID).
		Int64("account_id", task.AccountID).
		Str("source", task.Source).
		Logger()

	if !q.claim(task.UserID) {
		q.skipped.Add(1)
		logger.Debug().Msg("User already being enriched, skipping")
		return
	}

	started := time.Now()
	err := q.enricher.Enrich(q.ctx, task)
	q.processed.Add(1)

	if err == nil {
		q.completed.Put(task.UserID, struct{}{})
		q.release(task.UserID)
		q.succeeded.Add(1)
		q.metrics.RecordEnrichment("success", time.Since(started).Seconds())
		logger.Debug().Dur("took", time.Since(started)).Msg("User enriched")
		return
	}

	if wait, ok := domain.FloodWait(err); ok {
		wait = min(wait, q.cfg.MaxFloodWait)
		logger.Warn().Dur("wait", wait).Msg("Flood wait during enrichment, requeueing")
		q.metrics.RecordEnrichment("flood_wait", 0)

		if err := q.sleep(q.ctx, wait); err != nil {
			q.release(task.UserID)
			return
		}
		q.release(task.UserID)
		if err := q.Queue(task); err != nil {
			q.dropped.Add(1)
			q.metrics.RecordEnrichment("dropped", 0)
			logger.Warn().Err(err).Msg("Requeue after flood wait failed, task dropped")
			return
		}
		q.requeued.Add(1)
		return
	}

	q.release(task.UserID)
	if q.ctx.Err() != nil {
		return
	}
	q.failed.Add(1)
	q.metrics.RecordEnrichment("failed", 0)
	logger.Error().Err(err).Msg("Enrichment failed, task dropped")
}

// claim moves a queued user to in-progress unless another worker holds it
func (q *Queue) claim(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.decQueued(userID)
	if _, busy := q.inProgress[userID]; busy {
		return false
	}
	q.inProgress[userID] = struct{}{}
	return true
}

func (q *Queue) release(userID int64) {
	q.mu.Lock()
	delete(q.inProgress, userID)
	q.mu.Unlock()
}

func (q *Queue) unqueue(userID int64) {
	q.mu.Lock()
	q.decQueued(userID)
	q.mu.Unlock()
}

func (q *Queue) decQueued(userID int64) {
	if q.queued[userID] <= 1 {
		delete(q.queued, userID)
		return
	}
	q.queued[userID]--
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const finishTimeout = 10 * time.Second

// BackfillOptions tunes one backfill run
type BackfillOptions struct {
	// Since stops the run at the first message older than this time
	Since *time.Time
	// Reset discards the checkpoint and starts from the newest message
	Reset bool
}

// BackfillStatus describes a running backfill
type BackfillStatus struct {
	ChannelID int64     `json:"channel_id"`
	AccountID int64     `json:"account_id"`
	OffsetID  int64     `json:"offset_id"`
	Processed int64     `json:"processed"`
	Pages     int       `json:"pages"`
	StartedAt time.Time `json:"started_at"`
}

type backfillRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	status BackfillStatus
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeCancelled
	outcomeFailed
)

// Backfiller pages through channel history newest to oldest, persisting a
// checkpoint after every page. Runs are limited per account and cancellable per channel.
type Backfiller struct {
	channels  ChannelStore
	conns     *connections
	pipe      *pipeline
	members   *MemberScraper
	publisher events.Publisher
	cfg       *config.BackfillConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu      sync.Mutex
	running map[int64]*backfillRun
	limits  map[int64]*semaphore.Weighted

	sleep func(ctx context.Context, d time.Duration) error
	wg    sync.WaitGroup
}

func newBackfiller(
	channels ChannelStore,
	conns *connections,
	pipe *pipeline,
	members *MemberScraper,
	publisher events.Publisher,
	cfg *config.BackfillConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Backfiller {
	return &Backfiller{
		channels:  channels,
		conns:     conns,
		pipe:      pipe,
		members:   members,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With().Str("component", "backfill").Logger(),
		running:   make(map[int64]*backfillRun),
		limits:    make(map[int64]*semaphore.Weighted),
		sleep:     sleepContext,
	}
}

// Start launches a backfill of the channel in the background
func (b *Backfiller) Start(ctx context.Context, channelID int64, opts BackfillOptions) error {
	ch, err := b.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if _, ok := b.running[channelID]; ok {
		b.mu.Unlock()
		return domain.ErrBackfillRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	run := &backfillRun{
		cancel: cancel,
		done:   make(chan struct{}),
		status: BackfillStatus{ChannelID: channelID, StartedAt: time.Now()},
	}
	b.running[channelID] = run
	b.metrics.SetActiveBackfills(len(b.running))
	b.mu.Unlock()

	if opts.Reset {
		if err := b.channels.ResetBackfill(ctx, channelID); err != nil {
			b.forget(channelID, run)
			cancel()
			return err
		}
		ch.BackfillOffsetID = 0
		ch.BackfillMessageCount = 0
		ch.BackfillDone = false
	}

	b.wg.Add(1)
	go b.run(runCtx, run, ch, opts)
	return nil
}

// Stop cancels the channel's backfill and waits until it has persisted its state
func (b *Backfiller) Stop(ctx context.Context, channelID int64) error {
	b.mu.Lock()
	run, ok := b.running[channelID]
	b.mu.Unlock()
	if !ok {
		return domain.ErrBackfillNotRunning
	}

	run.cancel()
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll cancels every backfill and waits for them to exit
func (b *Backfiller) StopAll() {
	b.mu.Lock()
	for _, run := range b.running {
		run.cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Active lists running backfills ordered by channel
func (b *Backfiller) Active() []BackfillStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BackfillStatus, 0, len(b.running))
	for _, run := range b.running {
		out = append(out, run.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// IsRunning reports whether the channel has an active backfill
func (b *Backfiller) IsRunning(channelID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.running[channelID]
	return ok
}

func (b *Backfiller) run(ctx context.Context, run *backfillRun, ch *entities.MonitoredChannel, opts BackfillOptions) {
	defer b.wg.Done()
	defer close(run.done)
	defer b.forget(ch.ID, run)

	logger := b.logger.With().Int64("channel_id", ch.ID).Int64("telegram_id", ch.TelegramID).Logger()

	accountID, client, err := b.conns.forChannel(ctx, ch)
	if err != nil {
		b.finish(ch, run, failure(ctx), err, logger)
		return
	}
	b.update(run, func(s *BackfillStatus) { s.AccountID = accountID })
	logger = logger.With().Int64("account_id", accountID).Logger()

	limit := b.limit(accountID)
	if err := limit.Acquire(ctx, 1); err != nil {
		b.finish(ch, run, outcomeCancelled, nil, logger)
		return
	}
	defer limit.Release(1)

	if err := b.channels.BeginBackfill(ctx, ch.ID); err != nil {
		b.finish(ch, run, failure(ctx), err, logger)
		return
	}

	startData := map[string]any{"account_id": accountID, "offset_id": ch.BackfillOffsetID}
	if opts.Since != nil {
		startData["since"] = opts.Since.UTC()
	}
	events.Emit(ctx, b.publisher, logger, events.New(events.BackfillStarted, ch.ID, startData))
	logger.Info().Int64("offset_id", ch.BackfillOffsetID).Msg("Backfill started")

	err = b.pages(ctx, run, ch, accountID, client, opts, logger)
	switch {
	case ctx.Err() != nil:
		b.finish(ch, run, outcomeCancelled, nil, logger)
	case err != nil:
		b.finish(ch, run, outcomeFailed, err, logger)
	default:
		b.finish(ch, run, outcomeCompleted, nil, logger)
		if b.cfg.AutoScrapeMembers && ch.IsGroup() && b.members != nil {
			if _, err := b.members.Scrape(ctx, ch.ID); err != nil {
				logger.Warn().Err(err).Msg("Automatic member scrape failed")
			}
		}
	}
}

// pages runs the page loop until the history or the since cutoff is exhausted
func (b *Backfiller) pages(
	ctx context.Context,
	run *backfillRun,
	ch *entities.MonitoredChannel,
	accountID int64,
	client domain.Client,
	opts BackfillOptions,
	logger zerolog.Logger,
) error {
	peer, err := peerFor(ctx, client, ch)
	if err != nil {
		return err
	}

	offset := ch.BackfillOffsetID
	processed := ch.BackfillMessageCount
	empty := 0
	failures := 0
	maxFailures := max(b.cfg.MaxPageFailures, 1)

	for ctx.Err() == nil {
		page, err := client.GetHistory(ctx, peer, domain.HistoryRequest{OffsetID: offset, Limit: b.cfg.BatchSize})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if wait, ok := domain.FloodWait(err); ok {
				b.conns.clients.ReportError(accountID, err)
				wait = min(wait, b.cfg.MaxFloodWait)
				logger.Warn().Dur("wait", wait).Int64("offset_id", offset).Msg("Flood wait during backfill")
				if err := b.sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}

			failures++
			if failures >= maxFailures {
				b.conns.clients.ReportError(accountID, err)
				return fmt.Errorf("history at offset %d failed %d times in a row: %w", offset, failures, err)
			}

			next, nextClient, ferr := b.conns.handleFailure(ctx, ch, accountID, err)
			if ferr != nil {
				return ferr
			}
			if next != accountID {
				accountID = next
				b.update(run, func(s *BackfillStatus) { s.AccountID = next })
				if peer, ferr = peerFor(ctx, nextClient, ch); ferr != nil {
					return ferr
				}
			}
			client = nextClient

			delay := b.retryDelay(failures)
			logger.Warn().
				Err(err).
				Int("failures", failures).
				Dur("delay", delay).
				Int64("offset_id", offset).
				Msg("History page failed, retrying")
			if err := b.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		failures = 0
		b.conns.clients.ReportSuccess(accountID)

		if len(page) == 0 {
			empty++
			if empty >= b.cfg.EmptyPageLimit {
				return nil
			}
			continue
		}
		empty = 0

		keep, cutoff := beforeCutoff(page, opts.Since)
		res := b.pipe.store(ctx, ch, accountID, ModeBackfill, keep)

		offset = oldestID(page)
		processed += int64(len(res.stored))
		if err := b.channels.SaveCheckpoint(ctx, ch.ID, offset, processed); err != nil {
			return err
		}
		b.metrics.RecordBackfillPage()
		b.update(run, func(s *BackfillStatus) {
			s.OffsetID = offset
			s.Processed = processed
			s.Pages++
		})

		events.Emit(ctx, b.publisher, logger, events.New(events.BackfillProgress, ch.ID, map[string]any{
			"offset_id":  offset,
			"processed":  processed,
			"page_size":  len(page),
			"stored":     len(res.stored),
			"duplicates": res.duplicates,
			"failed":     res.failed,
		}))
		logger.Debug().
			Int64("offset_id", offset).
			Int("stored", len(res.stored)).
			Int("duplicates", res.duplicates).
			Msg("Backfill page stored")

		if cutoff {
			return nil
		}
		if err := b.sleep(ctx, b.cfg.PageDelay); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// retryDelay doubles per consecutive failure, capped by the flood wait ceiling
func (b *Backfiller) retryDelay(failures int) time.Duration {
	delay := b.cfg.RetryBaseDelay * time.Duration(1<<(failures-1))
	if b.cfg.MaxFloodWait > 0 {
		delay = min(delay, b.cfg.MaxFloodWait)
	}
	return delay
}

func (b *Backfiller) finish(ch *entities.MonitoredChannel, run *backfillRun, o outcome, cause error, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	b.mu.Lock()
	st := run.status
	b.mu.Unlock()

	data := map[string]any{"processed": st.Processed, "offset_id": st.OffsetID, "pages": st.Pages}
	var event events.Type
	var err error

	switch o {
	case outcomeCompleted:
		err = b.channels.FinishBackfill(ctx, ch.ID, true, nil)
		event = events.BackfillCompleted
		logger.Info().Int64("processed", st.Processed).Msg("Backfill completed")
	case outcomeCancelled:
		err = b.channels.FinishBackfill(ctx, ch.ID, false, nil)
		event = events.BackfillCancelled
		logger.Info().Int64("offset_id", st.OffsetID).Msg("Backfill cancelled")
	default:
		err = b.channels.FinishBackfill(ctx, ch.ID, false, cause)
		event = events.BackfillFailed
		data["error"] = cause.Error()
		logger.Error().Err(cause).Int64("offset_id", st.OffsetID).Msg("Backfill failed")
	}
	if err != nil && !errors.Is(err, domain.ErrChannelNotFound) {
		logger.Error().Err(err).Msg("Failed to persist backfill state")
	}

	events.Emit(ctx, b.publisher, logger, events.New(event, ch.ID, data))
}

// failure is the outcome of an error, which is a cancellation once ctx is done
func failure(ctx context.Context) outcome {
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	return outcomeFailed
}

func (b *Backfiller) update(run *backfillRun, fn func(s *BackfillStatus)) {
	b.mu.Lock()
	fn(&run.status)
	b.mu.Unlock()
}

func (b *Backfiller) forget(channelID int64, run *backfillRun) {
	b.mu.Lock()
	if b.running[channelID] == run {
		delete(b.running, channelID)
	}
	b.metrics.SetActiveBackfills(len(b.running))
	b.mu.Unlock()
}

// limit returns the account's backfill semaphore, creating it on first use
func (b *Backfiller) limit(accountID int64) *semaphore.Weighted {
	b.mu.Lock()
	defer b.mu.Unlock()

	sem, ok := b.limits[accountID]
	if !ok {
		sem = semaphore.NewWeighted(int64(b.cfg.PerAccountLimit))
		b.limits[accountID] = sem
	}
	return sem
}

// beforeCutoff keeps the messages sent at or after since. cutoff is true when
// the page reached older messages.
func beforeCutoff(page []domain.RawMessage, since *time.Time) (keep []domain.RawMessage, cutoff bool) {
	if since == nil {
		return page, false
	}
	keep = make([]domain.RawMessage, 0, len(page))
	for _, m := range page {
		if m.Date.Before(*since) {
			cutoff = true
			continue
		}
		keep = append(keep, m)
	}
	return keep, cutoff
}

func oldestID(page []domain.RawMessage) int64 {
	oldest := page[0].ID
	for _, m := range page[1:] {
		oldest = min(oldest, m.ID)
	}
	return oldest
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

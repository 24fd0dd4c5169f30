package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/enrichment"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// SourcePassive tags tasks queued by the scheduler
const SourcePassive = "passive"

// UserSelector picks users due for enrichment: those without a photo first,
// then those last enriched before staleBefore
type UserSelector interface {
	SelectForEnrichment(ctx context.Context, limit int, staleBefore time.Time) ([]entities.User, error)
}

// Accounts lists the available accounts, least recently used first, and
// lets a cycle wait out a flood wait that pauses all of them
type Accounts interface {
	LeastRecentlyUsed() []int64
	AllClientsBlocked() bool
	WaitForClient(ctx context.Context) (int64, domain.Client, error)
}

// TaskQueue accepts enrichment tasks
type TaskQueue interface {
	Queue(task enrichment.Task) error
}

// CycleReport describes one passive cycle
type CycleReport struct {
	At       time.Time `json:"at"`
	Selected int       `json:"selected"`
	Queued   int       `json:"queued"`
	Rejected int       `json:"rejected"`
	Accounts int       `json:"accounts"`
}

// Status is the scheduler part of the status snapshot
type Status struct {
	Running   bool         `json:"running"`
	Restarts  int          `json:"restarts"`
	Cycles    int          `json:"cycles"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// Passive periodically queues users for enrichment. A gocron watchdog restarts
// the cycle goroutine whenever it has died.
type Passive struct {
	users    UserSelector
	accounts Accounts
	queue    TaskQueue
	cfg      *config.SchedulerConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu        sync.Mutex
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	restarts  int
	cycles    int
	lastCycle *CycleReport
	lastError string

	now func() time.Time
}

// New creates the passive scheduler
func New(
	users UserSelector,
	accounts Accounts,
	queue TaskQueue,
	cfg *config.SchedulerConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Passive {
	return &Passive{
		users:    users,
		accounts: accounts,
		queue:    queue,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "passive_scheduler").Logger(),
		now:      time.Now,
	}
}

// Start launches the cycle goroutine and the watchdog job
func (p *Passive) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(newCronLogger(p.logger)),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(p.cfg.WatchdogInterval),
		gocron.NewTask(p.Watchdog),
		gocron.WithName("passive-enrichment-watchdog"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule watchdog: %w", err)
	}

	p.scheduler = s
	p.started = true
	p.launchLocked()
	s.Start()

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Dur("watchdog", p.cfg.WatchdogInterval).
		Msg("Passive enrichment started")
	return nil
}

// Stop shuts the watchdog down first so it cannot revive the cycle, then stops the cycle
func (p *Passive) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	s, cancel, done := p.scheduler, p.cancel, p.done
	p.mu.Unlock()

	err := s.Shutdown()
	cancel()
	<-done

	p.logger.Info().Msg("Passive enrichment stopped")
	return err
}

// Watchdog restarts the cycle goroutine when it is no longer running
func (p *Passive) Watchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	select {
	case <-p.done:
	default:
		return
	}

	p.restarts++
	p.metrics.RecordSchedulerRestart()
	p.logger.Warn().Int("restarts", p.restarts).Msg("Passive enrichment cycle died, restarting")
	p.launchLocked()
}

// Status returns a snapshot of the scheduler
func (p *Passive) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Restarts:  p.restarts,
		Cycles:    p.cycles,
		LastError: p.lastError,
	}
	if p.started {
		select {
		case <-p.done:
		default:
			st.Running = true
		}
	}
	if p.lastCycle != nil {
		c := *p.lastCycle
		st.LastCycle = &c
	}
	return st
}

// RunCycle selects due users and spreads them over the available accounts,
// least recently used first
func (p *Passive) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{At: p.now()}

	accounts := p.accounts.LeastRecentlyUsed()
	if len(accounts) == 0 && p.accounts.AllClientsBlocked() {
		p.logger.Info().Msg("All accounts in flood wait, waiting before passive cycle")
		if _, _, err := p.accounts.WaitForClient(ctx); err != nil {
			p.logger.Debug().Err(err).Msg("Gave up waiting for an account")
		}
		accounts = p.accounts.LeastRecentlyUsed()
	}
	report.Accounts = len(accounts)
	if len(accounts) == 0 {
		p.logger.Debug().Msg("No available accounts, skipping passive cycle")
		p.finishCycle(report, nil)
		return report, nil
	}

	users, err := p.users.SelectForEnrichment(ctx, p.cfg.BatchSize, report.At.Add(-p.cfg.ReEnrichAfter))
	if err != nil {
		err = fmt.Errorf("select users: %w", err)
		p.finishCycle(report, err)
		return report, err
	}
	report.Selected = len(users)

	for i, u := range users {
		err := p.queue.Queue(enrichment.Task{
			AccountID: accounts[i%len(accounts)],
			UserID:    u.TelegramID,
			Source:    SourcePassive,
		})
		switch {
		case err == nil:
			report.Queued++
		case errors.Is(err, domain.ErrQueueFull):
			report.Rejected += len(users) - i
			p.logger.Warn().Int("rejected", report.Rejected).Msg("Enrichment queue full, ending cycle early")
			p.finishCycle(report, nil)
			return report, nil
		default:
			report.Rejected++
		}
	}

	p.finishCycle(report, nil)
	return report, nil
}

func (p *Passive) finishCycle(report CycleReport, err error) {
	p.metrics.RecordSchedulerCycle(report.Queued)

	p.mu.Lock()
	p.cycles++
	p.lastCycle = &report
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error().Err(err).Msg("Passive enrichment cycle failed")
		return
	}
	p.logger.Info().
		Int("selected", report.Selected).
		Int("queued", report.Queued).
		Int("accounts", report.Accounts).
		Msg("Passive enrichment cycle finished")
}

func (p *Passive) launchLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(ctx, done)
}

// loop runs a cycle immediately and then on every tick until cancelled.
// A panic ends the goroutine and is left to the watchdog.
func (p *Passive) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Passive enrichment cycle panicked")
		}
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		// errors are recorded by RunCycle, the loop keeps going
		_, _ = p.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/recovery/deps"
	"github.com/Conte777/tgvault/internal/domain/registry"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConnectTimeout = 30 * time.Second
	disconnectTimeout     = 5 * time.Second
)

// Manager owns every connect and disconnect of the account registry.
// Reconnects of one account are collapsed into a single in-flight attempt.
type Manager struct {
	registry  *registry.Registry
	connector deps.Connector
	accounts  deps.AccountRepository
	cfg       *config.RecoveryConfig
	tgCfg     *config.TelegramConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu       sync.Mutex
	statuses map[int64]*SessionStatus

	flights singleflight.Group

	backupMu sync.Mutex
	backups  map[int64]int64 // failed account -> backup account

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a recovery manager
func NewManager(
	reg *registry.Registry,
	connector deps.Connector,
	accounts deps.AccountRepository,
	cfg *config.RecoveryConfig,
	tgCfg *config.TelegramConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		registry:  reg,
		connector: connector,
		accounts:  accounts,
		cfg:       cfg,
		tgCfg:     tgCfg,
		metrics:   m,
		logger:    logger.With().Str("component", "recovery").Logger(),
		statuses:  make(map[int64]*SessionStatus),
		backups:   make(map[int64]int64),
		now:       time.Now,
		sleep:     sleepContext,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// EnsureSessionActive returns a connected, authorized client for the account,
// reconnecting when needed. Unauthorized accounts fail with domain.ErrUnauthorized
// until ResetAccount is called.
func (m *Manager) EnsureSessionActive(ctx context.Context, accountID int64) (domain.Client, error) {
	if m.health(accountID) == HealthUnauthorized {
		return nil, domain.ErrUnauthorized
	}

	client, ok := m.registry.Get(accountID)
	if ok && client.IsConnected() {
		authorized, err := m.checkAuthorized(ctx, client)
		if err == nil && authorized {
			m.markHealthy(accountID)
			return client, nil
		}
		if err != nil {
			m.logger.Debug().Err(err).Int64("account_id", accountID).Msg("Authorization check failed")
		}
	}

	return m.reconnect(ctx, accountID, client)
}

// HandleDisconnection reacts to an upstream failure of an account and tries to
// bring it back. Flood waits are slept out, capped by the configured maximum.
func (m *Manager) HandleDisconnection(ctx context.Context, accountID int64, cause error) (domain.Client, error) {
	logger := m.logger.With().Int64("account_id", accountID).Err(cause).Logger()
	stale, _ := m.registry.Get(accountID)

	switch kind := domain.KindOf(cause); kind {
	case domain.KindFloodWait:
		wait, _ := domain.FloodWait(cause)
		until := m.now().Add(wait)
		m.update(accountID, func(s *SessionStatus) {
			s.Health = HealthRateLimited
			s.FloodWaitUntil = &until
			s.LastError = cause.Error()
		})
		m.metrics.RecordRateLimit()
		if err := m.accounts.RecordFloodWait(ctx, accountID); err != nil {
			logger.Warn().Err(err).Msg("Failed to record flood wait")
		}

		pause := min(wait, m.cfg.MaxFloodWait)
		logger.Warn().Dur("wait", wait).Dur("pause", pause).Msg("Account rate limited, pausing")
		if err := m.sleep(ctx, pause); err != nil {
			return nil, err
		}
		return m.EnsureSessionActive(ctx, accountID)

	case domain.KindUnauthorized:
		m.markUnauthorized(ctx, accountID, cause)
		logger.Error().Msg("Account session is no longer authorized")
		return nil, domain.ErrUnauthorized

	case domain.KindDisconnected, domain.KindTimeout:
		m.update(accountID, func(s *SessionStatus) {
			s.Health = HealthDisconnected
			s.LastError = cause.Error()
		})
		logger.Warn().Str("kind", kind.String()).Msg("Account disconnected, reconnecting")
		return m.reconnect(ctx, accountID, stale)

	default:
		m.update(accountID, func(s *SessionStatus) {
			s.Health = HealthError
			s.LastError = cause.Error()
		})
		logger.Warn().Msg("Account failed, reconnecting")
		return m.reconnect(ctx, accountID, stale)
	}
}

// RotateToBackup returns a healthy backup account standing in for failedID.
// A previous assignment is reused while it stays connected.
func (m *Manager) RotateToBackup(ctx context.Context, failedID int64) (int64, domain.Client, error) {
	m.backupMu.Lock()
	defer m.backupMu.Unlock()

	if backupID, ok := m.backups[failedID]; ok {
		if client, ok := m.registry.Get(backupID); ok && client.IsConnected() && m.health(backupID) == HealthHealthy {
			return backupID, client, nil
		}
		delete(m.backups, failedID)
	}

	pool, err := m.accounts.ListBackups(ctx)
	if err != nil {
		return 0, nil, err
	}

	assigned := make(map[int64]bool, len(m.backups))
	for _, b := range m.backups {
		assigned[b] = true
	}

	for _, acc := range pool {
		if acc.ID == failedID || assigned[acc.ID] || m.health(acc.ID) == HealthUnauthorized {
			continue
		}

		client, err := m.EnsureSessionActive(ctx, acc.ID)
		if err != nil {
			m.logger.Warn().Err(err).Int64("backup_id", acc.ID).Msg("Backup account unusable")
			continue
		}

		m.backups[failedID] = acc.ID
		m.logger.Info().
			Int64("account_id", failedID).
			Int64("backup_id", acc.ID).
			Msg("Rotated to backup account")
		return acc.ID, client, nil
	}

	return 0, nil, fmt.Errorf("%w for account %d", domain.ErrNoBackupAvailable, failedID)
}

// ResetAccount clears the reconnect budget and any terminal state of an account
func (m *Manager) ResetAccount(accountID int64) {
	m.update(accountID, func(s *SessionStatus) {
		s.Health = HealthUnknown
		s.ReconnectAttempts = 0
		s.FloodWaitUntil = nil
		s.LastError = ""
	})
}

// InitializeAccounts connects every active account in parallel, bounded by the
// configured concurrency. Failures are reported, not returned.
func (m *Manager) InitializeAccounts(ctx context.Context) (*InitReport, error) {
	accounts, err := m.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	report := &InitReport{
		Total:  len(accounts),
		Errors: make(map[int64]error),
	}
	if len(accounts) == 0 {
		m.logger.Warn().Msg("No accounts configured for initialization")
		return report, nil
	}

	limit := 1
	if m.tgCfg != nil && m.tgCfg.InitConcurrency > 0 {
		limit = m.tgCfg.InitConcurrency
	}
	m.logger.Info().
		Int("count", len(accounts)).
		Int("max_concurrent", limit).
		Msg("Starting account initialization")

	var reportMu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for _, acc := range accounts {
		g.Go(func() error {
			_, err := m.EnsureSessionActive(ctx, acc.ID)

			reportMu.Lock()
			defer reportMu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors[acc.ID] = err
				return nil
			}
			report.Successful++
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.SetActiveAccounts(len(m.registry.Connected()))
	m.logger.Info().
		Int("total", report.Total).
		Int("successful", report.Successful).
		Int("failed", report.Failed).
		Msg("Account initialization completed")

	return report, nil
}

// Statuses returns a copy of every tracked session status
func (m *Manager) Statuses() []SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, *s)
	}
	return out
}

// Status returns the session status of one account
func (m *Manager) Status(accountID int64) (SessionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[accountID]
	if !ok {
		return SessionStatus{AccountID: accountID, Health: HealthUnknown}, false
	}
	return *s, true
}

// Start launches the health monitor
func (m *Manager) Start() {
	m.logger.Info().
		Dur("interval", m.cfg.HealthInterval).
		Dur("check_timeout", m.cfg.HealthCheckTimeout).
		Msg("Starting session health monitor")

	m.wg.Add(1)
	go m.monitor()
}

// Stop halts the health monitor and disconnects every client
func (m *Manager) Stop(ctx context.Context) {
	m.logger.Info().Msg("Stopping session health monitor")

	m.cancel()
	m.wg.Wait()

	for id, client := range m.registry.Snapshot() {
		if err := client.Disconnect(ctx); err != nil {
			m.logger.Warn().Err(err).Int64("account_id", id).Msg("Failed to disconnect client")
		}
	}
	m.logger.Info().Msg("Session health monitor stopped")
}

func (m *Manager) monitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(m.ctx)
		}
	}
}

// CheckAll refreshes the health of every registered client without reconnecting
func (m *Manager) CheckAll(ctx context.Context) {
	for id, client := range m.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		m.check(ctx, id, client)
	}
	m.publishHealth()
}

func (m *Manager) check(ctx context.Context, accountID int64, client domain.Client) {
	if !client.IsConnected() {
		m.update(accountID, func(s *SessionStatus) { s.Health = HealthDisconnected })
		return
	}

	authorized, err := m.checkAuthorized(ctx, client)
	switch {
	case err != nil && domain.KindOf(err) == domain.KindUnauthorized:
		m.markUnauthorized(ctx, accountID, err)
	case err != nil:
		m.update(accountID, func(s *SessionStatus) {
			s.Health = HealthError
			s.LastError = err.Error()
		})
	case !authorized:
		m.markUnauthorized(ctx, accountID, domain.ErrUnauthorized)
	default:
		m.update(accountID, func(s *SessionStatus) {
			if s.Health == HealthRateLimited && s.FloodWaitUntil != nil && m.now().Before(*s.FloodWaitUntil) {
				return
			}
			s.Health = HealthHealthy
			s.FloodWaitUntil = nil
		})
	}
}

func (m *Manager) checkAuthorized(ctx context.Context, client domain.Client) (bool, error) {
	timeout := m.cfg.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return client.IsAuthorized(checkCtx)
}

// reconnect collapses concurrent requests for one account into one attempt.
// stale is the client the caller found unusable, nil when it found none. The
// attempt outlives a cancelled caller and stops with the manager or on timeout.
func (m *Manager) reconnect(ctx context.Context, accountID int64, stale domain.Client) (domain.Client, error) {
	flight := m.flights.DoChan(strconv.FormatInt(accountID, 10), func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.reconnectTimeout(accountID))
		defer cancel()
		stop := context.AfterFunc(m.ctx, cancel)
		defer stop()

		return m.doReconnect(flightCtx, accountID, stale)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Shared {
			m.logger.Debug().Int64("account_id", accountID).Msg("Joined in-flight reconnection")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(domain.Client), nil
	}
}

// reconnectTimeout bounds one attempt: the pending backoff plus the dial
func (m *Manager) reconnectTimeout(accountID int64) time.Duration {
	timeout := defaultConnectTimeout
	if m.tgCfg != nil && m.tgCfg.ConnectTimeout > 0 {
		timeout = m.tgCfg.ConnectTimeout
	}
	status, _ := m.Status(accountID)
	return timeout + m.backoff(status.ReconnectAttempts) + disconnectTimeout
}

func (m *Manager) backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	return m.cfg.ReconnectBaseDelay * time.Duration(1<<attempts)
}

func (m *Manager) doReconnect(ctx context.Context, accountID int64, stale domain.Client) (domain.Client, error) {
	logger := m.logger.With().Int64("account_id", accountID).Logger()

	unlock := m.registry.Lock(accountID)
	defer unlock()

	status, _ := m.Status(accountID)
	if status.Health == HealthUnauthorized {
		return nil, domain.ErrUnauthorized
	}

	// Another attempt may have replaced the client since the caller looked.
	if current, ok := m.registry.Get(accountID); ok && current != stale && current.IsConnected() {
		if authorized, err := m.checkAuthorized(ctx, current); err == nil && authorized {
			m.markHealthy(accountID)
			logger.Debug().Msg("Client already replaced, skipping reconnect")
			return current, nil
		}
	}

	if status.ReconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.metrics.RecordReconnection("exhausted")
		return nil, fmt.Errorf("%w: account %d after %d attempts",
			domain.ErrReconnectExhausted, accountID, status.ReconnectAttempts)
	}

	if delay := m.backoff(status.ReconnectAttempts); delay > 0 {
		logger.Info().
			Int("attempt", status.ReconnectAttempts+1).
			Dur("delay", delay).
			Msg("Waiting before reconnect")
		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if old, ok := m.registry.Get(accountID); ok {
		m.disconnect(old, logger)
	}

	connectCtx := ctx
	if m.tgCfg != nil && m.tgCfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, m.tgCfg.ConnectTimeout)
		defer cancel()
	}

	client, err := m.connector.Connect(connectCtx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			m.markUnauthorized(ctx, accountID, err)
			m.metrics.RecordReconnection("unauthorized")
			return nil, fmt.Errorf("reconnect account %d: %w", accountID, domain.ErrUnauthorized)
		}

		m.update(accountID, func(s *SessionStatus) {
			s.ReconnectAttempts++
			s.Health = HealthError
			if domain.KindOf(err) == domain.KindDisconnected {
				s.Health = HealthDisconnected
			}
			s.LastError = err.Error()
		})
		if serr := m.accounts.UpdateStatus(ctx, accountID, entities.AccountStatusDisconnected, err); serr != nil {
			logger.Warn().Err(serr).Msg("Failed to persist account status")
		}
		m.metrics.RecordReconnection("failed")
		logger.Warn().Err(err).Msg("Reconnect failed")
		return nil, fmt.Errorf("reconnect account %d: %w", accountID, err)
	}

	m.registry.Replace(client)
	m.update(accountID, func(s *SessionStatus) {
		s.ReconnectAttempts = 0
		s.LastError = ""
	})
	m.markHealthy(accountID)
	if err := m.accounts.UpdateStatus(ctx, accountID, entities.AccountStatusConnected, nil); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist account status")
	}
	m.metrics.RecordReconnection("success")
	m.metrics.SetActiveAccounts(len(m.registry.Connected()))
	logger.Info().Msg("Account connected")

	return client, nil
}

func (m *Manager) disconnect(client domain.Client, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		logger.Debug().Err(err).Msg("Failed to disconnect stale client")
	}
}

func (m *Manager) health(accountID int64) Health {
	status, _ := m.Status(accountID)
	return status.Health
}

func (m *Manager) markHealthy(accountID int64) {
	now := m.now()
	m.update(accountID, func(s *SessionStatus) {
		s.Health = HealthHealthy
		s.LastSuccess = &now
		s.FloodWaitUntil = nil
	})
}

func (m *Manager) markUnauthorized(ctx context.Context, accountID int64, cause error) {
	m.update(accountID, func(s *SessionStatus) {
		s.Health = HealthUnauthorized
		s.LastError = cause.Error()
	})
	if err := m.accounts.UpdateStatus(ctx, accountID, entities.AccountStatusAuthRequired, cause); err != nil {
		m.logger.Warn().Err(err).Int64("account_id", accountID).Msg("Failed to persist account status")
	}
}

func (m *Manager) update(accountID int64, fn func(s *SessionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[accountID]
	if !ok {
		s = &SessionStatus{AccountID: accountID, Health: HealthUnknown}
		m.statuses[accountID] = s
	}
	fn(s)
	s.LastCheck = m.now()
}

func (m *Manager) publishHealth() {
	counts := make(map[string]int)
	for _, s := range m.Statuses() {
		counts[string(s.Health)]++
	}
	m.metrics.SetAccountHealth(counts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

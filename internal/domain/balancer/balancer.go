package balancer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/registry"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// AccountStats are the per-account counters kept by the balancer
type AccountStats struct {
	AccountID      int64      `json:"account_id"`
	Requests       int64      `json:"requests"`
	Successes      int64      `json:"successes"`
	Errors         int64      `json:"errors"`
	FloodWaits     int64      `json:"flood_waits"`
	LastError      string     `json:"last_error,omitempty"`
	LastUsed       time.Time  `json:"last_used"`
	FloodWaitUntil *time.Time `json:"flood_wait_until,omitempty"`
}

// Balancer hands out connected clients round-robin, skipping accounts in flood wait
type Balancer struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu    sync.Mutex
	stats map[int64]*AccountStats
	next  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a balancer over the registry
func New(reg *registry.Registry, m *metrics.Metrics, logger zerolog.Logger) *Balancer {
	return &Balancer{
		registry: reg,
		metrics:  m,
		logger:   logger.With().Str("component", "balancer").Logger(),
		stats:    make(map[int64]*AccountStats),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// GetNextClient returns the next connected account not in flood wait
func (b *Balancer) GetNextClient() (int64, domain.Client, error) {
	ids := b.registry.Connected()
	if len(ids) == 0 {
		return 0, nil, domain.ErrNoActiveAccounts
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	start := b.next % len(ids)
	for i := range ids {
		id := ids[(start+i)%len(ids)]
		st := b.statsLocked(id)
		if st.FloodWaitUntil != nil && now.Before(*st.FloodWaitUntil) {
			continue
		}

		client, ok := b.registry.Get(id)
		if !ok {
			continue
		}

		b.next = start + i + 1
		st.Requests++
		st.LastUsed = now
		return id, client, nil
	}

	return 0, nil, domain.ErrAllClientsBlocked
}

// GetClient returns a specific account's client if it is connected and not in flood wait
func (b *Balancer) GetClient(accountID int64) (domain.Client, error) {
	client, ok := b.registry.Get(accountID)
	if !ok || !client.IsConnected() {
		return nil, domain.ErrNotConnected
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.statsLocked(accountID)
	now := b.now()
	if st.FloodWaitUntil != nil && now.Before(*st.FloodWaitUntil) {
		return nil, domain.NewFloodWait(st.FloodWaitUntil.Sub(now), nil)
	}
	st.Requests++
	st.LastUsed = now
	return client, nil
}

// WaitForClient blocks until some account is available, sleeping exactly until
// the earliest flood wait ends instead of polling
func (b *Balancer) WaitForClient(ctx context.Context) (int64, domain.Client, error) {
	for {
		id, client, err := b.GetNextClient()
		if !errors.Is(err, domain.ErrAllClientsBlocked) {
			return id, client, err
		}

		wait := b.MinFloodWaitRemaining()
		b.logger.Info().Dur("wait", wait).Msg("All clients in flood wait, pausing")
		if err := b.sleep(ctx, wait); err != nil {
			return 0, nil, err
		}
	}
}

// ReportSuccess records a successful request
func (b *Balancer) ReportSuccess(accountID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.statsLocked(accountID).Successes++
}

// ReportError records a failed request. Flood waits are routed to ReportFloodWait.
func (b *Balancer) ReportError(accountID int64, err error) {
	if wait, ok := domain.FloodWait(err); ok {
		b.ReportFloodWait(accountID, wait)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.statsLocked(accountID)
	st.Errors++
	if err != nil {
		st.LastError = err.Error()
	}
}

// ReportFloodWait blocks the account until the wait has passed
func (b *Balancer) ReportFloodWait(accountID int64, wait time.Duration) {
	b.mu.Lock()
	st := b.statsLocked(accountID)
	until := b.now().Add(wait)
	if st.FloodWaitUntil == nil || until.After(*st.FloodWaitUntil) {
		st.FloodWaitUntil = &until
	}
	st.FloodWaits++
	b.mu.Unlock()

	b.metrics.RecordRateLimit()
	b.logger.Warn().
		Int64("account_id", accountID).
		Dur("wait", wait).
		Msg("Account entered flood wait")
}

// AllClientsBlocked reports whether every connected account is in flood wait
func (b *Balancer) AllClientsBlocked() bool {
	ids := b.registry.Connected()
	if len(ids) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, id := range ids {
		st := b.statsLocked(id)
		if st.FloodWaitUntil == nil || !now.Before(*st.FloodWaitUntil) {
			return false
		}
	}
	return true
}

// MinFloodWaitRemaining is the time until the first connected account becomes
// available; zero when one already is
func (b *Balancer) MinFloodWaitRemaining() time.Duration {
	ids := b.registry.Connected()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var minWait time.Duration
	for i, id := range ids {
		st := b.statsLocked(id)
		if st.FloodWaitUntil == nil || !now.Before(*st.FloodWaitUntil) {
			return 0
		}
		remaining := st.FloodWaitUntil.Sub(now)
		if i == 0 || remaining < minWait {
			minWait = remaining
		}
	}
	return minWait
}

// LeastRecentlyUsed returns the available accounts, least recently used first
func (b *Balancer) LeastRecentlyUsed() []int64 {
	ids := b.registry.Connected()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	available := make([]int64, 0, len(ids))
	for _, id := range ids {
		st := b.statsLocked(id)
		if st.FloodWaitUntil != nil && now.Before(*st.FloodWaitUntil) {
			continue
		}
		available = append(available, id)
	}

	slices.SortStableFunc(available, func(a, c int64) int {
		return b.stats[a].LastUsed.Compare(b.stats[c].LastUsed)
	})
	return available
}

// Stats returns a copy of every account's counters ordered by account id
func (b *Balancer) Stats() []AccountStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]AccountStats, 0, len(b.stats))
	for _, st := range b.stats {
		cp := *st
		if st.FloodWaitUntil != nil {
			until := *st.FloodWaitUntil
			cp.FloodWaitUntil = &until
		}
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, c AccountStats) int {
		switch {
		case a.AccountID < c.AccountID:
			return -1
		case a.AccountID > c.AccountID:
			return 1
		}
		return 0
	})
	return out
}

func (b *Balancer) statsLocked(accountID int64) *AccountStats {
	st, ok := b.stats[accountID]
	if !ok {
		st = &AccountStats{AccountID: accountID}
		b.stats[accountID] = st
	}
	return st
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

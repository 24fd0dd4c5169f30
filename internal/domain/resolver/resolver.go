package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/infrastructure/cache"
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// HintSource looks up stored facts about a peer that alternative strategies can use
type HintSource interface {
	PeerHints(ctx context.Context, telegramID int64) (domain.PeerHints, error)
}

// access hashes are per account, so cached peers are too
type peerKey struct {
	accountID int64
	peerID    int64
}

type strategy struct {
	name     string
	attempts int
	run      func(ctx context.Context, client domain.Client, id int64, hints domain.PeerHints) (*domain.Peer, error)
}

// Resolver turns numeric peer ids into usable peers with layered strategies.
// Peers that keep failing as private, deleted or invalid are marked unavailable
// for a cool-down period.
type Resolver struct {
	hints       HintSource
	cfg         *config.ResolverConfig
	resolved    *cache.LRU[peerKey, domain.Peer]
	unavailable *cache.LRU[int64, time.Time]
	failures    *cache.LRU[int64, int]
	failuresMu  sync.Mutex
	strategies  []strategy
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a resolver. hints may be nil.
func New(hints HintSource, cfg *config.ResolverConfig, m *metrics.Metrics, logger zerolog.Logger) *Resolver {
	r := &Resolver{
		hints:       hints,
		cfg:         cfg,
		resolved:    cache.NewLRU[peerKey, domain.Peer](cfg.CacheSize, cfg.CacheTTL),
		unavailable: cache.NewLRU[int64, time.Time](cfg.CacheSize, cfg.UnavailableTTL),
		failures:    cache.NewLRU[int64, int](cfg.CacheSize, cfg.UnavailableTTL),
		metrics:     m,
		logger:      logger.With().Str("component", "resolver").Logger(),
		sleep:       sleepContext,
	}
	r.strategies = []strategy{
		{name: "direct", attempts: cfg.DirectAttempts, run: resolveDirect},
		{name: "username", attempts: cfg.UsernameAttempts, run: resolveByUsername},
		{name: "phone", attempts: cfg.PhoneAttempts, run: resolveByPhone},
		{name: "refresh", attempts: cfg.RefreshAttempts, run: resolveAfterRefresh},
	}
	return r
}

// Resolve returns the peer for id as seen by client's account.
// It fails with domain.ErrPeerUnavailable for peers under cool-down or reported
// inaccessible, with a flood wait error as soon as the upstream demands one, and
// with domain.ErrResolutionFailed when every strategy ran out.
func (r *Resolver) Resolve(ctx context.Context, client domain.Client, id int64) (*domain.Peer, error) {
	key := peerKey{accountID: client.AccountID(), peerID: id}
	if peer, ok := r.resolved.Get(key); ok {
		r.metrics.RecordResolution("cache_hit")
		return &peer, nil
	}
	if _, ok := r.unavailable.Get(id); ok {
		r.metrics.RecordResolution("unavailable_cached")
		return nil, fmt.Errorf("peer %d: %w", id, domain.ErrPeerUnavailable)
	}

	hints := r.lookupHints(ctx, id)
	logger := r.logger.With().Int64("peer_id", id).Int64("account_id", key.accountID).Logger()

	var lastErr error
	sawUnavailable := false

	for _, s := range r.strategies {
		if !applicable(s.name, hints) {
			continue
		}

	attempts:
		for attempt := 1; attempt <= max(s.attempts, 1); attempt++ {
			peer, err := s.run(ctx, client, id, hints)
			if err == nil && peer != nil {
				r.resolved.Put(key, *peer)
				r.failures.Delete(id)
				r.metrics.RecordResolution("resolved")
				logger.Debug().Str("strategy", s.name).Int("attempt", attempt).Msg("Peer resolved")
				return peer, nil
			}
			if err == nil {
				err = fmt.Errorf("%s strategy returned no peer", s.name)
			}
			lastErr = err

			switch domain.KindOf(err) {
			case domain.KindFloodWait:
				r.metrics.RecordResolution("flood_wait")
				return nil, err
			case domain.KindUnauthorized:
				return nil, err
			case domain.KindPeerUnavailable:
				sawUnavailable = true
				break attempts
			}

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < s.attempts {
				if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
					return nil, err
				}
			}
		}

		logger.Debug().Err(lastErr).Str("strategy", s.name).Msg("Resolution strategy exhausted")
	}

	if sawUnavailable {
		r.recordUnavailable(id, logger)
		r.metrics.RecordResolution("unavailable")
		return nil, fmt.Errorf("peer %d: %w: %w", id, domain.ErrPeerUnavailable, lastErr)
	}

	r.metrics.RecordResolution("failed")
	return nil, fmt.Errorf("peer %d: %w: %w", id, domain.ErrResolutionFailed, lastErr)
}

// IsUnavailable reports whether id is under the unavailability cool-down
func (r *Resolver) IsUnavailable(id int64) bool {
	return r.unavailable.Contains(id)
}

// Forget drops every cached fact about id
func (r *Resolver) Forget(accountID, id int64) {
	r.resolved.Delete(peerKey{accountID: accountID, peerID: id})
	r.unavailable.Delete(id)

	r.failuresMu.Lock()
	r.failures.Delete(id)
	r.failuresMu.Unlock()
}

// Stats reports cache sizes and hit ratio
type Stats struct {
	Cached      int   `json:"cached"`
	Unavailable int   `json:"unavailable"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}

// Stats returns a snapshot of the caches
func (r *Resolver) Stats() Stats {
	hits, misses := r.resolved.Stats()
	return Stats{
		Cached:      r.resolved.Len(),
		Unavailable: r.unavailable.Len(),
		Hits:        hits,
		Misses:      misses,
	}
}

func (r *Resolver) recordUnavailable(id int64, logger zerolog.Logger) {
	r.failuresMu.Lock()
	count, _ := r.failures.Get(id)
	count++
	reached := count >= r.cfg.UnavailableThreshold
	if reached {
		r.unavailable.Put(id, time.Now())
		r.failures.Delete(id)
	} else {
		r.failures.Put(id, count)
	}
	r.failuresMu.Unlock()

	if !reached {
		logger.Debug().Int("failures", count).Msg("Peer inaccessible")
		return
	}
	logger.Info().
		Int("failures", count).
		Dur("cooldown", r.cfg.UnavailableTTL).
		Msg("Peer marked unavailable")
}

func (r *Resolver) lookupHints(ctx context.Context, id int64) domain.PeerHints {
	if r.hints == nil {
		return domain.PeerHints{}
	}
	hints, err := r.hints.PeerHints(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		r.logger.Debug().Err(err).Int64("peer_id", id).Msg("Peer hints unavailable")
	}
	return hints
}

func applicable(name string, hints domain.PeerHints) bool {
	switch name {
	case "username":
		return hints.Username != ""
	case "phone":
		return hints.Phone != ""
	default:
		return true
	}
}

func resolveDirect(ctx context.Context, client domain.Client, id int64, hints domain.PeerHints) (*domain.Peer, error) {
	return client.ResolvePeer(ctx, id, hints)
}

func resolveByUsername(ctx context.Context, client domain.Client, id int64, hints domain.PeerHints) (*domain.Peer, error) {
	peer, err := client.ResolveUsername(ctx, hints.Username)
	if err != nil {
		return nil, err
	}
	if peer.ID != id {
		return nil, fmt.Errorf("username %q now belongs to %d", hints.Username, peer.ID)
	}
	return peer, nil
}

func resolveByPhone(ctx context.Context, client domain.Client, id int64, hints domain.PeerHints) (*domain.Peer, error) {
	peer, err := client.ResolvePhone(ctx, hints.Phone)
	if err != nil {
		return nil, err
	}
	if peer.ID != id {
		return nil, fmt.Errorf("phone now belongs to %d", peer.ID)
	}
	return peer, nil
}

func resolveAfterRefresh(ctx context.Context, client domain.Client, id int64, hints domain.PeerHints) (*domain.Peer, error) {
	if err := client.RefreshDialogs(ctx); err != nil {
		return nil, err
	}
	return client.ResolvePeer(ctx, id, hints)
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

package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Conte777/tgvault/internal/domain"
)

// Registry holds the live connection of every account.
// Only the recovery manager mutates it; everyone else reads.
type Registry struct {
	clients map[int64]domain.Client
	mu      sync.RWMutex

	locks   map[int64]*sync.Mutex
	locksMu sync.Mutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		clients: make(map[int64]domain.Client),
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Lock takes the account's connection lock, creating it on first use, and
// returns the matching unlock. Holders may replace the account's client.
func (r *Registry) Lock(accountID int64) func() {
	r.locksMu.Lock()
	l, ok := r.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[accountID] = l
	}
	r.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Add registers a client. It fails if the account already has one.
func (r *Registry) Add(client domain.Client) error {
	if client == nil {
		return errors.New("cannot add nil client")
	}

	accountID := client.AccountID()
	if accountID <= 0 {
		return fmt.Errorf("invalid account id %d", accountID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[accountID]; exists {
		return fmt.Errorf("account already registered: %d", accountID)
	}
	r.clients[accountID] = client
	return nil
}

// Replace stores client for its account and returns the previous one, if any
func (r *Registry) Replace(client domain.Client) domain.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.clients[client.AccountID()]
	r.clients[client.AccountID()] = client
	return prev
}

// Remove drops the account and returns its client
func (r *Registry) Remove(accountID int64) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[accountID]
	if !exists {
		return nil, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, accountID)
	}
	delete(r.clients, accountID)
	return client, nil
}

// Get returns the client of an account
func (r *Registry) Get(accountID int64) (domain.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[accountID]
	return client, ok
}

// IDs returns every registered account id in ascending order
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Snapshot returns a copy of the account to client map
func (r *Registry) Snapshot() map[int64]domain.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]domain.Client, len(r.clients))
	for id, c := range r.clients {
		out[id] = c
	}
	return out
}

// Connected returns the ids of accounts whose client reports connected, ascending.
// The lock is not held while IsConnected runs.
func (r *Registry) Connected() []int64 {
	snapshot := r.Snapshot()

	ids := make([]int64, 0, len(snapshot))
	for id, c := range snapshot {
		if c.IsConnected() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered accounts
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

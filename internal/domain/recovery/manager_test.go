package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/clienttest"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	calls   atomic.Int32
	perID   sync.Map
	connect func(ctx context.Context, accountID int64) (domain.Client, error)
}

func (f *fakeConnector) Connect(ctx context.Context, accountID int64) (domain.Client, error) {
	f.calls.Add(1)
	n, _ := f.perID.LoadOrStore(accountID, new(atomic.Int32))
	n.(*atomic.Int32).Add(1)
	if f.connect != nil {
		return f.connect(ctx, accountID)
	}
	return clienttest.New(accountID), nil
}

func (f *fakeConnector) callsFor(accountID int64) int {
	n, ok := f.perID.Load(accountID)
	if !ok {
		return 0
	}
	return int(n.(*atomic.Int32).Load())
}

type fakeAccounts struct {
	mu         sync.Mutex
	active     []entities.Account
	backups    []entities.Account
	statuses   map[int64]string
	floodWaits map[int64]int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{statuses: map[int64]string{}, floodWaits: map[int64]int{}}
}

func (f *fakeAccounts) ListActive(ctx context.Context) ([]entities.Account, error) {
	return f.active, nil
}

func (f *fakeAccounts) ListBackups(ctx context.Context) ([]entities.Account, error) {
	return f.backups, nil
}

func (f *fakeAccounts) UpdateStatus(ctx context.Context, accountID int64, status string, lastErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[accountID] = status
	return nil
}

func (f *fakeAccounts) RecordFloodWait(ctx context.Context, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.floodWaits[accountID]++
	return nil
}

func (f *fakeAccounts) status(accountID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[accountID]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testRecoveryConfig() *config.RecoveryConfig {
	return &config.RecoveryConfig{
		ReconnectBaseDelay:   10 * time.Millisecond,
		MaxReconnectAttempts: 3,
		MaxFloodWait:         5 * time.Minute,
		HealthInterval:       time.Hour,
		HealthCheckTimeout:   time.Second,
	}
}

func newTestManager(conn *fakeConnector, accounts *fakeAccounts) (*Manager, *registry.Registry, *sleepRecorder) {
	reg := registry.New()
	m := NewManager(reg, conn, accounts, testRecoveryConfig(), &config.TelegramConfig{InitConcurrency: 2}, nil, zerolog.Nop())
	rec := &sleepRecorder{}
	m.sleep = rec.sleep
	return m, reg, rec
}

func TestEnsureSessionActive_SingleReconnectUnderContention(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	conn := &fakeConnector{
		connect: func(ctx context.Context, accountID int64) (domain.Client, error) {
			once.Do(func() { close(started) })
			<-release
			return clienttest.New(accountID), nil
		},
	}
	m, _, _ := newTestManager(conn, newFakeAccounts())

	var wg sync.WaitGroup
	results := make([]domain.Client, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = m.EnsureSessionActive(context.Background(), 1)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = m.EnsureSessionActive(context.Background(), 1)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Same(t, results[0], results[1])

	status, ok := m.Status(1)
	require.True(t, ok)
	assert.Equal(t, HealthHealthy, status.Health)
}

// gatedClient blocks its first IsConnected until the gate opens and reports
// disconnected from then on
type gatedClient struct {
	*clienttest.Client
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (c *gatedClient) IsConnected() bool {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.gate
	}
	return false
}

func TestEnsureSessionActive_LateCallerKeepsFreshClient(t *testing.T) {
	conn := &fakeConnector{}
	m, reg, _ := newTestManager(conn, newFakeAccounts())

	stale := &gatedClient{Client: clienttest.New(1), entered: make(chan struct{}), gate: make(chan struct{})}
	require.NoError(t, reg.Add(stale))

	late := make(chan domain.Client, 1)
	go func() {
		client, err := m.EnsureSessionActive(context.Background(), 1)
		assert.NoError(t, err)
		late <- client
	}()
	<-stale.entered

	fresh, err := m.EnsureSessionActive(context.Background(), 1)
	require.NoError(t, err)
	close(stale.gate)

	got := <-late
	assert.Same(t, fresh, got)
	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Equal(t, 0, fresh.(*clienttest.Client).Disconnects())

	current, ok := reg.Get(1)
	require.True(t, ok)
	assert.Same(t, fresh, current)
}

func TestHandleDisconnection_LateCallerKeepsFreshClient(t *testing.T) {
	conn := &fakeConnector{}
	m, reg, _ := newTestManager(conn, newFakeAccounts())

	stale := clienttest.New(4)
	require.NoError(t, reg.Add(stale))
	cause := domain.NewUpstreamError(domain.KindDisconnected, errors.New("EOF"))

	fresh, err := m.HandleDisconnection(context.Background(), 4, cause)
	require.NoError(t, err)

	// A second failure seen on a client that is no longer registered.
	got, err := m.reconnect(context.Background(), 4, stale)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Equal(t, 0, fresh.(*clienttest.Client).Disconnects())
}

func TestReconnect_SurvivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	dialErr := make(chan error, 1)

	conn := &fakeConnector{
		connect: func(ctx context.Context, accountID int64) (domain.Client, error) {
			close(started)
			<-release
			dialErr <- ctx.Err()
			return clienttest.New(accountID), nil
		},
	}
	m, reg, _ := newTestManager(conn, newFakeAccounts())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.EnsureSessionActive(ctx, 6)
		done <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.NoError(t, <-dialErr)
	require.Eventually(t, func() bool {
		_, ok := reg.Get(6)
		return ok
	}, time.Second, 5*time.Millisecond)

	client, err := m.EnsureSessionActive(context.Background(), 6)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, int32(1), conn.calls.Load())
}

func TestReconnect_StopsWithManager(t *testing.T) {
	conn := &fakeConnector{
		connect: func(ctx context.Context, accountID int64) (domain.Client, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m, _, _ := newTestManager(conn, newFakeAccounts())

	done := make(chan error, 1)
	go func() {
		_, err := m.EnsureSessionActive(context.Background(), 8)
		done <- err
	}()
	require.Eventually(t, func() bool { return conn.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop(context.Background())
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEnsureSessionActive_ReusesHealthyClient(t *testing.T) {
	conn := &fakeConnector{}
	m, reg, _ := newTestManager(conn, newFakeAccounts())

	existing := clienttest.New(5)
	require.NoError(t, reg.Add(existing))

	got, err := m.EnsureSessionActive(context.Background(), 5)
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Zero(t, conn.calls.Load())
}

func TestEnsureSessionActive_ReconnectsUnauthorizedSession(t *testing.T) {
	conn := &fakeConnector{}
	m, reg, _ := newTestManager(conn, newFakeAccounts())

	stale := clienttest.New(5)
	stale.IsAuthorizedFn = func(ctx context.Context) (bool, error) { return false, nil }
	require.NoError(t, reg.Add(stale))

	got, err := m.EnsureSessionActive(context.Background(), 5)
	require.NoError(t, err)
	assert.NotSame(t, stale, got)
	assert.Equal(t, 1, stale.Disconnects())
	assert.Equal(t, int32(1), conn.calls.Load())
}

func TestEnsureSessionActive_UnauthorizedIsTerminal(t *testing.T) {
	conn := &fakeConnector{
		connect: func(ctx context.Context, accountID int64) (domain.Client, error) {
			return nil, domain.NewUpstreamError(domain.KindUnauthorized, errors.New("AUTH_KEY_UNREGISTERED"))
		},
	}
	accounts := newFakeAccounts()
	m, _, _ := newTestManager(conn, accounts)

	_, err := m.EnsureSessionActive(context.Background(), 2)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = m.EnsureSessionActive(context.Background(), 2)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Equal(t, entities.AccountStatusAuthRequired, accounts.status(2))

	m.ResetAccount(2)
	_, _ = m.EnsureSessionActive(context.Background(), 2)
	assert.Equal(t, int32(2), conn.calls.Load())
}

func TestReconnect_BackoffAndExhaustion(t *testing.T) {
	conn := &fakeConnector{
		connect: func(ctx context.Context, accountID int64) (domain.Client, error) {
			return nil, domain.NewUpstreamError(domain.KindDisconnected, errors.New("connection reset"))
		},
	}
	accounts := newFakeAccounts()
	m, _, rec := newTestManager(conn, accounts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.EnsureSessionActive(ctx, 9)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrReconnectExhausted)
	}

	_, err := m.EnsureSessionActive(ctx, 9)
	require.ErrorIs(t, err, domain.ErrReconnectExhausted)

	assert.Equal(t, int32(3), conn.calls.Load())
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, rec.delays)
	assert.Equal(t, entities.AccountStatusDisconnected, accounts.status(9))

	status, _ := m.Status(9)
	assert.Equal(t, HealthDisconnected, status.Health)
	assert.Equal(t, 3, status.ReconnectAttempts)

	m.ResetAccount(9)
	_, err = m.EnsureSessionActive(ctx, 9)
	assert.NotErrorIs(t, err, domain.ErrReconnectExhausted)
	assert.Equal(t, int32(4), conn.calls.Load())
}

func TestHandleDisconnection_FloodWaitIsCapped(t *testing.T) {
	conn := &fakeConnector{}
	accounts := newFakeAccounts()
	m, reg, rec := newTestManager(conn, accounts)

	client := clienttest.New(3)
	require.NoError(t, reg.Add(client))

	got, err := m.HandleDisconnection(context.Background(), 3, domain.NewFloodWait(10*time.Minute, nil))
	require.NoError(t, err)
	assert.Same(t, client, got)

	assert.Equal(t, []time.Duration{5 * time.Minute}, rec.delays)
	assert.Equal(t, 1, accounts.floodWaits[3])
	assert.Zero(t, conn.calls.Load())

	status, _ := m.Status(3)
	assert.Equal(t, HealthHealthy, status.Health)
	assert.Nil(t, status.FloodWaitUntil)
}

func TestHandleDisconnection_Classification(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		conn := &fakeConnector{}
		m, _, _ := newTestManager(conn, newFakeAccounts())

		_, err := m.HandleDisconnection(context.Background(), 4, domain.NewUpstreamError(domain.KindUnauthorized, errors.New("SESSION_REVOKED")))
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.Zero(t, conn.calls.Load())

		status, _ := m.Status(4)
		assert.Equal(t, HealthUnauthorized, status.Health)
	})

	t.Run("disconnected reconnects", func(t *testing.T) {
		conn := &fakeConnector{}
		m, reg, _ := newTestManager(conn, newFakeAccounts())
		old := clienttest.New(4)
		require.NoError(t, reg.Add(old))

		got, err := m.HandleDisconnection(context.Background(), 4, domain.NewUpstreamError(domain.KindDisconnected, errors.New("EOF")))
		require.NoError(t, err)
		assert.NotSame(t, old, got)
		assert.Equal(t, int32(1), conn.calls.Load())
	})

	t.Run("generic error reconnects", func(t *testing.T) {
		conn := &fakeConnector{}
		m, _, _ := newTestManager(conn, newFakeAccounts())

		_, err := m.HandleDisconnection(context.Background(), 4, errors.New("boom"))
		require.NoError(t, err)
		assert.Equal(t, int32(1), conn.calls.Load())
	})
}

func TestRotateToBackup(t *testing.T) {
	conn := &fakeConnector{}
	accounts := newFakeAccounts()
	accounts.backups = []entities.Account{{ID: 10, IsBackup: true}, {ID: 11, IsBackup: true}}
	m, _, _ := newTestManager(conn, accounts)
	ctx := context.Background()

	id, client, err := m.RotateToBackup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
	require.NotNil(t, client)

	again, _, err := m.RotateToBackup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), again)
	assert.Equal(t, 1, conn.callsFor(10))

	other, _, err := m.RotateToBackup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(11), other)

	_, _, err = m.RotateToBackup(ctx, 3)
	require.ErrorIs(t, err, domain.ErrNoBackupAvailable)
}

func TestRotateToBackup_SkipsFailedAccount(t *testing.T) {
	conn := &fakeConnector{}
	accounts := newFakeAccounts()
	accounts.backups = []entities.Account{{ID: 10, IsBackup: true}}
	m, _, _ := newTestManager(conn, accounts)

	_, _, err := m.RotateToBackup(context.Background(), 10)
	require.ErrorIs(t, err, domain.ErrNoBackupAvailable)
}

func TestCheckAll_UpdatesHealthWithoutReconnecting(t *testing.T) {
	conn := &fakeConnector{}
	m, reg, _ := newTestManager(conn, newFakeAccounts())

	healthy := clienttest.New(1)
	down := clienttest.New(2)
	down.SetConnected(false)
	revoked := clienttest.New(3)
	revoked.IsAuthorizedFn = func(ctx context.Context) (bool, error) { return false, nil }
	stuck := clienttest.New(4)
	stuck.IsAuthorizedFn = func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}
	for _, c := range []*clienttest.Client{healthy, down, revoked, stuck} {
		require.NoError(t, reg.Add(c))
	}
	m.cfg.HealthCheckTimeout = 20 * time.Millisecond

	m.CheckAll(context.Background())

	want := map[int64]Health{
		1: HealthHealthy,
		2: HealthDisconnected,
		3: HealthUnauthorized,
		4: HealthError,
	}
	for id, h := range want {
		status, ok := m.Status(id)
		require.True(t, ok)
		assert.Equal(t, h, status.Health, "account %d", id)
	}
	assert.Zero(t, conn.calls.Load())
}

func TestInitializeAccounts_ReportsFailures(t *testing.T) {
	conn := &fakeConnector{
		connect: func(ctx context.Context, accountID int64) (domain.Client, error) {
			if accountID == 2 {
				return nil, errors.New("dial tcp: refused")
			}
			return clienttest.New(accountID), nil
		},
	}
	accounts := newFakeAccounts()
	accounts.active = []entities.Account{{ID: 1}, {ID: 2}, {ID: 3}}
	m, reg, _ := newTestManager(conn, accounts)

	report, err := m.InitializeAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Errors, int64(2))
	assert.Equal(t, []int64{1, 3}, reg.Connected())
}

func TestStop_DisconnectsClients(t *testing.T) {
	m, reg, _ := newTestManager(&fakeConnector{}, newFakeAccounts())
	c := clienttest.New(1)
	require.NoError(t, reg.Add(c))

	m.Start()
	m.Stop(context.Background())

	assert.Equal(t, 1, c.Disconnects())
}

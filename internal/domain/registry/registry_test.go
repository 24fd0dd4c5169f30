package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/clienttest"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.Len() != 0 {
		t.Errorf("Expected 0 accounts, got %d", r.Len())
	}
}

func TestAdd(t *testing.T) {
	r := New()

	if err := r.Add(clienttest.New(1)); err != nil {
		t.Fatalf("Failed to add account: %v", err)
	}
	if err := r.Add(clienttest.New(2)); err != nil {
		t.Fatalf("Failed to add second account: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 accounts, got %d", r.Len())
	}

	if err := r.Add(clienttest.New(1)); err == nil {
		t.Error("Expected error when adding duplicate account, got nil")
	}
}

func TestAdd_Invalid(t *testing.T) {
	r := New()

	if err := r.Add(nil); err == nil {
		t.Error("Expected error when adding nil client, got nil")
	}
	if err := r.Add(clienttest.New(0)); err == nil {
		t.Error("Expected error when adding client with zero account ID, got nil")
	}
}

func TestReplace(t *testing.T) {
	r := New()
	first := clienttest.New(7)
	second := clienttest.New(7)

	if prev := r.Replace(first); prev != nil {
		t.Errorf("Expected no previous client, got %v", prev)
	}
	if prev := r.Replace(second); prev != first {
		t.Error("Expected previous client to be returned")
	}

	got, ok := r.Get(7)
	if !ok || got != second {
		t.Error("Expected replaced client to be stored")
	}
}

func TestRemove(t *testing.T) {
	r := New()
	_ = r.Add(clienttest.New(3))

	if _, err := r.Remove(3); err != nil {
		t.Fatalf("Failed to remove account: %v", err)
	}
	if _, ok := r.Get(3); ok {
		t.Error("Account still present after removal")
	}

	_, err := r.Remove(3)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestConnected_SkipsDisconnectedAndSorts(t *testing.T) {
	r := New()
	for _, id := range []int64{5, 1, 3} {
		_ = r.Add(clienttest.New(id))
	}
	down := clienttest.New(4)
	down.SetConnected(false)
	_ = r.Add(down)

	got := r.Connected()
	want := []int64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}

	if ids := r.IDs(); len(ids) != 4 || ids[0] != 1 || ids[3] != 5 {
		t.Errorf("Unexpected IDs: %v", ids)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			_ = r.Add(clienttest.New(id))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Connected()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Expected 50 accounts, got %d", r.Len())
	}
}

func TestLock_SerializesPerAccount(t *testing.T) {
	r := New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock(7)
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("Expected one holder at a time, saw %d", maxSeen)
	}
}

func TestLock_IndependentAccounts(t *testing.T) {
	r := New()

	unlock := r.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		r.Lock(2)()
		close(done)
	}()
	<-done
}

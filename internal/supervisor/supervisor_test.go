package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"listsync/internal/ratelimit"
	"listsync/internal/store"
	"listsync/internal/worker"
)

type fakeAccounts struct {
	store.AccountStore
	accounts map[string]*store.Account
}

func newFakeAccounts(ids ...string) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*store.Account)}
	for _, id := range ids {
		f.accounts[id] = &store.Account{ID: id, Marketplace: "mp1", Active: true, DailyCap: 100, HourlyCap: 100}
	}
	return f
}

func (f *fakeAccounts) GetAccount(_ context.Context, id string) (*store.Account, error) {
	if a, ok := f.accounts[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeAccounts) ListActiveAccounts(_ context.Context) ([]store.Account, error) {
	var out []store.Account
	for _, a := range f.accounts {
		if a.Active {
			out = append(out, *a)
		}
	}
	return out, nil
}

// idleQueue never yields work; its workers just sleep between polls.
type idleQueue struct {
	store.Queue
	err error
}

func (q *idleQueue) DequeueDue(_ context.Context, _ string, _ time.Time, _ int) ([]store.QueueEntry, error) {
	return nil, q.err
}

func idleFactory(queue store.Queue) Factory {
	return func(account *store.Account) (*worker.Worker, error) {
		return worker.New(
			worker.Stores{Queue: queue},
			nil,
			ratelimit.New(0),
			worker.Config{
				AccountID:    account.ID,
				Marketplace:  account.Marketplace,
				IdleInterval: 10 * time.Millisecond,
			},
			nil,
			slog.Default(),
		), nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartAll_LaunchesWorkerPerActiveAccount(t *testing.T) {
	accounts := newFakeAccounts("acc-1", "acc-2")
	sup := New(context.Background(), accounts, idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	if err := sup.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	statuses := sup.Status()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(statuses))
	}
	for _, st := range statuses {
		if st.State != StateRunning {
			t.Errorf("worker %s state %s, want running", st.AccountID, st.State)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestStart_SecondStartFailsAlreadyRunning(t *testing.T) {
	accounts := newFakeAccounts("acc-1")
	sup := New(context.Background(), accounts, idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	if err := sup.Start(context.Background(), "acc-1"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := sup.Start(context.Background(), "acc-1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("got %v, want ErrAlreadyRunning", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sup.Shutdown(ctx)
}

func TestStart_UnknownAccount(t *testing.T) {
	sup := New(context.Background(), newFakeAccounts(), idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	if err := sup.Start(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestStart_InactiveAccountRefused(t *testing.T) {
	accounts := newFakeAccounts("acc-1")
	accounts.accounts["acc-1"].Active = false
	sup := New(context.Background(), accounts, idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	if err := sup.Start(context.Background(), "acc-1"); err == nil {
		t.Error("expected error for inactive account")
	}
}

func TestStart_LockHeldByAnotherSupervisor(t *testing.T) {
	lockDir := t.TempDir()
	accounts := newFakeAccounts("acc-1")

	other := New(context.Background(), accounts, idleFactory(&idleQueue{}), lockDir, nil, slog.Default())
	if err := other.Start(context.Background(), "acc-1"); err != nil {
		t.Fatalf("setup start failed: %v", err)
	}

	sup := New(context.Background(), accounts, idleFactory(&idleQueue{}), lockDir, nil, slog.Default())
	if err := sup.Start(context.Background(), "acc-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("got %v, want ErrLocked", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	other.Shutdown(ctx)
}

func TestMonitor_RestartsCrashedWorker(t *testing.T) {
	accounts := newFakeAccounts("acc-1")
	// Store failure makes the worker exit; the supervisor must relaunch it.
	crashing := &idleQueue{err: errors.New("connection refused")}
	sup := New(context.Background(), accounts, idleFactory(crashing), t.TempDir(), nil, slog.Default())

	if err := sup.Start(context.Background(), "acc-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		statuses := sup.Status()
		return len(statuses) == 1 && statuses[0].Restarts >= 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestStop_DrainsSingleWorker(t *testing.T) {
	accounts := newFakeAccounts("acc-1", "acc-2")
	sup := New(context.Background(), accounts, idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	if err := sup.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(ctx, "acc-1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var stopped, running int
	for _, st := range sup.Status() {
		switch st.State {
		case StateStopped:
			stopped++
		case StateRunning:
			running++
		}
	}
	if stopped != 1 || running != 1 {
		t.Errorf("got stopped=%d running=%d, want 1/1", stopped, running)
	}

	sup.Shutdown(ctx)
}

func TestStop_UnknownWorker(t *testing.T) {
	sup := New(context.Background(), newFakeAccounts(), idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Stop(ctx, "ghost"); !errors.Is(err, ErrNoWorker) {
		t.Errorf("got %v, want ErrNoWorker", err)
	}
}

// blockedQueue ignores cancellation until released, pinning its worker.
type blockedQueue struct {
	store.Queue
	release chan struct{}
}

func (q *blockedQueue) DequeueDue(_ context.Context, _ string, _ time.Time, _ int) ([]store.QueueEntry, error) {
	<-q.release
	return nil, context.Canceled
}

func TestStop_DrainTimeoutIsNotNoWorker(t *testing.T) {
	accounts := newFakeAccounts("acc-1")
	queue := &blockedQueue{release: make(chan struct{})}
	sup := New(context.Background(), accounts, idleFactory(queue), t.TempDir(), nil, slog.Default())

	if err := sup.Start(context.Background(), "acc-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sup.Stop(ctx, "acc-1")
	if err == nil {
		t.Fatal("expected timeout error for a worker that does not drain")
	}
	if errors.Is(err, ErrNoWorker) {
		t.Error("drain timeout must be distinguishable from an unknown worker")
	}

	close(queue.release)
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	sup.Shutdown(drainCtx)
}

func TestStart_RestartAfterCleanStop(t *testing.T) {
	accounts := newFakeAccounts("acc-1")
	sup := New(context.Background(), accounts, idleFactory(&idleQueue{}), t.TempDir(), nil, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sup.Start(ctx, "acc-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sup.Stop(ctx, "acc-1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := sup.Start(ctx, "acc-1"); err != nil {
		t.Fatalf("restart after clean stop failed: %v", err)
	}

	sup.Shutdown(ctx)
}

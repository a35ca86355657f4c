// Package supervisor manages one worker per active account.
//
// It owns worker lifecycles: exclusive per-account locks, liveness
// monitoring, restart with backoff after a crash, and a clean fan-out of the
// shutdown signal. Cross-account parallelism exists only here; each worker
// stays strictly sequential inside.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"listsync/internal/observability"
	"listsync/internal/store"
	"listsync/internal/worker"
)

// ErrAlreadyRunning means a worker for the account is active in this
// supervisor.
var ErrAlreadyRunning = errors.New("worker already running for account")

// ErrNoWorker means this supervisor manages no worker for the account.
var ErrNoWorker = errors.New("no worker for account")

// RestartBackoff is the pause before restarting a crashed worker.
const RestartBackoff = 5 * time.Second

// State describes a managed worker.
type State string

const (
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

// WorkerStatus is one row of the status surface.
type WorkerStatus struct {
	AccountID string    `json:"account_id"`
	PID       int       `json:"pid"`
	State     State     `json:"state"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
}

// Factory builds a fresh worker for an account. Called again on every
// restart: a worker instance runs at most once.
type Factory func(account *store.Account) (*worker.Worker, error)

type handle struct {
	accountID string
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu       sync.Mutex
	state    State
	restarts int
}

func (h *handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Supervisor starts, stops and monitors account workers.
type Supervisor struct {
	accounts store.AccountStore
	factory  Factory
	lockDir  string
	metrics  *observability.Metrics
	log      *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*handle
}

// New creates a Supervisor. ctx bounds the lifetime of every worker it
// starts; cancelling it is a clean shutdown for all of them.
func New(ctx context.Context, accounts store.AccountStore, factory Factory, lockDir string, metrics *observability.Metrics, log *slog.Logger) *Supervisor {
	baseCtx, baseCancel := context.WithCancel(ctx)
	return &Supervisor{
		accounts:   accounts,
		factory:    factory,
		lockDir:    lockDir,
		metrics:    metrics,
		log:        log,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		workers:    make(map[string]*handle),
	}
}

// StartAll starts a worker for every active account. Accounts that fail to
// start are reported together; the rest still run.
func (s *Supervisor) StartAll(ctx context.Context) error {
	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	var startErrs []error
	for i := range accounts {
		if err := s.Start(ctx, accounts[i].ID); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			startErrs = append(startErrs, fmt.Errorf("account %s: %w", accounts[i].ID, err))
		}
	}
	return errors.Join(startErrs...)
}

// Start launches the worker for one account. Fails with ErrAlreadyRunning if
// this supervisor already runs one, or ErrLocked if another process does.
func (s *Supervisor) Start(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if !account.Active {
		return fmt.Errorf("supervisor: account %s is not active", accountID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.workers[accountID]; ok {
		select {
		case <-h.done:
			// Previous run fully finished; replace it.
		default:
			return ErrAlreadyRunning
		}
	}

	lock, err := AcquireLock(s.lockDir, accountID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	h := &handle{
		accountID: accountID,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		state:     StateRunning,
	}
	s.workers[accountID] = h

	go s.monitor(runCtx, h, account, lock)

	s.log.Info("worker launched", "account_id", accountID)
	return nil
}

// monitor runs the worker, restarting it with backoff on unexpected exit. A
// clean shutdown (context cancelled) never restarts.
func (s *Supervisor) monitor(ctx context.Context, h *handle, account *store.Account, lock *Lock) {
	defer close(h.done)
	defer func() {
		if err := lock.Release(); err != nil {
			s.log.Error("failed to release account lock", "account_id", h.accountID, "error", err)
		}
	}()
	defer h.setState(StateStopped)

	for {
		w, err := s.factory(account)
		if err != nil {
			s.log.Error("worker construction failed", "account_id", h.accountID, "error", err)
			return
		}

		h.setState(StateRunning)
		err = w.Run(ctx)

		if ctx.Err() != nil {
			s.log.Info("worker stopped cleanly", "account_id", h.accountID)
			return
		}

		h.mu.Lock()
		h.restarts++
		restarts := h.restarts
		h.mu.Unlock()
		h.setState(StateRestarting)

		s.metrics.RecordRestart(ctx, h.accountID)
		s.log.Error("worker exited unexpectedly, restarting",
			"account_id", h.accountID, "restarts", restarts, "backoff", RestartBackoff, "error", err)

		timer := time.NewTimer(RestartBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop shuts down the worker for one account and waits for it to drain.
func (s *Supervisor) Stop(ctx context.Context, accountID string) error {
	s.mu.Lock()
	h, ok := s.workers[accountID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: %w: %s", ErrNoWorker, accountID)
	}

	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: timed out stopping account %s: %w", accountID, ctx.Err())
	}
}

// Shutdown stops every worker and waits for all of them, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.baseCancel()

	s.mu.Lock()
	handles := make([]*handle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("supervisor: shutdown timed out: %w", ctx.Err())
		}
	}
	s.log.Info("all workers stopped")
	return nil
}

// Status reports every managed worker, running or stopped.
func (s *Supervisor) Status() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := os.Getpid()
	statuses := make([]WorkerStatus, 0, len(s.workers))
	for _, h := range s.workers {
		h.mu.Lock()
		statuses = append(statuses, WorkerStatus{
			AccountID: h.accountID,
			PID:       pid,
			State:     h.state,
			Restarts:  h.restarts,
			StartedAt: h.startedAt,
		})
		h.mu.Unlock()
	}
	return statuses
}

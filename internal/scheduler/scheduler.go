// Package scheduler spreads upload work across a bounded daily window.
//
// Given a set of items and an account, it assigns each item a dispatch time
// inside the account's daily window, never exceeding the account's daily cap.
// Overflow rolls to subsequent days. Re-running the same input is idempotent:
// items with a live queue entry are skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"listsync/internal/store"
)

// DefaultJitter bounds the random offset added to each slot so simultaneous
// dispatch bursts are avoided. Not load-bearing for correctness.
const DefaultJitter = 30 * time.Second

// maxRolloverDays caps how far into the future overflow may roll before the
// scheduler refuses the remainder.
const maxRolloverDays = 30

// Window is a daily dispatch window expressed as offsets from midnight,
// [Start, End).
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Valid reports whether the window is non-empty and inside one day.
func (w Window) Valid() bool {
	return w.Start >= 0 && w.End > w.Start && w.End <= 24*time.Hour
}

// Scheduler plans and persists queue entries.
type Scheduler struct {
	queue  store.Queue
	window Window
	jitter time.Duration
	rnd    *rand.Rand
	now    func() time.Time
	log    *slog.Logger
}

// New creates a Scheduler for the given daily window.
func New(queue store.Queue, window Window, log *slog.Logger) (*Scheduler, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("invalid scheduling window [%v, %v)", window.Start, window.End)
	}
	return &Scheduler{
		queue:  queue,
		window: window,
		jitter: DefaultJitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		log:    log,
	}, nil
}

// Result summarizes one scheduling run.
type Result struct {
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`   // already queued, or lost an enqueue race
	Deferred  int `json:"deferred"`  // beyond the rollover horizon
	DaysUsed  int `json:"days_used"` // distinct days that received entries
}

// Schedule assigns dispatch times to itemIDs for the account and enqueues
// them. Items that already have a non-terminal entry are skipped, preserving
// input order for the rest.
func (s *Scheduler) Schedule(ctx context.Context, account *store.Account, itemIDs []string, priority int) (Result, error) {
	var res Result

	remaining := dedupe(itemIDs)

	active, err := s.queue.ActiveItemIDs(ctx, account.ID, remaining)
	if err != nil {
		return res, fmt.Errorf("scheduler: %w", err)
	}
	filtered := remaining[:0]
	for _, id := range remaining {
		if _, ok := active[id]; ok {
			res.Skipped++
			continue
		}
		filtered = append(filtered, id)
	}
	remaining = filtered

	day := s.now()
	for dayOffset := 0; len(remaining) > 0; dayOffset++ {
		if dayOffset >= maxRolloverDays {
			res.Deferred = len(remaining)
			s.log.Warn("scheduling horizon exceeded",
				"account_id", account.ID, "deferred", res.Deferred)
			break
		}

		scheduledOnDay, err := s.queue.CountScheduledOn(ctx, account.ID, day)
		if err != nil {
			return res, fmt.Errorf("scheduler: %w", err)
		}

		available := account.DailyCap - scheduledOnDay
		if available <= 0 {
			day = day.AddDate(0, 0, 1)
			continue
		}

		n := len(remaining)
		if n > available {
			n = available
		}

		slots := s.Slots(day, n)
		for i := 0; i < n; i++ {
			entry := &store.QueueEntry{
				ItemID:      remaining[i],
				Marketplace: account.Marketplace,
				AccountID:   account.ID,
				ScheduledAt: slots[i],
				Priority:    priority,
			}
			if _, err := s.queue.Enqueue(ctx, nil, entry); err != nil {
				if errors.Is(err, store.ErrDuplicateQueueEntry) {
					// Lost a race with a concurrent scheduling run.
					res.Skipped++
					continue
				}
				return res, fmt.Errorf("scheduler: %w", err)
			}
			res.Scheduled++
		}
		res.DaysUsed++

		remaining = remaining[n:]
		day = day.AddDate(0, 0, 1)
	}

	s.log.Info("scheduling run finished",
		"account_id", account.ID,
		"scheduled", res.Scheduled, "skipped", res.Skipped,
		"deferred", res.Deferred, "days", res.DaysUsed)
	return res, nil
}

// Slots computes n equally-spaced dispatch times inside the window on the
// given day, each nudged by bounded jitter and clamped to the window. Ties on
// identical offsets keep input order because later sorting is stable on
// (priority, scheduled_at, id).
func (s *Scheduler) Slots(day time.Time, n int) []time.Time {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	span := s.window.End - s.window.Start
	spacing := span / time.Duration(n)

	slots := make([]time.Time, n)
	for i := 0; i < n; i++ {
		offset := s.window.Start + spacing*time.Duration(i)
		if s.jitter > 0 {
			offset += time.Duration(s.rnd.Int63n(int64(2*s.jitter))) - s.jitter
		}
		if offset < s.window.Start {
			offset = s.window.Start
		}
		if offset >= s.window.End {
			offset = s.window.End - time.Second
		}
		slots[i] = midnight.Add(offset)
	}
	return slots
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

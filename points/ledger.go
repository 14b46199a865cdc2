/*
ledger.go - Append-only point ledger

PURPOSE:
  The Ledger is the only source of truth for point balances. Task
  completions append credits; redemptions append debits inside their
  own transaction (see redeem.go). Balance is always computed from the
  entries - there is no balance column that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. SIGNED: credits are positive, redemption debits are negative.
  3. balance(user) == Σ delta over that user's entries, always.

CORRECTIONS:
  A mistaken credit is corrected by a compensating entry, never by
  editing the original.

SEE ALSO:
  - balance.go: derived sums
  - store.go:   LedgerStore interface
*/
package points

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/points-engine/metrics"
)

const defaultCreditReason = "Task completed"

// Credit is a task-completion award produced by the task service.
type Credit struct {
	UserID UserID
	Points int64
	Reason string
	TaskID *TaskID
}

// Ledger appends credits.
type Ledger struct {
	store LedgerStore
	now   Clock
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(c Clock) *Ledger {
	l.now = c
	return l
}

// Credit appends a positive entry and returns it.
func (l *Ledger) Credit(ctx context.Context, c Credit) (LedgerEntry, error) {
	if c.UserID == "" {
		return LedgerEntry{}, ErrUserIDRequired
	}
	if c.Points <= 0 {
		return LedgerEntry{}, ErrInvalidCredit
	}
	reason := strings.TrimSpace(c.Reason)
	if reason == "" {
		reason = defaultCreditReason
	}

	entry := LedgerEntry{
		ID:        EntryID(uuid.NewString()),
		UserID:    c.UserID,
		Delta:     c.Points,
		Reason:    reason,
		TaskID:    c.TaskID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	metrics.CountLedgerEntry(metrics.DirectionCredit)
	return entry, nil
}

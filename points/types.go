/*
Package points provides the points ledger and reward-redemption engine.

PURPOSE:
  Users earn points when they complete tasks and spend them on catalog
  rewards. This package owns the rules for both sides of that exchange:
  the append-only ledger that records every signed point delta, the
  balance derived from it, and the transactional redemption that turns
  a balance into a reward.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: an immutable signed point delta for one user
  - RewardItem:  a catalog item with price, optional stock and fulfilment type
  - Redemption:  a committed purchase of N units of a reward
  - Window:      a half-open time range for windowed sums

DESIGN PRINCIPLES:
  1. No cached balance: balance is always Σ delta over the ledger
  2. Immutability: ledger rows are never updated or deleted
  3. Snapshots: a redemption copies price and fulfilment type at commit time
  4. Store locks, not mutexes: concurrency control lives in the database

SEE ALSO:
  - redeem.go:  the redemption transaction
  - balance.go: balance and windowed sums
  - store.go:   persistence interfaces
*/
package points

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID is trusted verbatim from the upstream identity provider.
type UserID string

type RewardID string
type RedemptionID string
type EntryID string
type TaskID string

// Task mirrors a task owned by the task service. Only its title and
// category are kept, for history and breakdown reports.
type Task struct {
	ID       TaskID
	Title    string
	Category string
}

// DefaultTaskCategory is stored for tasks saved without a category.
const DefaultTaskCategory = "general"

// =============================================================================
// LEDGER ENTRY - Immutable signed delta
// =============================================================================

// LedgerEntry is one signed point adjustment. Credits come from task
// completion, debits (always negative) from redemptions.
type LedgerEntry struct {
	ID        EntryID
	UserID    UserID
	Delta     int64
	Reason    string
	TaskID    *TaskID // set for task-completion credits
	CreatedAt time.Time
}

// IsDebit reports whether the entry spends points.
func (e LedgerEntry) IsDebit() bool { return e.Delta < 0 }

// =============================================================================
// REWARD CATALOG
// =============================================================================

type FulfilmentType string

const (
	FulfilmentVoucher  FulfilmentType = "voucher"
	FulfilmentDelivery FulfilmentType = "delivery"
	FulfilmentPickup   FulfilmentType = "pickup"
)

// Valid reports whether t is one of the known fulfilment types.
func (t FulfilmentType) Valid() bool {
	switch t {
	case FulfilmentVoucher, FulfilmentDelivery, FulfilmentPickup:
		return true
	}
	return false
}

// RewardItem is a redeemable catalog item.
// Stock is nil for unlimited items; a non-nil zero means sold out.
type RewardItem struct {
	ID             RewardID
	Name           string
	Description    string
	CostPoints     int64
	Stock          *int64
	Active         bool
	FulfilmentType FulfilmentType
	PickupLocation string
	ImageURL       string
}

// Unlimited reports whether the item has no stock limit.
func (r RewardItem) Unlimited() bool { return r.Stock == nil }

// =============================================================================
// REDEMPTION
// =============================================================================

type RedemptionStatus string

const (
	StatusPending   RedemptionStatus = "pending"
	StatusFulfilled RedemptionStatus = "fulfilled"
	StatusCancelled RedemptionStatus = "cancelled"
)

// Redemption is created exactly once per successful redemption transaction.
// PointsSpent and the fulfilment variant are snapshots taken at commit time
// and never follow later catalog edits. Status transitions afterwards belong
// to the external fulfilment process.
type Redemption struct {
	ID             RedemptionID
	UserID         UserID
	RewardID       RewardID
	Quantity       int
	PointsSpent    int64
	Fulfilment     Fulfilment
	RecipientEmail string
	Status         RedemptionStatus
	IdempotencyKey string
	RedeemedAt     time.Time
}

// FulfilmentType returns the snapshotted fulfilment type.
func (r Redemption) FulfilmentType() FulfilmentType {
	if r.Fulfilment == nil {
		return ""
	}
	return r.Fulfilment.Type()
}

// VoucherCode returns the voucher code, or "" for non-voucher redemptions.
func (r Redemption) VoucherCode() string {
	if v, ok := r.Fulfilment.(VoucherFulfilment); ok {
		return v.Code
	}
	return ""
}

// =============================================================================
// WINDOW - Half-open time range [Start, End)
// =============================================================================

// Window restricts a sum to entries created in [Start, End).
// A nil bound is open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && !t.Before(*w.End) {
		return false
	}
	return true
}

// DayWindow returns the UTC calendar day containing now.
func DayWindow(now time.Time) Window {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	return Window{Start: &start, End: &end}
}

// WeekWindow returns the UTC week (Monday start) containing now.
func WeekWindow(now time.Time) Window {
	now = now.UTC()
	offset := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	return Window{Start: &start, End: &end}
}

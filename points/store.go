/*
store.go - Persistence interfaces for the ledger, catalog and redemptions

PURPOSE:
  Defines the boundary between the redemption rules and the database.
  The engine never holds in-process locks; all concurrency control is
  delegated to the store's transactions and row locks.

KEY INTERFACES:
  LedgerStore:  append-only ledger writes and sums
  CatalogStore: reward reads and catalog administration
  ReportStore:  read-only history projections
  TxStore:      WithTx unit of work exposing Tx

APPEND-ONLY CONTRACT:
  The ledger has Append and sums. There is no Update or Delete.

TX CONTRACT:
  WithTx commits when fn returns nil and rolls back on any error or
  panic. A Tx must not be used after fn returns.

IMPLEMENTATIONS:
  - store/sqldb: SQLite and PostgreSQL
*/
package points

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// BalanceReader sums ledger deltas. Implemented by both the store and an
// open Tx, so balances can be computed inside or outside a transaction.
type BalanceReader interface {
	SumDeltas(ctx context.Context, userID UserID, w Window) (int64, error)
}

// LedgerStore persists ledger entries. APPEND-ONLY.
type LedgerStore interface {
	BalanceReader

	// AppendEntry inserts one immutable entry.
	AppendEntry(ctx context.Context, e LedgerEntry) error
}

// CatalogStore reads and administers rewards outside redemption transactions.
type CatalogStore interface {
	ListActiveRewards(ctx context.Context) ([]RewardItem, error)
	GetReward(ctx context.Context, id RewardID) (RewardItem, error)
	CreateReward(ctx context.Context, r RewardItem) error
}

// ReportStore serves read-only history projections.
type ReportStore interface {
	UserRedemptions(ctx context.Context, userID UserID) ([]RedemptionView, error)
	LedgerHistory(ctx context.Context, userID UserID, limit int) ([]LedgerHistoryRow, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)
	BreakdownByCategory(ctx context.Context, userID UserID) ([]CategoryPoints, error)
}

// Tx is the set of operations available inside one redemption transaction.
type Tx interface {
	BalanceReader

	// LockUser serialises every transaction of one user until commit.
	// Stores whose transactions already hold a global write lock may
	// implement it as a no-op.
	LockUser(ctx context.Context, userID UserID) error

	// LockReward takes an exclusive lock on the reward row and returns its
	// current state, or ErrRewardNotFound.
	LockReward(ctx context.Context, id RewardID) (RewardItem, error)

	// FindRedemptionByKey returns the committed redemption with the given
	// idempotency key, or nil.
	FindRedemptionByKey(ctx context.Context, userID UserID, key string) (*Redemption, error)

	AppendEntry(ctx context.Context, e LedgerEntry) error

	// DecrementStock lowers finite stock by qty. It fails with
	// ErrInsufficientStock rather than letting stock go negative.
	DecrementStock(ctx context.Context, id RewardID, qty int) error

	// InsertRedemption fails with ErrVoucherCodeTaken or
	// ErrDuplicateIdempotencyKey on the matching uniqueness violation and
	// leaves the transaction usable for a retry.
	InsertRedemption(ctx context.Context, r Redemption) error
}

// TxStore runs fn in a transaction.
type TxStore interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// FindRedemptionByKey is the committed-read variant used to answer a
	// request that lost an idempotency race.
	FindRedemptionByKey(ctx context.Context, userID UserID, key string) (*Redemption, error)
}

// Store is everything the engine needs from one database.
type Store interface {
	LedgerStore
	CatalogStore
	ReportStore
	TxStore
}

// =============================================================================
// REPORT ROWS
// =============================================================================

// RedemptionView is a redemption joined with the current reward metadata.
type RedemptionView struct {
	Redemption
	RewardName        string
	RewardDescription string
	ImageURL          string
	PickupLocation    string
}

// LedgerHistoryRow is a ledger entry joined with its task title, if any.
type LedgerHistoryRow struct {
	LedgerEntry
	TaskTitle string
}

// LeaderboardRow is one user's summed balance.
type LeaderboardRow struct {
	UserID      UserID
	TotalPoints int64
	Entries     int64
}

// CategoryPoints sums one user's task credits within a task category.
type CategoryPoints struct {
	Category string
	Points   int64
	Tasks    int64
}

// Clock returns the current time. Replaced in tests.
type Clock func() time.Time

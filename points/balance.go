package points

import (
	"context"
	"time"
)

// BalanceCalculator derives balances purely from the ledger. It has no
// side effects and keeps no cache.
type BalanceCalculator struct {
	reader BalanceReader
}

// NewBalanceCalculator reads through r, which may be a store or an open Tx.
func NewBalanceCalculator(r BalanceReader) *BalanceCalculator {
	return &BalanceCalculator{reader: r}
}

// Balance returns Σ delta over all of the user's entries; 0 if none.
func (b *BalanceCalculator) Balance(ctx context.Context, userID UserID) (int64, error) {
	return b.reader.SumDeltas(ctx, userID, Window{})
}

// WindowedSum returns Σ delta over entries created inside w.
func (b *BalanceCalculator) WindowedSum(ctx context.Context, userID UserID, w Window) (int64, error) {
	return b.reader.SumDeltas(ctx, userID, w)
}

// Summary is the total balance plus today's and this week's net points.
type Summary struct {
	UserID   UserID
	Total    int64
	Today    int64
	ThisWeek int64
}

// Summary computes the balance display for now.
func (b *BalanceCalculator) Summary(ctx context.Context, userID UserID, now time.Time) (Summary, error) {
	total, err := b.Balance(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	today, err := b.WindowedSum(ctx, userID, DayWindow(now))
	if err != nil {
		return Summary{}, err
	}
	week, err := b.WindowedSum(ctx, userID, WeekWindow(now))
	if err != nil {
		return Summary{}, err
	}
	return Summary{UserID: userID, Total: total, Today: today, ThisWeek: week}, nil
}

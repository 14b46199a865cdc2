package points

import "context"

const (
	DefaultHistoryLimit     = 50
	MaxHistoryLimit         = 500
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// Reports serves read-only projections over the ledger and redemptions.
// No locks are taken beyond the store's normal read consistency.
type Reports struct {
	store ReportStore
}

func NewReports(store ReportStore) *Reports {
	return &Reports{store: store}
}

// UserRedemptions returns the user's redemptions with reward metadata,
// newest first.
func (r *Reports) UserRedemptions(ctx context.Context, userID UserID) ([]RedemptionView, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return r.store.UserRedemptions(ctx, userID)
}

// LedgerHistory returns the user's ledger entries with task titles,
// newest first. Non-positive limits fall back to the default.
func (r *Reports) LedgerHistory(ctx context.Context, userID UserID, limit int) ([]LedgerHistoryRow, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return r.store.LedgerHistory(ctx, userID, clamp(limit, DefaultHistoryLimit, MaxHistoryLimit))
}

// Leaderboard returns users ordered by summed balance, highest first.
func (r *Reports) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	return r.store.Leaderboard(ctx, clamp(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit))
}

// BreakdownByCategory sums the user's task credits per task category,
// largest first. Entries without a task are left out.
func (r *Reports) BreakdownByCategory(ctx context.Context, userID UserID) ([]CategoryPoints, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return r.store.BreakdownByCategory(ctx, userID)
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

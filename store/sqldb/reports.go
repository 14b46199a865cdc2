package sqldb

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// REPORTS (points.ReportStore interface)
// =============================================================================

type redemptionViewRow struct {
	redemptionRow
	RewardName        string         `db:"reward_name"`
	RewardDescription sql.NullString `db:"reward_description"`
	ImageURL          sql.NullString `db:"image_url"`
	RewardPickup      sql.NullString `db:"reward_pickup_location"`
}

// UserRedemptions returns the user's redemptions joined with reward
// metadata, newest first.
func (s *Store) UserRedemptions(ctx context.Context, userID points.UserID) ([]points.RedemptionView, error) {
	var rows []redemptionViewRow
	query := s.db.Rebind(`SELECT` + redemptionColumns + `,
		       r.name AS reward_name, r.description AS reward_description,
		       r.image_url, r.pickup_location AS reward_pickup_location
		FROM reward_redemptions rr
		JOIN rewards r ON r.id = rr.reward_id
		WHERE rr.user_id = ?
		ORDER BY rr.redeemed_at DESC, rr.id DESC`)
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, string(userID)); err != nil {
		return nil, classify("list redemptions", err)
	}

	views := make([]points.RedemptionView, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		pickup := row.PickupLocation.String
		if pickup == "" {
			pickup = row.RewardPickup.String
		}
		views = append(views, points.RedemptionView{
			Redemption:        r,
			RewardName:        row.RewardName,
			RewardDescription: row.RewardDescription.String,
			ImageURL:          row.ImageURL.String,
			PickupLocation:    pickup,
		})
	}
	return views, nil
}

type historyRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Delta     int64          `db:"delta"`
	Reason    string         `db:"reason"`
	TaskID    sql.NullString `db:"task_id"`
	CreatedAt dbTime         `db:"created_at"`
	TaskTitle sql.NullString `db:"task_title"`
}

// LedgerHistory returns the user's most recent entries with task titles.
func (s *Store) LedgerHistory(ctx context.Context, userID points.UserID, limit int) ([]points.LedgerHistoryRow, error) {
	var rows []historyRow
	query := s.db.Rebind(`
		SELECT pl.id, pl.user_id, pl.delta, pl.reason, pl.task_id, pl.created_at,
		       t.title AS task_title
		FROM point_ledger pl
		LEFT JOIN tasks t ON t.id = pl.task_id
		WHERE pl.user_id = ?
		ORDER BY pl.created_at DESC, pl.id DESC
		LIMIT ?`)
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, string(userID), limit); err != nil {
		return nil, classify("ledger history", err)
	}

	out := make([]points.LedgerHistoryRow, 0, len(rows))
	for _, row := range rows {
		entry := points.LedgerEntry{
			ID:        points.EntryID(row.ID),
			UserID:    points.UserID(row.UserID),
			Delta:     row.Delta,
			Reason:    row.Reason,
			CreatedAt: row.CreatedAt.Time,
		}
		if row.TaskID.Valid {
			id := points.TaskID(row.TaskID.String)
			entry.TaskID = &id
		}
		out = append(out, points.LedgerHistoryRow{LedgerEntry: entry, TaskTitle: row.TaskTitle.String})
	}
	return out, nil
}

type leaderboardRow struct {
	UserID      string `db:"user_id"`
	TotalPoints int64  `db:"total_points"`
	Entries     int64  `db:"entries"`
}

// Leaderboard ranks users by balance, ties broken by user id.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]points.LeaderboardRow, error) {
	var rows []leaderboardRow
	query := s.db.Rebind(`
		SELECT user_id,
		       CAST(SUM(delta) AS BIGINT) AS total_points,
		       COUNT(*) AS entries
		FROM point_ledger
		GROUP BY user_id
		ORDER BY total_points DESC, user_id ASC
		LIMIT ?`)
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, limit); err != nil {
		return nil, classify("leaderboard", err)
	}

	out := make([]points.LeaderboardRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, points.LeaderboardRow{
			UserID:      points.UserID(row.UserID),
			TotalPoints: row.TotalPoints,
			Entries:     row.Entries,
		})
	}
	return out, nil
}

type categoryRow struct {
	Category string `db:"category"`
	Points   int64  `db:"category_points"`
	Tasks    int64  `db:"task_count"`
}

// BreakdownByCategory groups the user's task-linked entries by task
// category, largest sum first.
func (s *Store) BreakdownByCategory(ctx context.Context, userID points.UserID) ([]points.CategoryPoints, error) {
	var rows []categoryRow
	query := s.db.Rebind(`
		SELECT t.category,
		       CAST(SUM(pl.delta) AS BIGINT) AS category_points,
		       COUNT(pl.id) AS task_count
		FROM point_ledger pl
		JOIN tasks t ON t.id = pl.task_id
		WHERE pl.user_id = ?
		GROUP BY t.category
		ORDER BY category_points DESC, t.category ASC`)
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, string(userID)); err != nil {
		return nil, classify("category breakdown", err)
	}

	out := make([]points.CategoryPoints, 0, len(rows))
	for _, row := range rows {
		out = append(out, points.CategoryPoints{Category: row.Category, Points: row.Points, Tasks: row.Tasks})
	}
	return out, nil
}

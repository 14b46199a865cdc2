package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// CATALOG (points.CatalogStore interface)
// =============================================================================

const selectReward = `
	SELECT id, name, description, cost_points, stock, is_active,
	       fulfilment_type, pickup_location, image_url
	FROM rewards`

type rewardRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Description    sql.NullString `db:"description"`
	CostPoints     int64          `db:"cost_points"`
	Stock          sql.NullInt64  `db:"stock"`
	IsActive       bool           `db:"is_active"`
	FulfilmentType string         `db:"fulfilment_type"`
	PickupLocation sql.NullString `db:"pickup_location"`
	ImageURL       sql.NullString `db:"image_url"`
}

func (r rewardRow) toDomain() points.RewardItem {
	item := points.RewardItem{
		ID:             points.RewardID(r.ID),
		Name:           r.Name,
		Description:    r.Description.String,
		CostPoints:     r.CostPoints,
		Active:         r.IsActive,
		FulfilmentType: points.FulfilmentType(r.FulfilmentType),
		PickupLocation: r.PickupLocation.String,
		ImageURL:       r.ImageURL.String,
	}
	if r.Stock.Valid {
		stock := r.Stock.Int64
		item.Stock = &stock
	}
	return item
}

// ListActiveRewards returns active rewards ordered by cost, then name.
func (s *Store) ListActiveRewards(ctx context.Context) ([]points.RewardItem, error) {
	var rows []rewardRow
	query := s.db.Rebind(selectReward + ` WHERE is_active = ? ORDER BY cost_points ASC, name ASC`)
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, true); err != nil {
		return nil, classify("list rewards", err)
	}
	items := make([]points.RewardItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return items, nil
}

// GetReward returns one reward regardless of its active flag.
func (s *Store) GetReward(ctx context.Context, id points.RewardID) (points.RewardItem, error) {
	item, err := getReward(ctx, s.db, selectReward+` WHERE id = ?`, id)
	if err != nil && !errors.Is(err, points.ErrRewardNotFound) {
		return points.RewardItem{}, classify("get reward", err)
	}
	return item, err
}

// CreateReward inserts a catalog item.
func (s *Store) CreateReward(ctx context.Context, r points.RewardItem) error {
	var stock sql.NullInt64
	if r.Stock != nil {
		stock = sql.NullInt64{Int64: *r.Stock, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO rewards (id, name, description, cost_points, stock, is_active,
		                     fulfilment_type, pickup_location, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(r.ID), r.Name, nullString(r.Description), r.CostPoints, stock, r.Active,
		string(r.FulfilmentType), nullString(r.PickupLocation), nullString(r.ImageURL),
		dbTime{time.Now()},
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return errors.Join(points.ErrInvalidReward, err)
		}
		return classify("create reward", err)
	}
	return nil
}

// getReward returns ErrRewardNotFound or the unclassified driver error.
func getReward(ctx context.Context, db sqlx.ExtContext, query string, id points.RewardID) (points.RewardItem, error) {
	var row rewardRow
	err := sqlx.GetContext(ctx, db, &row, db.Rebind(query), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return points.RewardItem{}, points.ErrRewardNotFound
	}
	if err != nil {
		return points.RewardItem{}, err
	}
	return row.toDomain(), nil
}

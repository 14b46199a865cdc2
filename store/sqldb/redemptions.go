package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// REDEMPTIONS
// =============================================================================

const redemptionColumns = `
	rr.id, rr.user_id, rr.reward_id, rr.quantity, rr.points_spent,
	rr.fulfilment_type, rr.recipient_email, rr.recipient_name, rr.recipient_phone,
	rr.address_line1, rr.address_line2, rr.postal_code, rr.pickup_location,
	rr.voucher_code, rr.status, rr.idempotency_key, rr.redeemed_at`

type redemptionRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	RewardID       string         `db:"reward_id"`
	Quantity       int            `db:"quantity"`
	PointsSpent    int64          `db:"points_spent"`
	FulfilmentType string         `db:"fulfilment_type"`
	RecipientEmail sql.NullString `db:"recipient_email"`
	RecipientName  sql.NullString `db:"recipient_name"`
	RecipientPhone sql.NullString `db:"recipient_phone"`
	AddressLine1   sql.NullString `db:"address_line1"`
	AddressLine2   sql.NullString `db:"address_line2"`
	PostalCode     sql.NullString `db:"postal_code"`
	PickupLocation sql.NullString `db:"pickup_location"`
	VoucherCode    sql.NullString `db:"voucher_code"`
	Status         string         `db:"status"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	RedeemedAt     dbTime         `db:"redeemed_at"`
}

func (r redemptionRow) toDomain() (points.Redemption, error) {
	out := points.Redemption{
		ID:             points.RedemptionID(r.ID),
		UserID:         points.UserID(r.UserID),
		RewardID:       points.RewardID(r.RewardID),
		Quantity:       r.Quantity,
		PointsSpent:    r.PointsSpent,
		RecipientEmail: r.RecipientEmail.String,
		Status:         points.RedemptionStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey.String,
		RedeemedAt:     r.RedeemedAt.Time,
	}
	switch points.FulfilmentType(r.FulfilmentType) {
	case points.FulfilmentVoucher:
		out.Fulfilment = points.VoucherFulfilment{Code: r.VoucherCode.String}
	case points.FulfilmentDelivery:
		out.Fulfilment = points.DeliveryFulfilment{
			RecipientName:  r.RecipientName.String,
			RecipientPhone: r.RecipientPhone.String,
			AddressLine1:   r.AddressLine1.String,
			AddressLine2:   r.AddressLine2.String,
			PostalCode:     r.PostalCode.String,
		}
	case points.FulfilmentPickup:
		out.Fulfilment = points.PickupFulfilment{Location: r.PickupLocation.String}
	default:
		return points.Redemption{}, fmt.Errorf("%w: redemption %s has fulfilment type %q", points.ErrIntegrity, r.ID, r.FulfilmentType)
	}
	return out, nil
}

func insertRedemption(ctx context.Context, db sqlx.ExtContext, r points.Redemption) error {
	var (
		voucher, pickup                 sql.NullString
		name, phone, line1, line2, post sql.NullString
	)
	switch f := r.Fulfilment.(type) {
	case points.VoucherFulfilment:
		voucher = nullString(f.Code)
	case points.DeliveryFulfilment:
		name, phone = nullString(f.RecipientName), nullString(f.RecipientPhone)
		line1, line2 = nullString(f.AddressLine1), nullString(f.AddressLine2)
		post = nullString(f.PostalCode)
	case points.PickupFulfilment:
		pickup = nullString(f.Location)
	default:
		return fmt.Errorf("%w: redemption without fulfilment", points.ErrIntegrity)
	}

	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO reward_redemptions
		(id, user_id, reward_id, quantity, points_spent, fulfilment_type,
		 recipient_email, recipient_name, recipient_phone, address_line1, address_line2,
		 postal_code, pickup_location, voucher_code, status, idempotency_key, redeemed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(r.ID), string(r.UserID), string(r.RewardID), r.Quantity, r.PointsSpent,
		string(r.FulfilmentType()), nullString(r.RecipientEmail), name, phone, line1, line2,
		post, pickup, voucher, string(r.Status), nullString(r.IdempotencyKey), dbTime{r.RedeemedAt},
	)
	return err
}

func findRedemptionByKey(ctx context.Context, db sqlx.ExtContext, userID points.UserID, key string) (*points.Redemption, error) {
	if key == "" {
		return nil, nil
	}
	var row redemptionRow
	err := sqlx.GetContext(ctx, db, &row, db.Rebind(`SELECT`+redemptionColumns+`
		FROM reward_redemptions rr
		WHERE rr.user_id = ? AND rr.idempotency_key = ?`),
		string(userID), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindRedemptionByKey reads a committed redemption outside any transaction.
func (s *Store) FindRedemptionByKey(ctx context.Context, userID points.UserID, key string) (*points.Redemption, error) {
	r, err := findRedemptionByKey(ctx, s.db, userID, key)
	if err != nil {
		return nil, classify("find redemption", err)
	}
	return r, nil
}

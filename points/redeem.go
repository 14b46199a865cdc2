/*
redeem.go - Redemption coordinator

PURPOSE:
  Spends a user's points on a catalog reward as one all-or-nothing unit
  of work: a debit ledger entry, a stock decrement and a redemption row
  are committed together or not at all.

SEQUENCE (inside one transaction):
   1. quantity must be a positive integer
   2. [LockUser mode] lock the user, then lock the reward row
   3. reward must exist and be active
   4. finite stock must cover quantity
   5. totalCost = cost_points × quantity
   6. balance, recomputed inside the transaction, must cover totalCost
   7. delivery rewards need name, phone, address line 1, postal code
   8. voucher rewards get a fresh code, regenerated on collision
   9. append debit entry (-totalCost, "Redeemed: <name>")
  10. decrement finite stock
  11. insert redemption (status pending)
  12. commit

  The first failing step wins; every failure rolls back the whole
  transaction. Nothing outside the database is called while it is open.

LOCK MODES:
  LockReward: only the reward row is locked. Two concurrent redemptions
              by one user against DIFFERENT rewards can both pass step 6
              and together overspend the balance. Default.
  LockUser:   the user is locked first, which closes that race. Users are
              always locked before rewards, so the two locks cannot
              deadlock against each other.

IDEMPOTENCY:
  A request carrying an idempotency key that was already committed for
  the same user returns the original receipt with Replayed set instead
  of redeeming again.

SEE ALSO:
  - catalog.go: LockForUpdate
  - store.go:   Tx contract
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/points-engine/metrics"
)

// LockMode selects how strictly concurrent redemptions are serialised.
type LockMode string

const (
	LockReward LockMode = "reward"
	LockUser   LockMode = "user"
)

// ParseLockMode accepts "reward" or "user" (case-insensitive).
func ParseLockMode(s string) (LockMode, error) {
	switch m := LockMode(strings.ToLower(strings.TrimSpace(s))); m {
	case LockReward, LockUser:
		return m, nil
	}
	return "", fmt.Errorf("unknown lock mode %q (want %q or %q)", s, LockReward, LockUser)
}

const DefaultVoucherAttempts = 5

// RedeemRequest is the input of one redemption.
type RedeemRequest struct {
	UserID         UserID
	RewardID       RewardID
	Quantity       int
	Delivery       *DeliveryDetails
	RecipientEmail string
	IdempotencyKey string
}

// Receipt is what the caller gets back from a committed redemption.
type Receipt struct {
	RedemptionID RedemptionID
	Status       RedemptionStatus
	RedeemedAt   time.Time
	PointsSpent  int64
	VoucherCode  string
	Replayed     bool
}

func receiptOf(r Redemption, replayed bool) Receipt {
	return Receipt{
		RedemptionID: r.ID,
		Status:       r.Status,
		RedeemedAt:   r.RedeemedAt,
		PointsSpent:  r.PointsSpent,
		VoucherCode:  r.VoucherCode(),
		Replayed:     replayed,
	}
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs redemptions. It holds no locks of its own and is safe
// for concurrent use.
type Coordinator struct {
	store           TxStore
	catalog         *Catalog
	vouchers        VoucherGenerator
	lockMode        LockMode
	voucherAttempts int
	now             Clock
}

type Option func(*Coordinator)

func WithLockMode(m LockMode) Option { return func(c *Coordinator) { c.lockMode = m } }

func WithVoucherGenerator(g VoucherGenerator) Option {
	return func(c *Coordinator) { c.vouchers = g }
}

func WithVoucherAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.voucherAttempts = n
		}
	}
}

func WithClock(clock Clock) Option { return func(c *Coordinator) { c.now = clock } }

func NewCoordinator(store TxStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           store,
		catalog:         &Catalog{}, // locks through the Tx only
		vouchers:        RandomVouchers{},
		lockMode:        LockReward,
		voucherAttempts: DefaultVoucherAttempts,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LockMode reports the configured strictness.
func (c *Coordinator) LockMode() LockMode { return c.lockMode }

// Redeem executes one redemption. See the file comment for the sequence.
func (c *Coordinator) Redeem(ctx context.Context, req RedeemRequest) (Receipt, error) {
	start := time.Now()
	receipt, err := c.redeem(ctx, req)
	metrics.ObserveRedemption(outcome(receipt, err), time.Since(start))

	logger := zerolog.Ctx(ctx)
	if err != nil {
		ev := logger.Debug()
		if KindOf(err) == KindUnknown || KindOf(err) == KindIntegrity {
			ev = logger.Error()
		}
		ev.Err(err).
			Str("user_id", string(req.UserID)).
			Str("reward_id", string(req.RewardID)).
			Int("quantity", req.Quantity).
			Str("kind", KindOf(err).String()).
			Msg("redemption rejected")
		return Receipt{}, err
	}
	logger.Info().
		Str("user_id", string(req.UserID)).
		Str("reward_id", string(req.RewardID)).
		Str("redemption_id", string(receipt.RedemptionID)).
		Int64("points_spent", receipt.PointsSpent).
		Bool("replayed", receipt.Replayed).
		Msg("redemption committed")
	return receipt, nil
}

func (c *Coordinator) redeem(ctx context.Context, req RedeemRequest) (Receipt, error) {
	switch {
	case req.Quantity <= 0:
		return Receipt{}, ErrInvalidQuantity
	case req.UserID == "":
		return Receipt{}, ErrUserIDRequired
	case req.RewardID == "":
		return Receipt{}, ErrRewardIDRequired
	}

	var receipt Receipt
	err := c.store.WithTx(ctx, func(tx Tx) error {
		r, err := c.redeemTx(ctx, tx, req)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key committed first.
		prior, ferr := c.store.FindRedemptionByKey(ctx, req.UserID, req.IdempotencyKey)
		if ferr != nil {
			return Receipt{}, ferr
		}
		if prior != nil {
			return receiptOf(*prior, true), nil
		}
		return Receipt{}, fmt.Errorf("%w: idempotency key conflict without committed redemption", ErrIntegrity)
	}
	if err != nil {
		return Receipt{}, err
	}
	if !receipt.Replayed {
		metrics.CountLedgerEntry(metrics.DirectionDebit)
	}
	return receipt, nil
}

func (c *Coordinator) redeemTx(ctx context.Context, tx Tx, req RedeemRequest) (Receipt, error) {
	if c.lockMode == LockUser {
		if err := tx.LockUser(ctx, req.UserID); err != nil {
			return Receipt{}, err
		}
	}

	if req.IdempotencyKey != "" {
		prior, err := tx.FindRedemptionByKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return Receipt{}, err
		}
		if prior != nil {
			return receiptOf(*prior, true), nil
		}
	}

	reward, err := c.catalog.LockForUpdate(ctx, tx, req.RewardID)
	if err != nil {
		return Receipt{}, err
	}
	if !reward.Active {
		return Receipt{}, ErrRewardInactive
	}
	if reward.Stock != nil && *reward.Stock < int64(req.Quantity) {
		return Receipt{}, &InsufficientStockError{RewardID: reward.ID, Stock: *reward.Stock, Requested: req.Quantity}
	}

	balance, err := NewBalanceCalculator(tx).Balance(ctx, req.UserID)
	if err != nil {
		return Receipt{}, err
	}
	if reward.CostPoints <= 0 {
		return Receipt{}, fmt.Errorf("%w: reward %s has non-positive cost", ErrIntegrity, reward.ID)
	}
	if int64(req.Quantity) > math.MaxInt64/reward.CostPoints {
		return Receipt{}, &InsufficientPointsError{UserID: req.UserID, Balance: balance, Required: math.MaxInt64}
	}
	totalCost := reward.CostPoints * int64(req.Quantity)
	if balance < totalCost {
		return Receipt{}, &InsufficientPointsError{UserID: req.UserID, Balance: balance, Required: totalCost}
	}

	fulfilment, err := c.fulfilmentFor(reward, req)
	if err != nil {
		return Receipt{}, err
	}

	now := c.now().UTC()
	debit := LedgerEntry{
		ID:        EntryID(uuid.NewString()),
		UserID:    req.UserID,
		Delta:     -totalCost,
		Reason:    "Redeemed: " + reward.Name,
		CreatedAt: now,
	}
	if err := tx.AppendEntry(ctx, debit); err != nil {
		return Receipt{}, err
	}

	if reward.Stock != nil {
		if err := tx.DecrementStock(ctx, reward.ID, req.Quantity); err != nil {
			return Receipt{}, err
		}
	}

	redemption := Redemption{
		ID:             RedemptionID(uuid.NewString()),
		UserID:         req.UserID,
		RewardID:       reward.ID,
		Quantity:       req.Quantity,
		PointsSpent:    totalCost,
		Fulfilment:     fulfilment,
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		Status:         StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		RedeemedAt:     now,
	}
	if err := c.insertRedemption(ctx, tx, &redemption); err != nil {
		return Receipt{}, err
	}
	return receiptOf(redemption, false), nil
}

// fulfilmentFor builds the fulfilment variant. Voucher codes are drawn
// here and redrawn by insertRedemption on collision.
func (c *Coordinator) fulfilmentFor(reward RewardItem, req RedeemRequest) (Fulfilment, error) {
	switch reward.FulfilmentType {
	case FulfilmentDelivery:
		return NewDeliveryFulfilment(req.Delivery)
	case FulfilmentVoucher:
		code, err := c.vouchers.NewCode()
		if err != nil {
			return nil, err
		}
		return VoucherFulfilment{Code: code}, nil
	case FulfilmentPickup:
		return PickupFulfilment{Location: reward.PickupLocation}, nil
	}
	return nil, fmt.Errorf("%w: reward %s has unknown fulfilment type %q", ErrIntegrity, reward.ID, reward.FulfilmentType)
}

func (c *Coordinator) insertRedemption(ctx context.Context, tx Tx, r *Redemption) error {
	if _, ok := r.Fulfilment.(VoucherFulfilment); !ok {
		return tx.InsertRedemption(ctx, *r)
	}
	for attempt := 1; ; attempt++ {
		err := tx.InsertRedemption(ctx, *r)
		if !errors.Is(err, ErrVoucherCodeTaken) {
			return err
		}
		if attempt >= c.voucherAttempts {
			return ErrVoucherExhausted
		}
		code, err := c.vouchers.NewCode()
		if err != nil {
			return err
		}
		r.Fulfilment = VoucherFulfilment{Code: code}
	}
}

func outcome(r Receipt, err error) string {
	switch {
	case err != nil:
		return KindOf(err).String()
	case r.Replayed:
		return "replayed"
	}
	return "committed"
}

package points

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Catalog is the reward catalog. Pricing and activation are administered
// elsewhere; stock only changes inside redemption transactions.
type Catalog struct {
	store CatalogStore
}

func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{store: store}
}

// ListActive returns active rewards, cheapest first.
func (c *Catalog) ListActive(ctx context.Context) ([]RewardItem, error) {
	return c.store.ListActiveRewards(ctx)
}

// Get returns one reward regardless of its active flag.
func (c *Catalog) Get(ctx context.Context, id RewardID) (RewardItem, error) {
	return c.store.GetReward(ctx, id)
}

// LockForUpdate must only be called inside an open redemption transaction.
// It takes the exclusive row lock on the reward and returns its current
// snapshot. This lock is what keeps stock from being oversold. Only tx is
// used, so the zero Catalog can lock.
func (c *Catalog) LockForUpdate(ctx context.Context, tx Tx, id RewardID) (RewardItem, error) {
	return tx.LockReward(ctx, id)
}

// Create validates r and adds it to the catalog, assigning an ID if empty.
func (c *Catalog) Create(ctx context.Context, r RewardItem) (RewardItem, error) {
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		return RewardItem{}, fmt.Errorf("%w: name is required", ErrInvalidReward)
	case r.CostPoints <= 0:
		return RewardItem{}, fmt.Errorf("%w: cost_points must be positive", ErrInvalidReward)
	case r.Stock != nil && *r.Stock < 0:
		return RewardItem{}, fmt.Errorf("%w: stock cannot be negative", ErrInvalidReward)
	case !r.FulfilmentType.Valid():
		return RewardItem{}, fmt.Errorf("%w: unknown fulfilment type %q", ErrInvalidReward, r.FulfilmentType)
	}
	if r.ID == "" {
		r.ID = RewardID(uuid.NewString())
	}
	if err := c.store.CreateReward(ctx, r); err != nil {
		return RewardItem{}, err
	}
	return r, nil
}

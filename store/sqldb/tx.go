package sqldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// TRANSACTIONAL STORE (points.TxStore interface)
// =============================================================================

// WithTx runs fn inside one database transaction bounded by TxTimeout.
// It commits when fn returns nil and rolls back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx points.Tx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if s.dialect == Postgres {
		// SET LOCAL does not take bind parameters.
		if _, err = sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", s.opts.TxTimeout.Milliseconds())); err != nil {
			return classify("set statement_timeout", err)
		}
		if _, err = sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.opts.LockTimeout.Milliseconds())); err != nil {
			return classify("set lock_timeout", err)
		}
	}

	if err = fn(&txStore{tx: sqlTx, parent: s, ctx: ctx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return txError(ctx, "commit", err)
	}
	return nil
}

var (
	_ points.Store = (*Store)(nil)
	_ points.Tx    = (*txStore)(nil)
)

type txStore struct {
	tx     *sqlx.Tx
	parent *Store
	// ctx bounds the transaction; it is done once TxTimeout expires.
	ctx context.Context
}

func (ts *txStore) SumDeltas(ctx context.Context, userID points.UserID, w points.Window) (int64, error) {
	sum, err := sumDeltas(ctx, ts.tx, userID, w)
	if err != nil {
		return 0, txError(ts.ctx, "sum deltas", err)
	}
	return sum, nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e points.LedgerEntry) error {
	if err := appendEntry(ctx, ts.tx, e); err != nil {
		return txError(ts.ctx, "append ledger entry", err)
	}
	return nil
}

// LockUser takes a transaction-scoped advisory lock on PostgreSQL. SQLite
// transactions already hold the database write lock.
func (ts *txStore) LockUser(ctx context.Context, userID points.UserID) error {
	if ts.parent.dialect != Postgres {
		return nil
	}
	query := fmt.Sprintf("SELECT pg_advisory_xact_lock(%d, hashtext($1))", userLockClass)
	if _, err := ts.tx.ExecContext(ctx, query, string(userID)); err != nil {
		return txError(ts.ctx, "lock user", err)
	}
	return nil
}

func (ts *txStore) LockReward(ctx context.Context, id points.RewardID) (points.RewardItem, error) {
	query := selectReward + ` WHERE id = ?`
	if ts.parent.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	item, err := getReward(ctx, ts.tx, query, id)
	if err != nil && !errors.Is(err, points.ErrRewardNotFound) {
		return points.RewardItem{}, txError(ts.ctx, "lock reward", err)
	}
	return item, err
}

func (ts *txStore) FindRedemptionByKey(ctx context.Context, userID points.UserID, key string) (*points.Redemption, error) {
	r, err := findRedemptionByKey(ctx, ts.tx, userID, key)
	if err != nil {
		return nil, txError(ts.ctx, "find redemption", err)
	}
	return r, nil
}

func (ts *txStore) DecrementStock(ctx context.Context, id points.RewardID, qty int) error {
	res, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		UPDATE rewards SET stock = stock - ?
		WHERE id = ? AND stock IS NOT NULL AND stock >= ?`),
		qty, string(id), qty)
	if err != nil {
		return txError(ts.ctx, "decrement stock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return txError(ts.ctx, "decrement stock", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: reward %s", points.ErrInsufficientStock, id)
	}
	return nil
}

// InsertRedemption runs inside a savepoint so a unique violation leaves
// the surrounding transaction usable for another attempt.
func (ts *txStore) InsertRedemption(ctx context.Context, r points.Redemption) error {
	if _, err := ts.tx.ExecContext(ctx, "SAVEPOINT redemption_insert"); err != nil {
		return txError(ts.ctx, "savepoint", err)
	}
	if err := insertRedemption(ctx, ts.tx, r); err != nil {
		if _, rbErr := ts.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT redemption_insert"); rbErr != nil {
			return txError(ts.ctx, "rollback to savepoint", rbErr)
		}
		if _, relErr := ts.tx.ExecContext(ctx, "RELEASE SAVEPOINT redemption_insert"); relErr != nil {
			return txError(ts.ctx, "release savepoint", relErr)
		}
		return redemptionInsertError(err)
	}
	if _, err := ts.tx.ExecContext(ctx, "RELEASE SAVEPOINT redemption_insert"); err != nil {
		return txError(ts.ctx, "release savepoint", err)
	}
	return nil
}

package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/points-engine/points"
)

const (
	constraintVoucherCode = "uq_redemptions_voucher_code"
	constraintIdempotency = "uq_redemptions_idempotency"
)

// classify maps driver failures that may succeed on retry to
// points.TransientError and wraps everything else with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return &points.TransientError{Op: op, Err: err}
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled (statement_timeout)
			return true
		}
		return pqErr.Code.Class() == "08" // connection_exception
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// uniqueViolation returns the violated constraint (or, on SQLite, the
// column list from the message) and true for unique violations.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint, pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Error(), liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return "", false
}

// redemptionInsertError maps the two redemption uniqueness violations to
// their sentinels.
func redemptionInsertError(err error) error {
	detail, ok := uniqueViolation(err)
	if !ok {
		return classify("insert redemption", err)
	}
	switch {
	case detail == constraintVoucherCode || strings.Contains(detail, "voucher_code"):
		return points.ErrVoucherCodeTaken
	case detail == constraintIdempotency || strings.Contains(detail, "idempotency_key"):
		return points.ErrDuplicateIdempotencyKey
	}
	return &opError{op: "insert redemption", err: errors.Join(points.ErrIntegrity, err)}
}

// txError classifies an error that surfaced after the transaction context
// expired, which database/sql reports as sql.ErrTxDone.
func txError(ctx context.Context, op string, err error) error {
	if errors.Is(err, sql.ErrTxDone) && ctx.Err() != nil {
		return &points.TransientError{Op: op, Err: ctx.Err()}
	}
	return classify(op, err)
}

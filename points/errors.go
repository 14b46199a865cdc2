/*
errors.go - Error taxonomy for the points engine

PURPOSE:
  All error types in one place. Every redemption failure belongs to
  exactly one Kind, which the HTTP layer maps to a status code.

ERROR KINDS:
  1. Validation - bad input (quantity, delivery fields)
  2. NotFound   - unknown reward
  3. State      - inactive reward, insufficient stock, insufficient points
  4. Transient  - timeouts, lock contention, lost connections (retryable)
  5. Integrity  - voucher code attempts exhausted, unexpected constraint hit

USAGE:
  Match with errors.Is against the sentinels, or KindOf for the category:

    if errors.Is(err, points.ErrInsufficientPoints) { ... }
    if points.IsRetryable(err) { ... }

SEE ALSO:
  - redeem.go:              returns these errors in validation order
  - store/sqldb/errors.go:  maps driver errors to TransientError
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidQuantity       = errors.New("quantity must be a positive integer")
	ErrRewardIDRequired      = errors.New("rewardId is required")
	ErrUserIDRequired        = errors.New("user id is required")
	ErrDeliveryFieldsMissing = errors.New("delivery requires name, phone, address and postal code")
	ErrInvalidCredit         = errors.New("credit must be a positive number of points")
	ErrInvalidReward         = errors.New("invalid reward definition")

	ErrRewardNotFound = errors.New("reward not found")

	ErrRewardInactive     = errors.New("reward not available")
	ErrInsufficientStock  = errors.New("out of stock")
	ErrInsufficientPoints = errors.New("not enough points")

	// ErrTransient marks failures that may succeed on retry.
	ErrTransient = errors.New("temporarily unavailable, please retry")

	// ErrIntegrity marks store-level invariant violations.
	ErrIntegrity = errors.New("integrity violation")

	// ErrVoucherExhausted is returned when every generated voucher code
	// collided with an existing one.
	ErrVoucherExhausted = fmt.Errorf("%w: could not allocate a unique voucher code", ErrIntegrity)

	// ErrVoucherCodeTaken is returned by Tx.InsertRedemption when the
	// voucher code already exists. The coordinator retries on it.
	ErrVoucherCodeTaken = errors.New("voucher code already exists")

	// ErrDuplicateIdempotencyKey is returned by Tx.InsertRedemption when the
	// user already committed a redemption with the same idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError reports a balance shortage found inside the
// redemption transaction.
type InsufficientPointsError struct {
	UserID   UserID
	Balance  int64
	Required int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("not enough points: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// InsufficientStockError reports a finite stock below the requested quantity.
type InsufficientStockError struct {
	RewardID  RewardID
	Stock     int64
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("out of stock: %d left, %d requested", e.Stock, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransientError wraps a store failure that aborted the transaction but may
// succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransient, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// =============================================================================
// KINDS
// =============================================================================

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindState
	KindTransient
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	}
	return "unknown"
}

// KindOf classifies err. Unknown errors are KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrRewardIDRequired),
		errors.Is(err, ErrUserIDRequired),
		errors.Is(err, ErrDeliveryFieldsMissing),
		errors.Is(err, ErrInvalidCredit),
		errors.Is(err, ErrInvalidReward):
		return KindValidation
	case errors.Is(err, ErrRewardNotFound):
		return KindNotFound
	case errors.Is(err, ErrRewardInactive),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInsufficientPoints):
		return KindState
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	}
	return KindUnknown
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsClientError returns true if the request itself cannot succeed as sent.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindState:
		return true
	}
	return false
}

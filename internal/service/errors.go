package service

import (
	"errors"
	"fmt"

	"coupon-book-service/internal/model"
)

var (
	// ErrBookNotFound is returned when a book cannot be found
	ErrBookNotFound = errors.New("book not found")

	// ErrCouponNotFound is returned when a coupon cannot be found
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrPoolNotFound is returned when a pool cannot be found
	ErrPoolNotFound = errors.New("pool not found")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyAssigned is returned when assigning a coupon that is not UNASSIGNED
	ErrAlreadyAssigned = errors.New("coupon already assigned")

	// ErrInvalidState is returned when a transition is attempted from a state
	// that has no edge to the target state
	ErrInvalidState = errors.New("invalid state transition")

	// ErrNotOwner is returned when the caller is not the assigned owner of the coupon
	ErrNotOwner = errors.New("caller is not the coupon owner")

	// ErrLockExpired is returned when redemption is attempted past the lock expiry.
	// The coupon has been reverted to ASSIGNED; a fresh lock is required.
	ErrLockExpired = errors.New("lock expired")

	// ErrBookExhausted is returned when a book has no UNASSIGNED coupon left
	ErrBookExhausted = errors.New("book exhausted")

	// ErrInsufficientCoupons is returned when a bulk distribution needs more
	// unassigned coupons than the book holds; nothing is assigned
	ErrInsufficientCoupons = errors.New("insufficient unassigned coupons")

	// ErrDuplicateCode is returned when an uploaded or generated code collides
	// with an existing code
	ErrDuplicateCode = errors.New("duplicate code")

	// ErrAlphabetExhausted is returned when the generator cannot produce the
	// requested number of distinct codes within its retry budget
	ErrAlphabetExhausted = errors.New("cannot generate enough distinct codes")

	// ErrBookNotEmpty is returned when deleting a book that still has locked
	// or redeemed coupons
	ErrBookNotEmpty = errors.New("book has locked or redeemed coupons")

	// ErrContention is returned when an operation exceeded its retry budget
	// under concurrent load
	ErrContention = errors.New("operation aborted due to contention")
)

// StateError wraps a transition failure with the coupon's actual state
// so callers can react (re-fetch, re-lock) without guessing.
type StateError struct {
	Sentinel error
	State    model.CouponState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v (current state: %s)", e.Sentinel, e.State)
}

func (e *StateError) Unwrap() error {
	return e.Sentinel
}

// NewStateError pairs a sentinel with the coupon state that caused the
// rejection.
func NewStateError(sentinel error, state model.CouponState) error {
	return &StateError{Sentinel: sentinel, State: state}
}

// CurrentState extracts the coupon state attached to a rejected
// transition, if any.
func CurrentState(err error) (model.CouponState, bool) {
	var se *StateError
	if errors.As(err, &se) {
		return se.State, true
	}
	return "", false
}

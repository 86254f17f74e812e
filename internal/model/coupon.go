package model

import (
	"encoding/json"
	"time"
)

// CouponState is the lifecycle state of a coupon.
type CouponState string

// Coupon lifecycle states. REDEEMED is terminal.
const (
	StateUnassigned CouponState = "UNASSIGNED"
	StateAssigned   CouponState = "ASSIGNED"
	StateLocked     CouponState = "LOCKED"
	StateRedeemed   CouponState = "REDEEMED"
)

// validTransitions is the full edge set of the coupon state machine.
// LOCKED -> ASSIGNED (unlock) is the only backward edge.
var validTransitions = map[CouponState][]CouponState{
	StateUnassigned: {StateAssigned},
	StateAssigned:   {StateLocked},
	StateLocked:     {StateAssigned, StateRedeemed},
	StateRedeemed:   {},
}

// CanTransition reports whether moving from -> to is a legal edge.
func CanTransition(from, to CouponState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Coupon is the unit resource: one code and its state, ownership and
// redemption data. The code is the primary identity.
type Coupon struct {
	Code           string      `json:"code"`
	BookID         string      `json:"book_id"`
	State          CouponState `json:"state"`
	AssignedUserID *string     `json:"assigned_user_id,omitempty"`
	LockExpiresAt  *time.Time  `json:"lock_expires_at,omitempty"`
	RedeemedAt     *time.Time  `json:"redeemed_at,omitempty"`
	Position       int         `json:"-"`
	CreatedAt      time.Time   `json:"-"`
	UpdatedAt      time.Time   `json:"-"`
}

// LockExpired reports whether the coupon holds a lock that has passed
// its expiry at the given instant. An expired lock means the coupon is
// logically ASSIGNED again.
func (c *Coupon) LockExpired(now time.Time) bool {
	return c.State == StateLocked && c.LockExpiresAt != nil && now.After(*c.LockExpiresAt)
}

// EffectiveState is the state the coupon is logically in at the given
// instant, folding lock expiry into the answer.
func (c *Coupon) EffectiveState(now time.Time) CouponState {
	if c.LockExpired(now) {
		return StateAssigned
	}
	return c.State
}

// OwnedBy reports whether the coupon is currently assigned to userID.
func (c *Coupon) OwnedBy(userID string) bool {
	return c.AssignedUserID != nil && *c.AssignedUserID == userID
}

// AssignRandomRequest is the DTO for POST /api/coupons/assign.
type AssignRandomRequest struct {
	BookID string `json:"book_id" validate:"required,notblank,max=64"`
	UserID string `json:"user_id" validate:"required,notblank,max=255"`
}

// AssignSpecificRequest is the DTO for POST /api/coupons/:code/assign.
type AssignSpecificRequest struct {
	UserID string `json:"user_id" validate:"required,notblank,max=255"`
}

// LockRequest is the DTO for lock and unlock operations.
type LockRequest struct {
	UserID string `json:"user_id" validate:"required,notblank,max=255"`
}

// RedeemRequest is the DTO for POST /api/coupons/:code/redeem.
// Metadata is stored verbatim on the redemption record.
type RedeemRequest struct {
	UserID   string          `json:"user_id" validate:"required,notblank,max=255"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

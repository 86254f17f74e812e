package model

import (
	"encoding/json"
	"time"
)

// Redemption is an immutable audit entry produced exactly once per
// coupon at the moment of successful redemption. Append-only.
type Redemption struct {
	ID         string          `json:"redemption_id"`
	Code       string          `json:"code"`
	BookID     string          `json:"book_id"`
	UserID     string          `json:"user_id"`
	RedeemedAt time.Time       `json:"redeemed_at"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

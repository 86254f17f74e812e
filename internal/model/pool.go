package model

import "time"

// Pool is a named, mutable set of user identifiers consumed by bulk
// distribution. Deleting a pool does not affect coupons already
// distributed through it.
type Pool struct {
	ID        string    `json:"pool_id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PoolDetail is a pool with its current membership snapshot.
type PoolDetail struct {
	Pool
	UserIDs []string `json:"user_ids"`
}

// DistributionMode selects how bulk distribution pairs codes to users.
type DistributionMode string

const (
	// ModeRandom draws each user's codes at random from a single
	// shrinking candidate set.
	ModeRandom DistributionMode = "random"
	// ModeEven partitions the candidate set in lexicographic code
	// order into contiguous per-user chunks, making the mapping
	// reproducible.
	ModeEven DistributionMode = "even"
)

// CreatePoolRequest is the DTO for creating a pool.
type CreatePoolRequest struct {
	Name      string   `json:"name" validate:"required,notblank,max=255"`
	CreatedBy string   `json:"created_by" validate:"required,notblank,max=255"`
	UserIDs   []string `json:"user_ids" validate:"omitempty,dive,notblank,max=255"`
}

// UpdatePoolRequest is the DTO for renaming or (de)activating a pool.
type UpdatePoolRequest struct {
	Name   *string `json:"name" validate:"omitempty,notblank,max=255"`
	Active *bool   `json:"is_active"`
}

// PoolMembersRequest is the DTO for membership add/remove operations.
type PoolMembersRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,notblank,max=255"`
}

// DistributeRequest is the DTO for POST /api/pools/distribute.
type DistributeRequest struct {
	BookID         string           `json:"book_id" validate:"required,notblank,max=64"`
	PoolID         string           `json:"pool_id" validate:"required,notblank,max=64"`
	Mode           DistributionMode `json:"mode" validate:"required,distmode"`
	CouponsPerUser *int             `json:"coupons_per_user" validate:"required,gte=1"`
}

// DistributionResponse lists every (user, code) pairing committed by a
// bulk distribution call. On failure no partial list is returned.
type DistributionResponse struct {
	BookID        string              `json:"book_id"`
	PoolID        string              `json:"pool_id"`
	Mode          DistributionMode    `json:"mode"`
	TotalAssigned int                 `json:"total_assigned"`
	Assignments   map[string][]string `json:"assignments"`
}

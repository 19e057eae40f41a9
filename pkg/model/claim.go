package model

import "time"

type ClaimStatus string

const (
	ClaimStatusGranted  ClaimStatus = "granted"
	ClaimStatusUsed     ClaimStatus = "used"
	ClaimStatusCanceled ClaimStatus = "canceled"
)

// Claim records that one user successfully reserved part of a unit's
// inventory. The (UserID, UnitID) pair is unique, enforced by a compound
// index on the ledger collection.
type Claim struct {
	ID        string      `json:"id,omitempty" bson:"_id,omitempty"`
	UserID    string      `json:"user_id" bson:"user_id" validate:"required,min=1,max=64"`
	UnitID    string      `json:"unit_id" bson:"unit_id" validate:"required,mongodb"`
	Quantity  int64       `json:"quantity" bson:"quantity" validate:"required,min=1,max=10"`
	Status    ClaimStatus `json:"status" bson:"status"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updated_at"`
}

// ClaimInput is the request body for both the synchronous and asynchronous
// claim endpoints.
type ClaimInput struct {
	UserID   string `json:"user_id" validate:"required,min=1,max=64"`
	UnitID   string `json:"unit_id" validate:"required,mongodb"`
	Quantity int64  `json:"quantity" validate:"omitempty,min=1,max=10"`
}

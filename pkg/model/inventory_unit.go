package model

import "time"

// InventoryUnit is a fixed-quantity claimable resource: a coupon policy or a
// time-sale. RemainingQuantity is only ever mutated inside the claim
// orchestrator's critical section; the Redis quota counter mirrors it.
type InventoryUnit struct {
	ID                string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	Name              string    `json:"name" bson:"name" validate:"required,min=2,max=100"`
	TotalQuantity     int64     `json:"total_quantity" bson:"total_quantity" validate:"required,min=1"`
	RemainingQuantity int64     `json:"remaining_quantity" bson:"remaining_quantity"`
	StartTime         time.Time `json:"start_time" bson:"start_time" validate:"required"`
	EndTime           time.Time `json:"end_time" bson:"end_time" validate:"required,gtfield=StartTime"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}

// ActiveAt reports whether the unit's validity window covers the instant.
// The window is half-open: [StartTime, EndTime).
func (u *InventoryUnit) ActiveAt(now time.Time) bool {
	return !now.Before(u.StartTime) && now.Before(u.EndTime)
}

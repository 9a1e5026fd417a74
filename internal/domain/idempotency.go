package domain

import "time"

// Idempotency represents a recorded result of a previously accepted admin API
// request, keyed by (actor, scope, key). A replay with the same key returns
// the originally produced resource id instead of starting the work again.
type Idempotency struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	Actor      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_actor_scope_key,priority:1"`
	Scope      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_actor_scope_key,priority:2"`
	Key        string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_actor_scope_key,priority:3"`
	ResourceID string    `gorm:"type:varchar(64);not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (user_id, scope, key). Scope identifies the target of the request
// (e.g. "vote:answer:<id>"). It lets clients retry non-idempotent operations
// such as vote toggles without applying them twice: a replay returns the
// stored response instead of re-executing the operation.
type Idempotency struct {
	ID        string `gorm:"type:varchar(36);primaryKey"`
	UserID    string `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_scope_key,priority:3"`
	Status    int    `gorm:"not null"`
	Body      []byte
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an isolated customer namespace. Devices and memberships belong to a tenant.
type Tenant struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	Name      string     `db:"name"       json:"name"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// Deleted reports whether the tenant has been soft-deleted.
func (t *Tenant) Deleted() bool {
	return t.DeletedAt != nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleViewer     = "viewer"
	RoleOperator   = "operator"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// User is a person who signs in to the dashboard or mobile app.
// Passwords are stored only as bcrypt hashes.
type User struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Email        string    `db:"email"         json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	TOTPSecret   *string   `db:"totp_secret"   json:"-"`
	TOTPEnabled  bool      `db:"totp_enabled"  json:"totp_enabled"`
	Active       bool      `db:"active"        json:"active"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// Membership grants a user a role inside one tenant. At most one row exists per (user, tenant).
type Membership struct {
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	Role      string    `db:"role"       json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Package authz computes what a signed-in user may do. Capabilities are loaded once per
// request and passed down instead of re-querying memberships in every handler.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

var roleRank = map[string]int{
	models.RoleViewer:     1,
	models.RoleOperator:   2,
	models.RoleAdmin:      3,
	models.RoleSuperadmin: 4,
}

// MembershipLister is the store method Load needs.
type MembershipLister interface {
	ListMemberships(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)
}

// Capabilities is a user's authorization snapshot.
type Capabilities struct {
	UserID uuid.UUID
	// IsGlobalSuperadmin is set by a superadmin membership in the master tenant.
	IsGlobalSuperadmin bool
	TenantRoles        map[uuid.UUID]string
}

// Load builds Capabilities from the user's memberships in non-deleted tenants.
func Load(ctx context.Context, l MembershipLister, userID, masterTenantID uuid.UUID) (*Capabilities, error) {
	memberships, err := l.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}

	c := &Capabilities{UserID: userID, TenantRoles: make(map[uuid.UUID]string, len(memberships))}
	for _, m := range memberships {
		c.TenantRoles[m.TenantID] = m.Role
		if m.TenantID == masterTenantID && m.Role == models.RoleSuperadmin {
			c.IsGlobalSuperadmin = true
		}
	}
	return c, nil
}

// RoleIn returns the effective role in tenantID, or "" when the user has none.
func (c *Capabilities) RoleIn(tenantID uuid.UUID) string {
	if c.IsGlobalSuperadmin {
		return models.RoleSuperadmin
	}
	return c.TenantRoles[tenantID]
}

// HasRole reports whether the user holds at least min in tenantID.
func (c *Capabilities) HasRole(tenantID uuid.UUID, min string) bool {
	return roleRank[c.RoleIn(tenantID)] >= roleRank[min] && roleRank[min] > 0
}

func (c *Capabilities) CanAdminTenant(tenantID uuid.UUID) bool {
	return c.HasRole(tenantID, models.RoleAdmin)
}

// IsAdminAnywhere reports whether the user administers at least one tenant.
func (c *Capabilities) IsAdminAnywhere() bool {
	if c.IsGlobalSuperadmin {
		return true
	}
	for _, role := range c.TenantRoles {
		if roleRank[role] >= roleRank[models.RoleAdmin] {
			return true
		}
	}
	return false
}

package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/authz"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	memberships []*models.Membership
	err         error
}

func (f fakeLister) ListMemberships(context.Context, uuid.UUID) ([]*models.Membership, error) {
	return f.memberships, f.err
}

var (
	master  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	tenantA = uuid.New()
	tenantB = uuid.New()
)

func TestLoad_TenantRoles(t *testing.T) {
	user := uuid.New()
	caps, err := authz.Load(context.Background(), fakeLister{memberships: []*models.Membership{
		{UserID: user, TenantID: tenantA, Role: models.RoleAdmin},
		{UserID: user, TenantID: tenantB, Role: models.RoleViewer},
	}}, user, master)
	require.NoError(t, err)

	assert.False(t, caps.IsGlobalSuperadmin)
	assert.True(t, caps.CanAdminTenant(tenantA))
	assert.False(t, caps.CanAdminTenant(tenantB))
	assert.True(t, caps.HasRole(tenantB, models.RoleViewer))
	assert.False(t, caps.HasRole(tenantB, models.RoleOperator))
	assert.Equal(t, "", caps.RoleIn(uuid.New()))
	assert.True(t, caps.IsAdminAnywhere())
}

func TestLoad_MasterSuperadminIsGlobal(t *testing.T) {
	user := uuid.New()
	caps, err := authz.Load(context.Background(), fakeLister{memberships: []*models.Membership{
		{UserID: user, TenantID: master, Role: models.RoleSuperadmin},
	}}, user, master)
	require.NoError(t, err)

	assert.True(t, caps.IsGlobalSuperadmin)
	assert.True(t, caps.CanAdminTenant(uuid.New()))
	assert.Equal(t, models.RoleSuperadmin, caps.RoleIn(tenantA))
}

func TestLoad_SuperadminOutsideMasterIsLocal(t *testing.T) {
	user := uuid.New()
	caps, err := authz.Load(context.Background(), fakeLister{memberships: []*models.Membership{
		{UserID: user, TenantID: tenantA, Role: models.RoleSuperadmin},
	}}, user, master)
	require.NoError(t, err)

	assert.False(t, caps.IsGlobalSuperadmin)
	assert.True(t, caps.CanAdminTenant(tenantA))
	assert.False(t, caps.CanAdminTenant(tenantB))
}

func TestLoad_Error(t *testing.T) {
	_, err := authz.Load(context.Background(), fakeLister{err: errors.New("db down")}, uuid.New(), master)
	assert.Error(t, err)
}

func TestNoMemberships(t *testing.T) {
	caps := &authz.Capabilities{}
	assert.False(t, caps.IsAdminAnywhere())
	assert.False(t, caps.HasRole(tenantA, models.RoleViewer))
	assert.False(t, caps.HasRole(tenantA, "bogus"))
}

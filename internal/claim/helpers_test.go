package claim

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/config"
	credmock "github.com/kiranshivaraju/trapfleet/internal/credstore/mock"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt"
	mqttmock "github.com/kiranshivaraju/trapfleet/internal/mqtt/mock"
	"github.com/kiranshivaraju/trapfleet/internal/store/mock"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "device-shared-secret-0123456789"
	testBrokerURL = "mqtts://broker.example.com:8883"
	testMAC       = "AA:BB:CC:DD:EE:FF"
	testClientID  = "AABBCCDDEEFF"
	testPassword  = "correct-horse"
)

type fixture struct {
	svc    *Service
	store  *mock.Store
	creds  *credmock.Syncer
	pub    *mqttmock.Publisher
	tenant *models.Tenant
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: mock.NewStore(),
		creds: credmock.NewSyncer(),
		pub:   &mqttmock.Publisher{},
		now:   time.Now().UTC().Truncate(time.Second),
	}
	f.tenant = f.addTenant(t, "Acme Pest Control")

	tokens := auth.NewTokenIssuer(config.AuthConfig{
		JWTSecret:       "jwt-secret-that-is-long-enough-0123456789",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	f.svc = NewService(f.store, f.creds, mqtt.NewDeviceNotifier(f.pub), tokens, config.ClaimConfig{
		HMACSecret:      testSecret,
		MasterTenantID:  uuid.MustParse(config.DefaultMasterTenantID),
		DeviceBrokerURL: testBrokerURL,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addTenant(t *testing.T, name string) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{ID: uuid.New(), Name: name, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateTenant(context.Background(), tenant))
	return tenant
}

func (f *fixture) addCode(t *testing.T, code, deviceName string) *models.ClaimCode {
	t.Helper()
	cc := &models.ClaimCode{
		ID:         uuid.New(),
		Code:       code,
		TenantID:   f.tenant.ID,
		DeviceName: deviceName,
		Status:     models.ClaimCodeActive,
		ExpiresAt:  time.Now().Add(ClaimCodeTTL),
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
	}
	require.NoError(t, f.store.CreateClaimCode(context.Background(), cc))
	return cc
}

func (f *fixture) addDevice(t *testing.T, tenantID uuid.UUID, clientID string, unclaimed bool) *models.Device {
	t.Helper()
	d := &models.Device{
		ID:               uuid.New(),
		TenantID:         tenantID,
		MQTTClientID:     clientID,
		MQTTUsername:     clientID,
		MQTTPasswordHash: "old-hash",
		MQTTPassword:     "old-password",
		Name:             "Old Name",
		Status:           "offline",
		ClaimedAt:        f.now.Add(-time.Hour),
		CreatedAt:        f.now.Add(-time.Hour),
		UpdatedAt:        f.now.Add(-time.Hour),
	}
	if unclaimed {
		at := f.now.Add(-time.Minute)
		d.UnclaimedAt = &at
	}
	require.NoError(t, f.store.CreateDevice(context.Background(), d))
	return d
}

func (f *fixture) addUser(t *testing.T, email string, tenantID uuid.UUID) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	u := &models.User{ID: uuid.New(), Email: email, PasswordHash: hash, Active: true, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	require.NoError(t, f.store.CreateMembership(context.Background(), &models.Membership{
		UserID: u.ID, TenantID: tenantID, Role: models.RoleAdmin, CreatedAt: f.now,
	}))
	return u
}

// selfRegisterRequest returns a correctly signed request for a brand-new account.
func (f *fixture) selfRegisterRequest(email string) SelfRegisterRequest {
	ts := f.now.Unix()
	return SelfRegisterRequest{
		Email:        email,
		Password:     testPassword,
		DeviceName:   "Kitchen",
		MAC:          testMAC,
		ClaimToken:   SignClaimToken(testSecret, testMAC, ts),
		Timestamp:    ts,
		IsNewAccount: true,
	}
}

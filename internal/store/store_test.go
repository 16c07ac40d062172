package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/trapfleet/internal/config"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("trapfleet_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:              connStr,
		MaxOpenConns:     10,
		MaxIdleConns:     1,
		ConnMaxLifetime:  time.Minute,
		StatementTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newTenant(t *testing.T, s store.Store, name string) *models.Tenant {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenant := &models.Tenant{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func newDevice(tenantID uuid.UUID, clientID string) *models.Device {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Device{
		ID:               uuid.New(),
		TenantID:         tenantID,
		MQTTClientID:     clientID,
		MQTTUsername:     clientID,
		MQTTPasswordHash: "bcrypt-hash",
		MQTTPassword:     "plaintext",
		Name:             "Kitchen",
		Status:           "offline",
		Online:           true,
		ClaimedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// --- Tenant Tests ---

func TestMasterTenantSeeded(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	tenant, err := s.GetTenant(context.Background(), uuid.MustParse(config.DefaultMasterTenantID))
	require.NoError(t, err)
	assert.Equal(t, "Master Tenant", tenant.Name)
	assert.False(t, tenant.Deleted())
}

func TestTenant_DuplicateName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	newTenant(t, s, "acme")
	now := time.Now().UTC()
	err := s.CreateTenant(context.Background(), &models.Tenant{ID: uuid.New(), Name: "acme", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestGetTenant_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- User / Membership Tests ---

func TestUserAndMembership(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	now := time.Now().UTC().Truncate(time.Microsecond)
	user := &models.User{ID: uuid.New(), Email: "Owner@Example.com", PasswordHash: "hash", Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	m := &models.Membership{UserID: user.ID, TenantID: tenant.ID, Role: models.RoleAdmin, CreatedAt: now}
	require.NoError(t, s.CreateMembership(ctx, m))
	assert.ErrorIs(t, s.CreateMembership(ctx, m), store.ErrDuplicateKey)

	memberships, err := s.ListMemberships(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, models.RoleAdmin, memberships[0].Role)
}

// --- Device Tests ---

func TestDevice_LiveClientIDUnique(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	require.NoError(t, s.CreateDevice(ctx, newDevice(tenant.ID, "AABBCCDDEEFF")))
	err := s.CreateDevice(ctx, newDevice(tenant.ID, "AABBCCDDEEFF"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestDevice_ConcurrentInsertSameMAC(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InTx(ctx, func(q store.Queries) error {
				return q.CreateDevice(ctx, newDevice(tenant.ID, "112233445566"))
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrDuplicateKey):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestDevice_SoftDeleteFreesClientID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	first := newDevice(tenant.ID, "AABBCCDDEEFF")
	require.NoError(t, s.CreateDevice(ctx, first))
	require.NoError(t, s.SoftDeleteDevice(ctx, first.ID))
	assert.ErrorIs(t, s.SoftDeleteDevice(ctx, first.ID), store.ErrNotFound)

	got, err := s.GetDeviceByClientID(ctx, "AABBCCDDEEFF")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.False(t, got.Live())
	assert.False(t, got.Online)

	second := newDevice(tenant.ID, "AABBCCDDEEFF")
	require.NoError(t, s.CreateDevice(ctx, second))

	got, err = s.GetDeviceByClientID(ctx, "AABBCCDDEEFF")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "live row sorts first")

	// Reactivating the old row while another is live violates the partial index.
	err = s.UpdateDeviceCredentials(ctx, first.ID, store.CredentialUpdate{PasswordHash: "h", Password: "p", Reactivate: true})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestDevice_UpdateCredentialsReactivates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	d := newDevice(tenant.ID, "AABBCCDDEEFF")
	require.NoError(t, s.CreateDevice(ctx, d))
	require.NoError(t, s.SoftDeleteDevice(ctx, d.ID))

	name := "Garage"
	require.NoError(t, s.UpdateDeviceCredentials(ctx, d.ID, store.CredentialUpdate{
		PasswordHash: "new-hash", Password: "new-pass", Name: &name, Reactivate: true,
	}))

	got, err := s.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Live())
	assert.Equal(t, "new-hash", got.MQTTPasswordHash)
	assert.Equal(t, "new-pass", got.MQTTPassword)
	assert.Equal(t, "Garage", got.Name)
	assert.Equal(t, tenant.ID, got.TenantID)
}

func TestDevice_UpdateTenantAndStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	t1 := newTenant(t, s, "one")
	t2 := newTenant(t, s, "two")

	d := newDevice(t1.ID, "AABBCCDDEEFF")
	require.NoError(t, s.CreateDevice(ctx, d))
	require.NoError(t, s.UpdateDeviceTenant(ctx, d.ID, t2.ID))

	fw := "1.4.2"
	err := s.UpdateDeviceStatus(ctx, t1.ID, d.MQTTClientID, models.DeviceStatusUpdate{Online: true})
	assert.ErrorIs(t, err, store.ErrNotFound, "status for the old tenant is ignored")
	require.NoError(t, s.UpdateDeviceStatus(ctx, t2.ID, d.MQTTClientID, models.DeviceStatusUpdate{Online: false, FirmwareVersion: &fw}))

	got, err := s.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, got.TenantID)
	assert.Equal(t, d.MQTTPasswordHash, got.MQTTPasswordHash)
	assert.False(t, got.Online)
	assert.Equal(t, "offline", got.Status)
	require.NotNil(t, got.FirmwareVersion)
	assert.Equal(t, "1.4.2", *got.FirmwareVersion)
	assert.NotNil(t, got.LastSeen)
}

func TestDevice_HardDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	d := newDevice(tenant.ID, "AABBCCDDEEFF")
	require.NoError(t, s.CreateDevice(ctx, d))
	require.NoError(t, s.HardDeleteDevice(ctx, d.ID))

	_, err := s.GetDevice(ctx, d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.HardDeleteDevice(ctx, d.ID), store.ErrNotFound)
}

func TestListLiveDevices(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	live := newDevice(tenant.ID, "000000000001")
	gone := newDevice(tenant.ID, "000000000002")
	require.NoError(t, s.CreateDevice(ctx, live))
	require.NoError(t, s.CreateDevice(ctx, gone))
	require.NoError(t, s.SoftDeleteDevice(ctx, gone.ID))

	devices, err := s.ListLiveDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, live.ID, devices[0].ID)
}

// --- Claim Code Tests ---

func TestClaimCode_SingleUse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	now := time.Now().UTC().Truncate(time.Microsecond)
	code := &models.ClaimCode{
		ID: uuid.New(), Code: "AB12CD34", TenantID: tenant.ID, DeviceName: "Kitchen",
		Status: models.ClaimCodeActive, ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateClaimCode(ctx, code))

	got, err := s.GetActiveClaimCode(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, code.ID, got.ID)

	deviceID := uuid.New()
	require.NoError(t, s.MarkClaimCodeClaimed(ctx, code.ID, deviceID))
	assert.ErrorIs(t, s.MarkClaimCodeClaimed(ctx, code.ID, uuid.New()), store.ErrNotFound)

	_, err = s.GetActiveClaimCode(ctx, "AB12CD34")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimCode_Expired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenant := newTenant(t, s, "acme")

	now := time.Now().UTC()
	code := &models.ClaimCode{
		ID: uuid.New(), Code: "ZZZZ2222", TenantID: tenant.ID, DeviceName: "Shed",
		Status: models.ClaimCodeActive, ExpiresAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateClaimCode(ctx, code))

	_, err := s.GetActiveClaimCode(ctx, "ZZZZ2222")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.MarkClaimCodeClaimed(ctx, code.ID, uuid.New()), store.ErrNotFound)
}

// --- Claiming Queue Tests ---

func TestClaimingQueue_Upsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	serial := "SN-1"
	require.NoError(t, s.UpsertClaimingQueueEntry(ctx, &models.ClaimingQueueEntry{
		MACAddress: "AA:BB:CC:DD:EE:FF", Serial: &serial, ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now,
	}))
	ip := "10.0.0.7"
	require.NoError(t, s.UpsertClaimingQueueEntry(ctx, &models.ClaimingQueueEntry{
		MACAddress: "AA:BB:CC:DD:EE:FF", IP: &ip, ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now,
	}))

	entries, err := s.ListClaimingQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Serial)
	assert.Equal(t, "SN-1", *entries[0].Serial)
	require.NotNil(t, entries[0].IP)
	assert.Equal(t, "10.0.0.7", *entries[0].IP)

	require.NoError(t, s.DeleteClaimingQueueEntry(ctx, "AA:BB:CC:DD:EE:FF"))
	entries, err = s.ListClaimingQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// --- Transaction Tests ---

func TestInTx_RollbackOnError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	tenantID := uuid.New()
	sentinel := errors.New("credential sync failed")
	err := s.InTx(ctx, func(q store.Queries) error {
		now := time.Now().UTC()
		if err := q.CreateTenant(ctx, &models.Tenant{ID: tenantID, Name: "rollback", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := q.CreateDevice(ctx, newDevice(tenantID, "AABBCCDDEEFF")); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = s.GetTenant(ctx, tenantID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetDeviceByClientID(ctx, "AABBCCDDEEFF")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Audit / Ping ---

func TestCreateAuditEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.CreateAuditEntry(context.Background(), &models.ClaimAuditEntry{
		ID: uuid.New(), DeviceID: uuid.New(), MACAddress: "AABBCCDDEEFF", DeviceName: "Kitchen",
		TenantID: uuid.New(), Action: models.AuditActionClaim, TriggerSource: models.AuditSourceClaimCode,
		CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}

func TestConnect_StatementTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)

	var timeout string
	require.NoError(t, pool.QueryRow(context.Background(), "SHOW statement_timeout").Scan(&timeout))
	assert.Equal(t, "2s", timeout)

	_, err := pool.Exec(context.Background(), "SELECT pg_sleep(3)")
	require.Error(t, err)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := store.Connect(context.Background(), config.DatabaseConfig{URL: "not-a-valid-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database URL")
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	*queries
	pool *pgxpool.Pool
}

type queries struct {
	db dbtx
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: &queries{db: pool}, pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a transaction, committing only if fn succeeds.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Tenants ---

func (q *queries) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := q.db.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at, deleted_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (q *queries) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO tenants (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// --- Users ---

const userColumns = `id, email, password_hash, totp_secret, totp_enabled, active, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TOTPSecret, &u.TOTPEnabled, &u.Active,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, totp_enabled, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.PasswordHash, u.TOTPEnabled, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// --- Memberships ---

func (q *queries) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO user_tenant_memberships (user_id, tenant_id, role, created_at) VALUES ($1, $2, $3, $4)`,
		m.UserID, m.TenantID, m.Role, m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

func (q *queries) ListMemberships(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	rows, err := q.db.Query(ctx,
		`SELECT m.user_id, m.tenant_id, m.role, m.created_at
		 FROM user_tenant_memberships m JOIN tenants t ON t.id = m.tenant_id
		 WHERE m.user_id = $1 AND t.deleted_at IS NULL
		 ORDER BY m.created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.UserID, &m.TenantID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Devices ---

const deviceColumns = `id, tenant_id, mqtt_client_id, mqtt_username, mqtt_password_hash, mqtt_password,
	name, label, location, timezone, firmware_version, filesystem_version, hardware_version,
	status, online, last_seen, claimed_at, unclaimed_at, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(&d.ID, &d.TenantID, &d.MQTTClientID, &d.MQTTUsername, &d.MQTTPasswordHash, &d.MQTTPassword,
		&d.Name, &d.Label, &d.Location, &d.Timezone, &d.FirmwareVersion, &d.FilesystemVer, &d.HardwareVersion,
		&d.Status, &d.Online, &d.LastSeen, &d.ClaimedAt, &d.UnclaimedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *queries) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	d, err := scanDevice(q.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (q *queries) GetDeviceByClientID(ctx context.Context, clientID string) (*models.Device, error) {
	// Live rows sort first (NULLS FIRST), then the most recently unclaimed row.
	d, err := scanDevice(q.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE mqtt_client_id = $1
		 ORDER BY unclaimed_at DESC NULLS FIRST LIMIT 1
		 FOR UPDATE`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device by client id: %w", err)
	}
	return d, nil
}

func (q *queries) CreateDevice(ctx context.Context, d *models.Device) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO devices (id, tenant_id, mqtt_client_id, mqtt_username, mqtt_password_hash, mqtt_password,
		   name, timezone, firmware_version, filesystem_version, hardware_version,
		   status, online, claimed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.TenantID, d.MQTTClientID, d.MQTTUsername, d.MQTTPasswordHash, d.MQTTPassword,
		d.Name, d.Timezone, d.FirmwareVersion, d.FilesystemVer, d.HardwareVersion,
		d.Status, d.Online, d.ClaimedAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

func (q *queries) UpdateDeviceCredentials(ctx context.Context, id uuid.UUID, upd CredentialUpdate) error {
	claimedAt := upd.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now().UTC()
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE devices SET
		   mqtt_password_hash = $2,
		   mqtt_password = $3,
		   name = COALESCE($4, name),
		   timezone = COALESCE($5, timezone),
		   unclaimed_at = CASE WHEN $6 THEN NULL ELSE unclaimed_at END,
		   claimed_at = CASE WHEN $6 THEN $7 ELSE claimed_at END,
		   updated_at = NOW()
		 WHERE id = $1`,
		id, upd.PasswordHash, upd.Password, upd.Name, upd.Timezone, upd.Reactivate, claimedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update device credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) SoftDeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE devices SET unclaimed_at = NOW(), online = FALSE, updated_at = NOW()
		 WHERE id = $1 AND unclaimed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) HardDeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("hard delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) UpdateDeviceTenant(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE devices SET tenant_id = $2, updated_at = NOW() WHERE id = $1 AND unclaimed_at IS NULL`,
		id, tenantID)
	if err != nil {
		return fmt.Errorf("update device tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) UpdateDeviceStatus(ctx context.Context, tenantID uuid.UUID, clientID string, upd models.DeviceStatusUpdate) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE devices SET
		   online = $3,
		   status = CASE WHEN $3 THEN 'online' ELSE 'offline' END,
		   last_seen = NOW(),
		   firmware_version = COALESCE($4, firmware_version),
		   filesystem_version = COALESCE($5, filesystem_version),
		   hardware_version = COALESCE($6, hardware_version),
		   updated_at = NOW()
		 WHERE tenant_id = $1 AND mqtt_client_id = $2 AND unclaimed_at IS NULL`,
		tenantID, clientID, upd.Online, upd.FirmwareVersion, upd.FilesystemVersion, upd.HardwareVersion)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) ListLiveDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE unclaimed_at IS NULL ORDER BY claimed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list live devices: %w", err)
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Claim Codes ---

const claimCodeColumns = `id, code, tenant_id, device_name, status, expires_at, claimed_by_device_id, created_by, created_at, updated_at`

func (q *queries) CreateClaimCode(ctx context.Context, c *models.ClaimCode) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO claim_codes (id, code, tenant_id, device_name, status, expires_at, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Code, c.TenantID, c.DeviceName, c.Status, c.ExpiresAt, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create claim code: %w", err)
	}
	return nil
}

func (q *queries) GetActiveClaimCode(ctx context.Context, code string) (*models.ClaimCode, error) {
	var c models.ClaimCode
	err := q.db.QueryRow(ctx,
		`SELECT `+claimCodeColumns+` FROM claim_codes
		 WHERE code = $1 AND status = 'active' AND expires_at > NOW()`, code,
	).Scan(&c.ID, &c.Code, &c.TenantID, &c.DeviceName, &c.Status, &c.ExpiresAt, &c.ClaimedByDeviceID,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active claim code: %w", err)
	}
	return &c, nil
}

func (q *queries) MarkClaimCodeClaimed(ctx context.Context, id uuid.UUID, deviceID uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE claim_codes SET status = 'claimed', claimed_by_device_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'active' AND expires_at > NOW()`, id, deviceID)
	if err != nil {
		return fmt.Errorf("mark claim code claimed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Claiming Queue ---

func (q *queries) UpsertClaimingQueueEntry(ctx context.Context, e *models.ClaimingQueueEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO device_claiming_queue (mac_address, serial, ip, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (mac_address) DO UPDATE SET
		   serial = COALESCE(EXCLUDED.serial, device_claiming_queue.serial),
		   ip = COALESCE(EXCLUDED.ip, device_claiming_queue.ip),
		   expires_at = EXCLUDED.expires_at`,
		e.MACAddress, e.Serial, e.IP, e.ExpiresAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert claiming queue entry: %w", err)
	}
	return nil
}

func (q *queries) DeleteClaimingQueueEntry(ctx context.Context, macAddress string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM device_claiming_queue WHERE mac_address = $1`, macAddress)
	if err != nil {
		return fmt.Errorf("delete claiming queue entry: %w", err)
	}
	return nil
}

func (q *queries) ListClaimingQueue(ctx context.Context) ([]*models.ClaimingQueueEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT mac_address, serial, ip, expires_at, created_at FROM device_claiming_queue
		 WHERE expires_at > NOW() ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list claiming queue: %w", err)
	}
	defer rows.Close()

	var out []*models.ClaimingQueueEntry
	for rows.Next() {
		var e models.ClaimingQueueEntry
		if err := rows.Scan(&e.MACAddress, &e.Serial, &e.IP, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claiming queue entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Audit ---

func (q *queries) CreateAuditEntry(ctx context.Context, e *models.ClaimAuditEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO device_claim_audit (id, device_id, mac_address, device_name, tenant_id, action,
		   trigger_source, actor_user_id, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.DeviceID, e.MACAddress, e.DeviceName, e.TenantID, e.Action,
		e.TriggerSource, e.ActorUserID, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

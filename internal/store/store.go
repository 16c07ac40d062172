package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Queries is the data access surface shared by the pool and by an open transaction.
type Queries interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	CreateMembership(ctx context.Context, m *models.Membership) error
	ListMemberships(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)

	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	// GetDeviceByClientID returns the live device for the client id, or the most recently
	// unclaimed row when no live device exists.
	GetDeviceByClientID(ctx context.Context, clientID string) (*models.Device, error)
	CreateDevice(ctx context.Context, device *models.Device) error
	UpdateDeviceCredentials(ctx context.Context, id uuid.UUID, upd CredentialUpdate) error
	SoftDeleteDevice(ctx context.Context, id uuid.UUID) error
	HardDeleteDevice(ctx context.Context, id uuid.UUID) error
	UpdateDeviceTenant(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
	UpdateDeviceStatus(ctx context.Context, tenantID uuid.UUID, clientID string, upd models.DeviceStatusUpdate) error
	ListLiveDevices(ctx context.Context) ([]*models.Device, error)

	CreateClaimCode(ctx context.Context, code *models.ClaimCode) error
	GetActiveClaimCode(ctx context.Context, code string) (*models.ClaimCode, error)
	// MarkClaimCodeClaimed flips an active, unexpired code to claimed. It returns ErrNotFound
	// when the code is no longer claimable.
	MarkClaimCodeClaimed(ctx context.Context, id uuid.UUID, deviceID uuid.UUID) error

	UpsertClaimingQueueEntry(ctx context.Context, entry *models.ClaimingQueueEntry) error
	DeleteClaimingQueueEntry(ctx context.Context, macAddress string) error
	ListClaimingQueue(ctx context.Context) ([]*models.ClaimingQueueEntry, error)

	CreateAuditEntry(ctx context.Context, entry *models.ClaimAuditEntry) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Queries
	Ping(ctx context.Context) error
	// InTx runs fn inside a single transaction. Any error returned by fn rolls it back.
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// CredentialUpdate rotates a device's MQTT credentials. Nil fields are left unchanged.
// Reactivate clears unclaimed_at and restamps claimed_at.
type CredentialUpdate struct {
	PasswordHash string
	Password     string
	Name         *string
	Timezone     *string
	Reactivate   bool
	ClaimedAt    time.Time
}

// Package mock provides an in-memory store.Store for tests. It enforces the same uniqueness
// rules as the Postgres schema and gives InTx snapshot/rollback semantics.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// Store satisfies store.Store for testing.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	Tenants     map[uuid.UUID]*models.Tenant
	Users       map[uuid.UUID]*models.User
	Memberships []*models.Membership
	Devices     map[uuid.UUID]*models.Device
	ClaimCodes  map[uuid.UUID]*models.ClaimCode
	Queue       map[string]*models.ClaimingQueueEntry
	Audit       []*models.ClaimAuditEntry

	// Errs injects a failure for the named method, e.g. Errs["CreateAuditEntry"].
	Errs map[string]error
	// BeforeCreateDevice runs (without the lock held) before a device insert is applied.
	BeforeCreateDevice func()
	PingErr            error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		Tenants:    make(map[uuid.UUID]*models.Tenant),
		Users:      make(map[uuid.UUID]*models.User),
		Devices:    make(map[uuid.UUID]*models.Device),
		ClaimCodes: make(map[uuid.UUID]*models.ClaimCode),
		Queue:      make(map[string]*models.ClaimingQueueEntry),
		Errs:       make(map[string]error),
	}
}

func (s *Store) fail(method string) error {
	if s.Errs == nil {
		return nil
	}
	return s.Errs[method]
}

func (s *Store) Ping(_ context.Context) error { return s.PingErr }

// InTx serializes transactions and restores the pre-transaction state when fn fails.
func (s *Store) InTx(_ context.Context, fn func(q store.Queries) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	if err := s.fail("Commit"); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	tenants     map[uuid.UUID]models.Tenant
	users       map[uuid.UUID]models.User
	memberships []models.Membership
	devices     map[uuid.UUID]models.Device
	claimCodes  map[uuid.UUID]models.ClaimCode
	queue       map[string]models.ClaimingQueueEntry
	audit       int
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		tenants:    make(map[uuid.UUID]models.Tenant, len(s.Tenants)),
		users:      make(map[uuid.UUID]models.User, len(s.Users)),
		devices:    make(map[uuid.UUID]models.Device, len(s.Devices)),
		claimCodes: make(map[uuid.UUID]models.ClaimCode, len(s.ClaimCodes)),
		queue:      make(map[string]models.ClaimingQueueEntry, len(s.Queue)),
		audit:      len(s.Audit),
	}
	for k, v := range s.Tenants {
		snap.tenants[k] = *v
	}
	for k, v := range s.Users {
		snap.users[k] = *v
	}
	for _, m := range s.Memberships {
		snap.memberships = append(snap.memberships, *m)
	}
	for k, v := range s.Devices {
		snap.devices[k] = *v
	}
	for k, v := range s.ClaimCodes {
		snap.claimCodes[k] = *v
	}
	for k, v := range s.Queue {
		snap.queue[k] = *v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tenants = make(map[uuid.UUID]*models.Tenant, len(snap.tenants))
	for k, v := range snap.tenants {
		v := v
		s.Tenants[k] = &v
	}
	s.Users = make(map[uuid.UUID]*models.User, len(snap.users))
	for k, v := range snap.users {
		v := v
		s.Users[k] = &v
	}
	s.Memberships = nil
	for _, m := range snap.memberships {
		m := m
		s.Memberships = append(s.Memberships, &m)
	}
	s.Devices = make(map[uuid.UUID]*models.Device, len(snap.devices))
	for k, v := range snap.devices {
		v := v
		s.Devices[k] = &v
	}
	s.ClaimCodes = make(map[uuid.UUID]*models.ClaimCode, len(snap.claimCodes))
	for k, v := range snap.claimCodes {
		v := v
		s.ClaimCodes[k] = &v
	}
	s.Queue = make(map[string]*models.ClaimingQueueEntry, len(snap.queue))
	for k, v := range snap.queue {
		v := v
		s.Queue[k] = &v
	}
	s.Audit = s.Audit[:snap.audit]
}

// --- Tenants ---

func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateTenant(_ context.Context, t *models.Tenant) error {
	if err := s.fail("CreateTenant"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Tenants {
		if existing.DeletedAt == nil && existing.Name == t.Name {
			return store.ErrDuplicateKey
		}
	}
	cp := *t
	s.Tenants[t.ID] = &cp
	return nil
}

// --- Users ---

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	if err := s.fail("CreateUser"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrDuplicateKey
		}
	}
	cp := *u
	s.Users[u.ID] = &cp
	return nil
}

// --- Memberships ---

func (s *Store) CreateMembership(_ context.Context, m *models.Membership) error {
	if err := s.fail("CreateMembership"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Memberships {
		if existing.UserID == m.UserID && existing.TenantID == m.TenantID {
			return store.ErrDuplicateKey
		}
	}
	cp := *m
	s.Memberships = append(s.Memberships, &cp)
	return nil
}

func (s *Store) ListMemberships(_ context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	if err := s.fail("ListMemberships"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Membership
	for _, m := range s.Memberships {
		if m.UserID != userID {
			continue
		}
		if t, ok := s.Tenants[m.TenantID]; ok && t.DeletedAt != nil {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// --- Devices ---

func (s *Store) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	if err := s.fail("GetDevice"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetDeviceByClientID(_ context.Context, clientID string) (*models.Device, error) {
	if err := s.fail("GetDeviceByClientID"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Device
	for _, d := range s.Devices {
		if d.MQTTClientID != clientID {
			continue
		}
		if d.UnclaimedAt == nil {
			best = d
			break
		}
		if best == nil || d.UnclaimedAt.After(*best.UnclaimedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) liveClientIDTaken(clientID string, except uuid.UUID) bool {
	for _, d := range s.Devices {
		if d.ID != except && d.MQTTClientID == clientID && d.UnclaimedAt == nil {
			return true
		}
	}
	return false
}

func (s *Store) CreateDevice(_ context.Context, d *models.Device) error {
	if err := s.fail("CreateDevice"); err != nil {
		return err
	}
	if s.BeforeCreateDevice != nil {
		s.BeforeCreateDevice()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Devices[d.ID]; ok {
		return store.ErrDuplicateKey
	}
	if d.UnclaimedAt == nil && s.liveClientIDTaken(d.MQTTClientID, d.ID) {
		return store.ErrDuplicateKey
	}
	cp := *d
	s.Devices[d.ID] = &cp
	return nil
}

func (s *Store) UpdateDeviceCredentials(_ context.Context, id uuid.UUID, upd store.CredentialUpdate) error {
	if err := s.fail("UpdateDeviceCredentials"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Devices[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Reactivate && d.UnclaimedAt != nil && s.liveClientIDTaken(d.MQTTClientID, d.ID) {
		return store.ErrDuplicateKey
	}
	d.MQTTPasswordHash = upd.PasswordHash
	d.MQTTPassword = upd.Password
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Timezone != nil {
		tz := *upd.Timezone
		d.Timezone = &tz
	}
	if upd.Reactivate {
		d.UnclaimedAt = nil
		d.ClaimedAt = upd.ClaimedAt
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SoftDeleteDevice(_ context.Context, id uuid.UUID) error {
	if err := s.fail("SoftDeleteDevice"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Devices[id]
	if !ok || d.UnclaimedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	d.UnclaimedAt = &now
	d.Online = false
	d.UpdatedAt = now
	return nil
}

func (s *Store) HardDeleteDevice(_ context.Context, id uuid.UUID) error {
	if err := s.fail("HardDeleteDevice"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Devices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.Devices, id)
	return nil
}

func (s *Store) UpdateDeviceTenant(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	if err := s.fail("UpdateDeviceTenant"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Devices[id]
	if !ok || d.UnclaimedAt != nil {
		return store.ErrNotFound
	}
	d.TenantID = tenantID
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateDeviceStatus(_ context.Context, tenantID uuid.UUID, clientID string, upd models.DeviceStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.Devices {
		if d.TenantID != tenantID || d.MQTTClientID != clientID || d.UnclaimedAt != nil {
			continue
		}
		now := time.Now().UTC()
		d.Online = upd.Online
		d.Status = "offline"
		if upd.Online {
			d.Status = "online"
		}
		d.LastSeen = &now
		if upd.FirmwareVersion != nil {
			d.FirmwareVersion = upd.FirmwareVersion
		}
		if upd.FilesystemVersion != nil {
			d.FilesystemVer = upd.FilesystemVersion
		}
		if upd.HardwareVersion != nil {
			d.HardwareVersion = upd.HardwareVersion
		}
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ListLiveDevices(_ context.Context) ([]*models.Device, error) {
	if err := s.fail("ListLiveDevices"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Device
	for _, d := range s.Devices {
		if d.UnclaimedAt == nil {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out, nil
}

// LiveDevicesByClientID is a test helper counting live rows for a client id.
func (s *Store) LiveDevicesByClientID(clientID string) []*models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Device
	for _, d := range s.Devices {
		if d.MQTTClientID == clientID && d.UnclaimedAt == nil {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// --- Claim Codes ---

func (s *Store) CreateClaimCode(_ context.Context, c *models.ClaimCode) error {
	if err := s.fail("CreateClaimCode"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ClaimCodes {
		if existing.Code == c.Code {
			return store.ErrDuplicateKey
		}
	}
	cp := *c
	s.ClaimCodes[c.ID] = &cp
	return nil
}

func (s *Store) GetActiveClaimCode(_ context.Context, code string) (*models.ClaimCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range s.ClaimCodes {
		if c.Code == code && c.Status == models.ClaimCodeActive && c.ExpiresAt.After(now) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MarkClaimCodeClaimed(_ context.Context, id uuid.UUID, deviceID uuid.UUID) error {
	if err := s.fail("MarkClaimCodeClaimed"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ClaimCodes[id]
	if !ok || c.Status != models.ClaimCodeActive || !c.ExpiresAt.After(time.Now()) {
		return store.ErrNotFound
	}
	c.Status = models.ClaimCodeClaimed
	c.ClaimedByDeviceID = &deviceID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Claiming Queue ---

func (s *Store) UpsertClaimingQueueEntry(_ context.Context, e *models.ClaimingQueueEntry) error {
	if err := s.fail("UpsertClaimingQueueEntry"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if existing, ok := s.Queue[e.MACAddress]; ok {
		if cp.Serial == nil {
			cp.Serial = existing.Serial
		}
		if cp.IP == nil {
			cp.IP = existing.IP
		}
		cp.CreatedAt = existing.CreatedAt
	}
	s.Queue[e.MACAddress] = &cp
	return nil
}

func (s *Store) DeleteClaimingQueueEntry(_ context.Context, macAddress string) error {
	if err := s.fail("DeleteClaimingQueueEntry"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Queue, macAddress)
	return nil
}

func (s *Store) ListClaimingQueue(_ context.Context) ([]*models.ClaimingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*models.ClaimingQueueEntry
	for _, e := range s.Queue {
		if e.ExpiresAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Audit ---

func (s *Store) CreateAuditEntry(_ context.Context, e *models.ClaimAuditEntry) error {
	if err := s.fail("CreateAuditEntry"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.Audit = append(s.Audit, &cp)
	return nil
}

// AuditEntries returns a copy of the recorded audit entries.
func (s *Store) AuditEntries() []models.ClaimAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ClaimAuditEntry, 0, len(s.Audit))
	for _, e := range s.Audit {
		out = append(out, *e)
	}
	return out
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/metrics"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

const minPasswordLength = 8

// SelfRegisterRequest comes from a device's captive setup portal.
type SelfRegisterRequest struct {
	Email        string
	Password     string
	DeviceName   string
	MAC          string
	ClaimToken   string
	Timestamp    int64
	IsNewAccount bool
	Timezone     *string
}

// SelfRegisterResult is returned once the transaction has committed.
type SelfRegisterResult struct {
	User       *models.User
	Device     *Credentials
	Tokens     auth.TokenPair
	Reclaimed  bool
	NewAccount bool
}

func (r *SelfRegisterRequest) validate() error {
	addr, err := mail.ParseAddress(strings.TrimSpace(r.Email))
	if err != nil || addr.Address != strings.TrimSpace(r.Email) {
		return invalid("email", "must be a valid email address")
	}
	if len(r.Password) < minPasswordLength {
		return invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if strings.TrimSpace(r.DeviceName) == "" {
		return invalid("deviceName", "is required")
	}
	if !colonMACPattern.MatchString(strings.TrimSpace(r.MAC)) {
		return invalid("mac", "must look like AA:BB:CC:DD:EE:FF")
	}
	if r.ClaimToken == "" {
		return invalid("claimToken", "is required")
	}
	return nil
}

// SelfRegister creates or signs in an account and claims the device in one transaction.
//
// A live device with the same MAC is reclaimed in place: credentials rotate, the tenant does
// not change. The broker credential is written inside the transaction, so a sync failure
// rolls back the user, tenant and device together.
func (s *Service) SelfRegister(ctx context.Context, req SelfRegisterRequest) (*SelfRegisterResult, error) {
	res, err := s.selfRegister(ctx, req)
	metrics.ClaimsTotal.WithLabelValues("self_registration", outcome(err)).Inc()
	return res, err
}

func (s *Service) selfRegister(ctx context.Context, req SelfRegisterRequest) (*SelfRegisterResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	mac := strings.TrimSpace(req.MAC)
	if err := s.verifyClaimToken(mac, req.ClaimToken, req.Timestamp); err != nil {
		return nil, err
	}
	clientID, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	deviceName := strings.TrimSpace(req.DeviceName)

	user, tenantID, err := s.resolveAccount(ctx, email, req.Password, req.IsNewAccount)
	if err != nil {
		return nil, err
	}

	password, hash, err := newMQTTPassword()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var (
		device   *models.Device
		previous *models.Device
		synced   bool
	)
	err = s.store.InTx(ctx, func(q store.Queries) error {
		if req.IsNewAccount {
			if err := createAccount(ctx, q, user, tenantID); err != nil {
				return err
			}
		}

		existing, err := q.GetDeviceByClientID(ctx, clientID)
		switch {
		case err == nil && existing.Live():
			previous = existing
			if err := q.UpdateDeviceCredentials(ctx, existing.ID, store.CredentialUpdate{
				PasswordHash: hash,
				Password:     password,
				Name:         &deviceName,
				Timezone:     req.Timezone,
			}); err != nil {
				return fmt.Errorf("update device credentials: %w", err)
			}
			d := *existing
			d.MQTTPasswordHash, d.MQTTPassword, d.Name = hash, password, deviceName
			device = &d
		case err == nil || errors.Is(err, store.ErrNotFound):
			if err == nil {
				if err := q.HardDeleteDevice(ctx, existing.ID); err != nil {
					return fmt.Errorf("delete unclaimed device: %w", err)
				}
			}
			device = &models.Device{
				ID:               uuid.New(),
				TenantID:         tenantID,
				MQTTClientID:     clientID,
				MQTTUsername:     clientID,
				MQTTPasswordHash: hash,
				MQTTPassword:     password,
				Name:             deviceName,
				Timezone:         req.Timezone,
				Status:           "offline",
				Online:           true,
				ClaimedAt:        now,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := q.CreateDevice(ctx, device); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					return ErrDeviceAlreadyClaimed
				}
				return fmt.Errorf("create device: %w", err)
			}
		default:
			return fmt.Errorf("look up device: %w", err)
		}

		if err := s.creds.SyncDevice(ctx, clientID, password, true); err != nil {
			return fmt.Errorf("%w: %v", ErrCredentialSyncFailed, err)
		}
		synced = true
		return nil
	})
	if err != nil {
		if synced {
			s.restoreCredentials(ctx, clientID, previous)
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrDeviceAlreadyClaimed
		}
		return nil, err
	}

	s.clearRevoke(ctx, device)
	s.dequeue(ctx, clientID)
	s.audit(ctx, device, models.AuditActionClaim, models.AuditSourceSelfRegistration, &user.ID)

	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue session tokens: %w", err)
	}

	slog.Info("device self-registered", "device_id", device.ID, "tenant_id", device.TenantID,
		"mqtt_client_id", clientID, "reclaimed", previous != nil, "new_account", req.IsNewAccount)

	return &SelfRegisterResult{
		User:       user,
		Device:     s.credentials(device, password),
		Tokens:     tokens,
		Reclaimed:  previous != nil,
		NewAccount: req.IsNewAccount,
	}, nil
}

// resolveAccount returns the user and the tenant a new device lands in. For a new account
// both are built in memory and written later inside the claim transaction.
func (s *Service) resolveAccount(ctx context.Context, email, password string, isNew bool) (*models.User, uuid.UUID, error) {
	existing, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil && isNew:
		return nil, uuid.Nil, ErrAccountExists
	case errors.Is(err, store.ErrNotFound) && !isNew:
		return nil, uuid.Nil, ErrInvalidCredentials
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, uuid.Nil, fmt.Errorf("look up user: %w", err)
	}

	if !isNew {
		if !existing.Active || !auth.CheckPassword(existing.PasswordHash, password) {
			return nil, uuid.Nil, ErrInvalidCredentials
		}
		memberships, err := s.store.ListMemberships(ctx, existing.ID)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("list memberships: %w", err)
		}
		if len(memberships) == 0 {
			return nil, uuid.Nil, ErrNoTenant
		}
		return existing, memberships[0].TenantID, nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, uuid.Nil, err
	}
	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return user, uuid.New(), nil
}

// createAccount writes a new tenant named after the email, the user, and an admin membership.
func createAccount(ctx context.Context, q store.Queries, user *models.User, tenantID uuid.UUID) error {
	tenant := &models.Tenant{ID: tenantID, Name: user.Email, CreatedAt: user.CreatedAt, UpdatedAt: user.CreatedAt}
	if err := q.CreateTenant(ctx, tenant); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return ErrAccountExists
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	if err := q.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return ErrAccountExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	if err := q.CreateMembership(ctx, &models.Membership{
		UserID:    user.ID,
		TenantID:  tenantID,
		Role:      models.RoleAdmin,
		CreatedAt: user.CreatedAt,
	}); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

// restoreCredentials puts the broker back in line with the rolled-back database after a
// transaction failed past the credential write.
func (s *Service) restoreCredentials(ctx context.Context, clientID string, previous *models.Device) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if previous != nil && previous.Live() {
		err = s.creds.SyncDevice(ctx, clientID, previous.MQTTPassword, true)
	} else {
		err = s.creds.RemoveDevice(ctx, clientID)
	}
	if err != nil {
		slog.Error("failed to restore broker credentials after rollback", "mqtt_client_id", clientID, "error", err)
	}
}

// Package claim turns a claim code or a device-signed self-registration into a live device
// with fresh MQTT credentials. A device row never outlives a failed credential sync.
package claim

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/config"
	"github.com/kiranshivaraju/trapfleet/internal/credstore"
	"github.com/kiranshivaraju/trapfleet/internal/metrics"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const mqttPasswordBytes = 16

// RevokeClearer drops a retained revoke message so a reclaimed device is not told to wipe
// itself on its next connect.
type RevokeClearer interface {
	ClearRevoke(ctx context.Context, tenantID uuid.UUID, clientID string) error
}

// TokenIssuer signs session tokens for a self-registered user.
type TokenIssuer interface {
	Issue(user *models.User) (auth.TokenPair, error)
}

// Credentials is the one-time bundle a device stores after a claim.
type Credentials struct {
	DeviceID      uuid.UUID `json:"deviceId"`
	TenantID      uuid.UUID `json:"tenantId"`
	DeviceName    string    `json:"deviceName"`
	MQTTClientID  string    `json:"mqttClientId"`
	MQTTUsername  string    `json:"mqttUsername"`
	MQTTPassword  string    `json:"mqttPassword"`
	MQTTBrokerURL string    `json:"mqttBrokerUrl"`
}

// DeviceInfo is what a device reports about itself when claiming with a code.
type DeviceInfo struct {
	MACAddress        string  `json:"macAddress"`
	FirmwareVersion   *string `json:"firmwareVersion,omitempty"`
	FilesystemVersion *string `json:"filesystemVersion,omitempty"`
	HardwareVersion   *string `json:"hardwareVersion,omitempty"`
}

type Service struct {
	store   store.Store
	creds   credstore.Syncer
	revokes RevokeClearer
	tokens  TokenIssuer
	cfg     config.ClaimConfig
	now     func() time.Time
}

func NewService(s store.Store, creds credstore.Syncer, revokes RevokeClearer, tokens TokenIssuer, cfg config.ClaimConfig) *Service {
	return &Service{
		store:   s,
		creds:   creds,
		revokes: revokes,
		tokens:  tokens,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ClaimByCode binds the device identified by info.MACAddress to the claim code's tenant.
//
// The device row is inserted first and deleted again if the broker credential cannot be
// written. A code that stops being claimable between lookup and use (another device won the
// race, or it expired) also undoes the insert.
func (s *Service) ClaimByCode(ctx context.Context, code string, info DeviceInfo) (*Credentials, error) {
	creds, err := s.claimByCode(ctx, code, info)
	metrics.ClaimsTotal.WithLabelValues("code", outcome(err)).Inc()
	return creds, err
}

func (s *Service) claimByCode(ctx context.Context, code string, info DeviceInfo) (*Credentials, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, invalid("claimCode", "is required")
	}
	clientID, err := NormalizeMAC(info.MACAddress)
	if err != nil {
		return nil, invalid("deviceInfo.macAddress", "must be a 48-bit MAC address")
	}

	cc, err := s.store.GetActiveClaimCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidOrExpiredCode
	}
	if err != nil {
		return nil, fmt.Errorf("look up claim code: %w", err)
	}

	if err := s.clearStaleDevice(ctx, s.store, clientID); err != nil {
		return nil, err
	}

	password, hash, err := newMQTTPassword()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	device := &models.Device{
		ID:               uuid.New(),
		TenantID:         cc.TenantID,
		MQTTClientID:     clientID,
		MQTTUsername:     clientID,
		MQTTPasswordHash: hash,
		MQTTPassword:     password,
		Name:             cc.DeviceName,
		FirmwareVersion:  info.FirmwareVersion,
		FilesystemVer:    info.FilesystemVersion,
		HardwareVersion:  info.HardwareVersion,
		Status:           "offline",
		Online:           true,
		ClaimedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateDevice(ctx, device); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrDeviceAlreadyClaimed
		}
		return nil, fmt.Errorf("create device: %w", err)
	}

	if err := s.creds.SyncDevice(ctx, clientID, password, true); err != nil {
		s.deleteDevice(ctx, device)
		return nil, fmt.Errorf("%w: %v", ErrCredentialSyncFailed, err)
	}

	if err := s.store.MarkClaimCodeClaimed(ctx, cc.ID, device.ID); err != nil {
		s.deleteDevice(ctx, device)
		if rmErr := s.creds.RemoveDevice(ctx, clientID); rmErr != nil {
			slog.Warn("failed to remove credentials after lost claim code race",
				"mqtt_client_id", clientID, "error", rmErr)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("mark claim code claimed: %w", err)
	}

	s.dequeue(ctx, clientID)
	s.clearRevoke(ctx, device)
	s.audit(ctx, device, models.AuditActionClaim, models.AuditSourceClaimCode, cc.CreatedBy)

	slog.Info("device claimed", "device_id", device.ID, "tenant_id", device.TenantID,
		"mqtt_client_id", clientID, "source", models.AuditSourceClaimCode)

	return s.credentials(device, password), nil
}

// clearStaleDevice enforces the reuse rule for a MAC: a live row blocks the claim, a
// soft-deleted row is physically removed first.
func (s *Service) clearStaleDevice(ctx context.Context, q store.Queries, clientID string) error {
	existing, err := q.GetDeviceByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up device: %w", err)
	}
	if existing.Live() {
		return ErrDeviceAlreadyClaimed
	}
	if err := q.HardDeleteDevice(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete unclaimed device: %w", err)
	}
	return nil
}

// deleteDevice undoes an insert whose credentials never reached the broker.
func (s *Service) deleteDevice(ctx context.Context, d *models.Device) {
	if err := s.store.HardDeleteDevice(context.WithoutCancel(ctx), d.ID); err != nil {
		slog.Error("failed to roll back device insert", "device_id", d.ID, "mqtt_client_id", d.MQTTClientID, "error", err)
	}
}

func (s *Service) dequeue(ctx context.Context, clientID string) {
	if err := s.store.DeleteClaimingQueueEntry(ctx, FormatMAC(clientID)); err != nil {
		slog.Warn("failed to clear claiming queue entry", "mqtt_client_id", clientID, "error", err)
	}
}

func (s *Service) clearRevoke(ctx context.Context, d *models.Device) {
	if s.revokes == nil {
		return
	}
	if err := s.revokes.ClearRevoke(ctx, d.TenantID, d.MQTTClientID); err != nil {
		slog.Warn("failed to clear retained revoke", "device_id", d.ID, "tenant_id", d.TenantID, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, d *models.Device, action, source string, actor *uuid.UUID) {
	entry := &models.ClaimAuditEntry{
		ID:            uuid.New(),
		DeviceID:      d.ID,
		MACAddress:    FormatMAC(d.MQTTClientID),
		DeviceName:    d.Name,
		TenantID:      d.TenantID,
		Action:        action,
		TriggerSource: source,
		ActorUserID:   actor,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		slog.Warn("failed to write claim audit entry", "device_id", d.ID, "action", action, "error", err)
	}
}

func (s *Service) credentials(d *models.Device, password string) *Credentials {
	return &Credentials{
		DeviceID:      d.ID,
		TenantID:      d.TenantID,
		DeviceName:    d.Name,
		MQTTClientID:  d.MQTTClientID,
		MQTTUsername:  d.MQTTUsername,
		MQTTPassword:  password,
		MQTTBrokerURL: s.cfg.DeviceBrokerURL,
	}
}

// newMQTTPassword returns a random broker password and its bcrypt hash.
func newMQTTPassword() (string, string, error) {
	b := make([]byte, mqttPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate mqtt password: %w", err)
	}
	password := hex.EncodeToString(b)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash mqtt password: %w", err)
	}
	return password, string(hash), nil
}

func outcome(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &vErr):
		return "invalid"
	case errors.Is(err, ErrDeviceAlreadyClaimed):
		return "conflict"
	case errors.Is(err, ErrCredentialSyncFailed):
		return "sync_failed"
	case errors.Is(err, ErrInvalidOrExpiredCode), errors.Is(err, ErrInvalidClaimToken), errors.Is(err, ErrInvalidCredentials):
		return "rejected"
	default:
		return "error"
	}
}

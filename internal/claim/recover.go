package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/trapfleet/internal/metrics"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// RecoverClaim reissues credentials for a device that lost its local state.
//
// Only the MAC is checked. The device stays in the tenant it already belongs to, so the most
// a forged request can do is rotate that device's own password. A soft-deleted device is
// reactivated.
func (s *Service) RecoverClaim(ctx context.Context, mac string) (*Credentials, error) {
	creds, err := s.recoverClaim(ctx, mac)
	metrics.ClaimsTotal.WithLabelValues("recovery", outcome(err)).Inc()
	return creds, err
}

func (s *Service) recoverClaim(ctx context.Context, mac string) (*Credentials, error) {
	clientID, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	password, hash, err := newMQTTPassword()
	if err != nil {
		return nil, err
	}

	var (
		device   *models.Device
		previous *models.Device
		synced   bool
	)
	err = s.store.InTx(ctx, func(q store.Queries) error {
		existing, err := q.GetDeviceByClientID(ctx, clientID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrDeviceNotFound
		}
		if err != nil {
			return fmt.Errorf("look up device: %w", err)
		}
		previous = existing

		now := s.now().UTC()
		if err := q.UpdateDeviceCredentials(ctx, existing.ID, store.CredentialUpdate{
			PasswordHash: hash,
			Password:     password,
			Reactivate:   !existing.Live(),
			ClaimedAt:    now,
		}); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				return ErrDeviceAlreadyClaimed
			}
			return fmt.Errorf("rotate device credentials: %w", err)
		}

		d := *existing
		d.MQTTPasswordHash, d.MQTTPassword = hash, password
		if !existing.Live() {
			d.UnclaimedAt = nil
			d.ClaimedAt = now
		}
		device = &d

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
	s.audit(ctx, device, models.AuditActionRecover, models.AuditSourceRecovery, nil)

	slog.Info("device claim recovered", "device_id", device.ID, "tenant_id", device.TenantID,
		"mqtt_client_id", clientID, "reactivated", !previous.Live())

	return s.credentials(device, password), nil
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/authz"
	"github.com/kiranshivaraju/trapfleet/internal/claim"
	"github.com/kiranshivaraju/trapfleet/internal/metrics"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt"
	"github.com/kiranshivaraju/trapfleet/internal/revocation"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// UnclaimResult is returned to the admin who unclaimed a device.
type UnclaimResult struct {
	DeviceID       uuid.UUID `json:"deviceId"`
	TenantID       uuid.UUID `json:"tenantId"`
	MQTTClientID   string    `json:"mqttClientId"`
	RevokeNotified bool      `json:"revokeNotified"`
}

// Unclaim soft-deletes a live device on behalf of a tenant admin or a superadmin.
//
// The soft-delete is the authoritative state change. The audit entry, the retained revoke
// message and the broker credential removal that follow are best-effort; a device that misses
// the revoke converges through its claim-status poll.
func (s *Service) Unclaim(ctx context.Context, deviceID uuid.UUID, caps *authz.Capabilities, reason *string) (*UnclaimResult, error) {
	res, err := s.unclaim(ctx, deviceID, caps, reason)
	metrics.LifecycleTotal.WithLabelValues("unclaim", outcome(err)).Inc()
	return res, err
}

func (s *Service) unclaim(ctx context.Context, deviceID uuid.UUID, caps *authz.Capabilities, reason *string) (*UnclaimResult, error) {
	d, err := liveDevice(ctx, s.store, deviceID)
	if err != nil {
		return nil, err
	}
	if caps == nil || !caps.CanAdminTenant(d.TenantID) {
		return nil, ErrForbidden
	}

	token, err := s.revokes.Issue(ctx, revocation.Entry{
		DeviceID:     d.ID,
		TenantID:     d.TenantID,
		MQTTClientID: d.MQTTClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("issue revocation token: %w", err)
	}

	if err := s.store.SoftDeleteDevice(ctx, d.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("soft-delete device: %w", err)
	}

	// Past this point nothing undoes the soft-delete.
	ctx = context.WithoutCancel(ctx)
	actor := caps.UserID
	s.audit(ctx, d, d.TenantID, models.AuditActionUnclaim, models.AuditSourceAdmin, &actor, reason)

	res := &UnclaimResult{DeviceID: d.ID, TenantID: d.TenantID, MQTTClientID: d.MQTTClientID}
	msg := mqtt.RevokeMessage{Token: token, DeviceID: d.ID, IssuedAt: s.now().UTC()}
	if reason != nil {
		msg.Reason = *reason
	}
	if err := s.notifier.PublishRevoke(ctx, d.TenantID, d.MQTTClientID, msg); err != nil {
		slog.Warn("failed to publish revoke", "device_id", d.ID, "tenant_id", d.TenantID, "error", err)
	} else {
		res.RevokeNotified = true
	}

	if err := s.creds.RemoveDevice(ctx, d.MQTTClientID); err != nil {
		slog.Warn("failed to remove broker credentials", "device_id", d.ID, "mqtt_client_id", d.MQTTClientID, "error", err)
	}

	slog.Info("device unclaimed", "device_id", d.ID, "tenant_id", d.TenantID,
		"mqtt_client_id", d.MQTTClientID, "actor_user_id", actor)
	return res, nil
}

// UnclaimNotify handles a device reporting that it wiped itself, typically after a factory
// reset. A device that is already unclaimed is acknowledged without changes.
func (s *Service) UnclaimNotify(ctx context.Context, mac string) error {
	err := s.unclaimNotify(ctx, mac)
	metrics.LifecycleTotal.WithLabelValues("unclaim_notify", outcome(err)).Inc()
	return err
}

func (s *Service) unclaimNotify(ctx context.Context, mac string) error {
	clientID, err := claim.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	d, err := s.store.GetDeviceByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("look up device: %w", err)
	}
	if !d.Live() {
		return nil
	}

	if err := s.store.SoftDeleteDevice(ctx, d.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("soft-delete device: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.creds.RemoveDevice(ctx, clientID); err != nil {
		slog.Warn("failed to remove broker credentials", "device_id", d.ID, "mqtt_client_id", clientID, "error", err)
	}
	s.audit(ctx, d, d.TenantID, models.AuditActionUnclaim, models.AuditSourceDevice, nil, nil)

	slog.Info("device reported unclaim", "device_id", d.ID, "tenant_id", d.TenantID, "mqtt_client_id", clientID)
	return nil
}

// VerifyRevocation confirms that token was issued by this server for the device with mac.
// A token issued for one device never validates for another, and a token stops validating
// once its device row is claimed again or removed.
func (s *Service) VerifyRevocation(ctx context.Context, token, mac string) (revocation.Entry, error) {
	e, err := s.verifyRevocation(ctx, token, mac)
	metrics.LifecycleTotal.WithLabelValues("verify_revocation", outcome(err)).Inc()
	return e, err
}

func (s *Service) verifyRevocation(ctx context.Context, token, mac string) (revocation.Entry, error) {
	clientID, err := claim.NormalizeMAC(mac)
	if err != nil {
		return revocation.Entry{}, err
	}
	if token == "" {
		return revocation.Entry{}, ErrInvalidRevocationToken
	}
	e, ok, err := s.revokes.Validate(ctx, token)
	if err != nil {
		return revocation.Entry{}, fmt.Errorf("validate revocation token: %w", err)
	}
	if !ok || e.MQTTClientID != clientID {
		return revocation.Entry{}, ErrInvalidRevocationToken
	}
	d, err := s.store.GetDevice(ctx, e.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return revocation.Entry{}, ErrInvalidRevocationToken
	}
	if err != nil {
		return revocation.Entry{}, fmt.Errorf("look up device: %w", err)
	}
	if d.Live() {
		return revocation.Entry{}, ErrInvalidRevocationToken
	}
	return e, nil
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/authz"
	"github.com/kiranshivaraju/trapfleet/internal/metrics"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// TenantRef names one side of a move.
type TenantRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// MoveResult summarizes a move.
type MoveResult struct {
	DeviceID   uuid.UUID `json:"deviceId"`
	FromTenant TenantRef `json:"fromTenant"`
	ToTenant   TenantRef `json:"toTenant"`
	Notified   bool      `json:"notified"`
}

// Move reassigns a live device to targetTenantID. Only tenant_id changes: the device keeps
// its id and its MQTT credentials, and no revoke is sent. An online device is told about its
// new tenant on the old tenant's command topic.
func (s *Service) Move(ctx context.Context, deviceID, targetTenantID uuid.UUID, caps *authz.Capabilities) (*MoveResult, error) {
	res, err := s.move(ctx, deviceID, targetTenantID, caps)
	metrics.LifecycleTotal.WithLabelValues("move", outcome(err)).Inc()
	return res, err
}

func (s *Service) move(ctx context.Context, deviceID, targetTenantID uuid.UUID, caps *authz.Capabilities) (*MoveResult, error) {
	if caps == nil || !caps.IsGlobalSuperadmin {
		return nil, ErrForbidden
	}

	target, err := s.store.GetTenant(ctx, targetTenantID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && target.Deleted()) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up tenant: %w", err)
	}

	d, err := liveDevice(ctx, s.store, deviceID)
	if err != nil {
		return nil, err
	}
	if d.TenantID == targetTenantID {
		return nil, ErrNoOpSameTenant
	}

	from := TenantRef{ID: d.TenantID}
	if t, err := s.store.GetTenant(ctx, d.TenantID); err == nil {
		from.Name = t.Name
	}

	if err := s.store.UpdateDeviceTenant(ctx, d.ID, targetTenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("update device tenant: %w", err)
	}

	res := &MoveResult{
		DeviceID:   d.ID,
		FromTenant: from,
		ToTenant:   TenantRef{ID: target.ID, Name: target.Name},
	}

	ctx = context.WithoutCancel(ctx)
	if d.Online {
		cmd := mqtt.CommandMessage{
			Command:    mqtt.CommandUpdateTenant,
			TenantID:   target.ID,
			TenantName: target.Name,
			IssuedAt:   s.now().UTC(),
		}
		// The device is still subscribed under its old tenant.
		if err := s.notifier.SendCommand(ctx, d.TenantID, d.MQTTClientID, cmd); err != nil {
			slog.Warn("failed to send update_tenant", "device_id", d.ID, "tenant_id", d.TenantID, "error", err)
		} else {
			res.Notified = true
		}
	}

	actor := caps.UserID
	s.audit(ctx, d, targetTenantID, models.AuditActionMove, models.AuditSourceAdmin, &actor, nil)

	slog.Info("device moved", "device_id", d.ID, "from_tenant_id", from.ID, "to_tenant_id", target.ID,
		"notified", res.Notified)
	return res, nil
}

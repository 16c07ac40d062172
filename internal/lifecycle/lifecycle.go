// Package lifecycle handles what happens to a claimed device afterwards: unclaim with a
// verifiable revoke, the device's own unclaim notice, and moves between tenants.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/claim"
	"github.com/kiranshivaraju/trapfleet/internal/credstore"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt"
	"github.com/kiranshivaraju/trapfleet/internal/revocation"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

var (
	ErrDeviceNotFound         = claim.ErrDeviceNotFound
	ErrTenantNotFound         = claim.ErrTenantNotFound
	ErrForbidden              = errors.New("insufficient permissions")
	ErrNoOpSameTenant         = errors.New("device already belongs to the target tenant")
	ErrInvalidRevocationToken = errors.New("invalid or expired revocation token")
)

// Notifier is the MQTT side of the lifecycle. *mqtt.DeviceNotifier satisfies it.
type Notifier interface {
	PublishRevoke(ctx context.Context, tenantID uuid.UUID, clientID string, msg mqtt.RevokeMessage) error
	SendCommand(ctx context.Context, tenantID uuid.UUID, clientID string, cmd mqtt.CommandMessage) error
}

type Service struct {
	store    store.Store
	creds    credstore.Syncer
	revokes  revocation.Store
	notifier Notifier
	now      func() time.Time
}

func NewService(s store.Store, creds credstore.Syncer, revokes revocation.Store, notifier Notifier) *Service {
	return &Service{
		store:    s,
		creds:    creds,
		revokes:  revokes,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *Service) audit(ctx context.Context, d *models.Device, tenantID uuid.UUID, action, source string, actor *uuid.UUID, reason *string) {
	entry := &models.ClaimAuditEntry{
		ID:            uuid.New(),
		DeviceID:      d.ID,
		MACAddress:    claim.FormatMAC(d.MQTTClientID),
		DeviceName:    d.Name,
		TenantID:      tenantID,
		Action:        action,
		TriggerSource: source,
		ActorUserID:   actor,
		Reason:        reason,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		slog.Warn("failed to write claim audit entry", "device_id", d.ID, "action", action, "error", err)
	}
}

// liveDevice loads a device and hides soft-deleted rows.
func liveDevice(ctx context.Context, q store.Queries, id uuid.UUID) (*models.Device, error) {
	d, err := q.GetDevice(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up device: %w", err)
	}
	if !d.Live() {
		return nil, ErrDeviceNotFound
	}
	return d, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrTenantNotFound):
		return "not_found"
	case errors.Is(err, ErrNoOpSameTenant):
		return "noop"
	case errors.Is(err, ErrInvalidRevocationToken):
		return "rejected"
	default:
		return "error"
	}
}

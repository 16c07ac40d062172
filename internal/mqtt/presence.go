package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// StatusUpdater is the slice of the store the presence tracker writes to.
type StatusUpdater interface {
	UpdateDeviceStatus(ctx context.Context, tenantID uuid.UUID, clientID string, upd models.DeviceStatusUpdate) error
}

// PresenceTracker applies device status reports to live device rows.
type PresenceTracker struct {
	store StatusUpdater
}

func NewPresenceTracker(s StatusUpdater) *PresenceTracker {
	return &PresenceTracker{store: s}
}

// HandleStatus is a MessageHandler for StatusSubscription. Reports from devices that are not
// live in the tenant named by the topic are dropped.
func (p *PresenceTracker) HandleStatus(ctx context.Context, topic string, payload []byte) {
	tenantID, clientID, ok := ParseStatusTopic(topic)
	if !ok {
		slog.Debug("ignoring status on unexpected topic", "topic", topic)
		return
	}
	if len(payload) == 0 {
		return
	}

	var upd models.DeviceStatusUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		slog.Warn("malformed device status", "topic", topic, "error", err)
		return
	}

	err := p.store.UpdateDeviceStatus(ctx, tenantID, clientID, upd)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("status for unknown or unclaimed device", "tenant_id", tenantID, "mqtt_client_id", clientID)
	case err != nil:
		slog.Error("failed to update device status", "tenant_id", tenantID, "mqtt_client_id", clientID, "error", err)
	}
}

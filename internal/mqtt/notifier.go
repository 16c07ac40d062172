package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/metrics"
)

const (
	CommandRevoke       = "revoke"
	CommandUpdateTenant = "update_tenant"
)

// RevokeMessage is retained on the device's revoke topic. The device confirms Token with the
// server before it wipes its stored credentials.
type RevokeMessage struct {
	Command  string    `json:"command"`
	Token    string    `json:"token"`
	DeviceID uuid.UUID `json:"deviceId"`
	Reason   string    `json:"reason,omitempty"`
	IssuedAt time.Time `json:"issuedAt"`
}

// CommandMessage is a one-shot instruction on the device's command topic.
type CommandMessage struct {
	Command    string    `json:"command"`
	TenantID   uuid.UUID `json:"tenantId"`
	TenantName string    `json:"tenantName,omitempty"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// DeviceNotifier publishes per-device control messages.
type DeviceNotifier struct {
	pub Publisher
}

func NewDeviceNotifier(pub Publisher) *DeviceNotifier {
	return &DeviceNotifier{pub: pub}
}

// PublishRevoke retains msg on the device's revoke topic so an offline device sees it on connect.
func (n *DeviceNotifier) PublishRevoke(ctx context.Context, tenantID uuid.UUID, clientID string, msg RevokeMessage) error {
	msg.Command = CommandRevoke
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal revoke message: %w", err)
	}
	err = n.pub.Publish(ctx, RevokeTopic(tenantID, clientID), 1, true, payload)
	metrics.MQTTPublishesTotal.WithLabelValues("revoke", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("publish revoke: %w", err)
	}
	return nil
}

// ClearRevoke removes a retained revoke by publishing an empty retained payload.
func (n *DeviceNotifier) ClearRevoke(ctx context.Context, tenantID uuid.UUID, clientID string) error {
	err := n.pub.Publish(ctx, RevokeTopic(tenantID, clientID), 1, true, []byte{})
	metrics.MQTTPublishesTotal.WithLabelValues("clear_revoke", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("clear revoke: %w", err)
	}
	return nil
}

func (n *DeviceNotifier) SendCommand(ctx context.Context, tenantID uuid.UUID, clientID string, cmd CommandMessage) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	err = n.pub.Publish(ctx, CommandTopic(tenantID, clientID), 1, false, payload)
	metrics.MQTTPublishesTotal.WithLabelValues(cmd.Command, metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("publish %s command: %w", cmd.Command, err)
	}
	return nil
}

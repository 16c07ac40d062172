package mqtt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StatusSubscription matches every device's presence topic.
const StatusSubscription = "tenant/+/device/+/status"

// RevokeTopic carries the retained revoke instruction for one device.
func RevokeTopic(tenantID uuid.UUID, clientID string) string {
	return fmt.Sprintf("tenant/%s/device/%s/revoke", tenantID, clientID)
}

// CommandTopic carries commands such as update_tenant.
func CommandTopic(tenantID uuid.UUID, clientID string) string {
	return fmt.Sprintf("tenant/%s/device/%s/command", tenantID, clientID)
}

func StatusTopic(tenantID uuid.UUID, clientID string) string {
	return fmt.Sprintf("tenant/%s/device/%s/status", tenantID, clientID)
}

// ParseStatusTopic extracts the tenant and client id from a status topic.
func ParseStatusTopic(topic string) (uuid.UUID, string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "device" || parts[4] != "status" {
		return uuid.Nil, "", false
	}
	tenantID, err := uuid.Parse(parts[1])
	if err != nil || parts[3] == "" {
		return uuid.Nil, "", false
	}
	return tenantID, parts[3], true
}

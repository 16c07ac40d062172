package mqtt_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt/mock"
	storemock "github.com/kiranshivaraju/trapfleet/internal/store/mock"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tenantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

// --- Topics ---

func TestTopics(t *testing.T) {
	assert.Equal(t, "tenant/11111111-1111-1111-1111-111111111111/device/AABBCCDDEEFF/revoke", mqtt.RevokeTopic(tenantID, "AABBCCDDEEFF"))
	assert.Equal(t, "tenant/11111111-1111-1111-1111-111111111111/device/AABBCCDDEEFF/command", mqtt.CommandTopic(tenantID, "AABBCCDDEEFF"))
}

func TestParseStatusTopic(t *testing.T) {
	gotTenant, clientID, ok := mqtt.ParseStatusTopic(mqtt.StatusTopic(tenantID, "AABBCCDDEEFF"))
	require.True(t, ok)
	assert.Equal(t, tenantID, gotTenant)
	assert.Equal(t, "AABBCCDDEEFF", clientID)

	for _, topic := range []string{
		"tenant/not-a-uuid/device/AABBCCDDEEFF/status",
		"tenant/11111111-1111-1111-1111-111111111111/device/AABBCCDDEEFF/revoke",
		"tenant/11111111-1111-1111-1111-111111111111/device//status",
		"devices/AABBCCDDEEFF/status",
	} {
		_, _, ok := mqtt.ParseStatusTopic(topic)
		assert.False(t, ok, topic)
	}
}

// --- Notifier ---

func TestDeviceNotifier_PublishRevokeIsRetained(t *testing.T) {
	pub := &mock.Publisher{}
	n := mqtt.NewDeviceNotifier(pub)
	deviceID := uuid.New()

	err := n.PublishRevoke(context.Background(), tenantID, "AABBCCDDEEFF", mqtt.RevokeMessage{
		Token: "tok", DeviceID: deviceID, IssuedAt: time.Now(),
	})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, mqtt.RevokeTopic(tenantID, "AABBCCDDEEFF"), msgs[0].Topic)
	assert.True(t, msgs[0].Retained)

	var got mqtt.RevokeMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, mqtt.CommandRevoke, got.Command)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, deviceID, got.DeviceID)
}

func TestDeviceNotifier_ClearRevokePublishesEmptyRetained(t *testing.T) {
	pub := &mock.Publisher{}
	n := mqtt.NewDeviceNotifier(pub)

	require.NoError(t, n.ClearRevoke(context.Background(), tenantID, "AABBCCDDEEFF"))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Retained)
	assert.Empty(t, msgs[0].Payload)
}

func TestDeviceNotifier_SendCommand(t *testing.T) {
	pub := &mock.Publisher{}
	n := mqtt.NewDeviceNotifier(pub)
	target := uuid.New()

	err := n.SendCommand(context.Background(), tenantID, "AABBCCDDEEFF", mqtt.CommandMessage{
		Command: mqtt.CommandUpdateTenant, TenantID: target, TenantName: "Warehouse",
	})
	require.NoError(t, err)

	msgs := pub.OnTopicSuffix("/command")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Retained)
	var got mqtt.CommandMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, target, got.TenantID)
}

func TestDeviceNotifier_PublishError(t *testing.T) {
	pub := &mock.Publisher{Err: mqtt.ErrNotConnected}
	n := mqtt.NewDeviceNotifier(pub)

	err := n.ClearRevoke(context.Background(), tenantID, "AABBCCDDEEFF")
	assert.True(t, errors.Is(err, mqtt.ErrNotConnected))
}

// --- Presence ---

func TestPresenceTracker_UpdatesLiveDevice(t *testing.T) {
	s := storemock.NewStore()
	now := time.Now().UTC()
	d := &models.Device{ID: uuid.New(), TenantID: tenantID, MQTTClientID: "AABBCCDDEEFF", Status: "offline", ClaimedAt: now}
	require.NoError(t, s.CreateDevice(context.Background(), d))

	p := mqtt.NewPresenceTracker(s)
	p.HandleStatus(context.Background(), mqtt.StatusTopic(tenantID, "AABBCCDDEEFF"),
		[]byte(`{"online":true,"firmwareVersion":"2.0.1"}`))

	got, err := s.GetDevice(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, got.Online)
	assert.Equal(t, "online", got.Status)
	require.NotNil(t, got.FirmwareVersion)
	assert.Equal(t, "2.0.1", *got.FirmwareVersion)
	assert.NotNil(t, got.LastSeen)
}

func TestPresenceTracker_IgnoresOtherTenantAndGarbage(t *testing.T) {
	s := storemock.NewStore()
	d := &models.Device{ID: uuid.New(), TenantID: tenantID, MQTTClientID: "AABBCCDDEEFF", ClaimedAt: time.Now()}
	require.NoError(t, s.CreateDevice(context.Background(), d))

	p := mqtt.NewPresenceTracker(s)
	p.HandleStatus(context.Background(), mqtt.StatusTopic(uuid.New(), "AABBCCDDEEFF"), []byte(`{"online":true}`))
	p.HandleStatus(context.Background(), mqtt.StatusTopic(tenantID, "AABBCCDDEEFF"), []byte(`not json`))
	p.HandleStatus(context.Background(), "garbage", []byte(`{"online":true}`))

	got, err := s.GetDevice(context.Background(), d.ID)
	require.NoError(t, err)
	assert.False(t, got.Online)
	assert.Nil(t, got.LastSeen)
}

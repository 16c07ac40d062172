package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a claimed (or formerly claimed) physical trap.
//
// A row with UnclaimedAt == nil is live. MQTTClientID is the MAC address with separators
// stripped and upper-cased, and it is unique among live rows. MQTTPassword is a plaintext
// shadow of the broker credential so the broker password file can be rebuilt from the database.
type Device struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	TenantID         uuid.UUID  `db:"tenant_id"          json:"tenant_id"`
	MQTTClientID     string     `db:"mqtt_client_id"     json:"mqtt_client_id"`
	MQTTUsername     string     `db:"mqtt_username"      json:"mqtt_username"`
	MQTTPasswordHash string     `db:"mqtt_password_hash" json:"-"`
	MQTTPassword     string     `db:"mqtt_password"      json:"-"`
	Name             string     `db:"name"               json:"name"`
	Label            *string    `db:"label"              json:"label,omitempty"`
	Location         *string    `db:"location"           json:"location,omitempty"`
	Timezone         *string    `db:"timezone"           json:"timezone,omitempty"`
	FirmwareVersion  *string    `db:"firmware_version"   json:"firmware_version,omitempty"`
	FilesystemVer    *string    `db:"filesystem_version" json:"filesystem_version,omitempty"`
	HardwareVersion  *string    `db:"hardware_version"   json:"hardware_version,omitempty"`
	Status           string     `db:"status"             json:"status"`
	Online           bool       `db:"online"             json:"online"`
	LastSeen         *time.Time `db:"last_seen"          json:"last_seen,omitempty"`
	ClaimedAt        time.Time  `db:"claimed_at"         json:"claimed_at"`
	UnclaimedAt      *time.Time `db:"unclaimed_at"       json:"unclaimed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}

// Live reports whether the device is currently claimed.
func (d *Device) Live() bool {
	return d.UnclaimedAt == nil
}

// DeviceStatusUpdate is the presence report a device publishes on its status topic.
type DeviceStatusUpdate struct {
	Online            bool    `json:"online"`
	FirmwareVersion   *string `json:"firmwareVersion,omitempty"`
	FilesystemVersion *string `json:"filesystemVersion,omitempty"`
	HardwareVersion   *string `json:"hardwareVersion,omitempty"`
}

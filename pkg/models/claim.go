package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ClaimCodeActive  = "active"
	ClaimCodeClaimed = "claimed"
)

// ClaimCode is a short human-typed code binding a future device to a tenant and a device name.
// It moves from active to claimed exactly once and only while unexpired.
type ClaimCode struct {
	ID                uuid.UUID  `db:"id"                   json:"id"`
	Code              string     `db:"code"                 json:"code"`
	TenantID          uuid.UUID  `db:"tenant_id"            json:"tenant_id"`
	DeviceName        string     `db:"device_name"          json:"device_name"`
	Status            string     `db:"status"               json:"status"`
	ExpiresAt         time.Time  `db:"expires_at"           json:"expires_at"`
	ClaimedByDeviceID *uuid.UUID `db:"claimed_by_device_id" json:"claimed_by_device_id,omitempty"`
	CreatedBy         *uuid.UUID `db:"created_by"           json:"created_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at"           json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"           json:"updated_at"`
}

// ClaimingQueueEntry records a device that announced it is in claiming mode.
type ClaimingQueueEntry struct {
	MACAddress string    `db:"mac_address" json:"mac_address"`
	Serial     *string   `db:"serial"      json:"serial,omitempty"`
	IP         *string   `db:"ip"          json:"ip,omitempty"`
	ExpiresAt  time.Time `db:"expires_at"  json:"expires_at"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

const (
	AuditActionClaim   = "claim"
	AuditActionUnclaim = "unclaim"
	AuditActionMove    = "move"
	AuditActionRecover = "recover"

	AuditSourceClaimCode        = "claim_code"
	AuditSourceSelfRegistration = "self_registration"
	AuditSourceRecovery         = "recovery"
	AuditSourceAdmin            = "admin"
	AuditSourceDevice           = "device"
)

// ClaimAuditEntry is an append-only record of a claim lifecycle action.
type ClaimAuditEntry struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	DeviceID      uuid.UUID  `db:"device_id"      json:"device_id"`
	MACAddress    string     `db:"mac_address"    json:"mac_address"`
	DeviceName    string     `db:"device_name"    json:"device_name"`
	TenantID      uuid.UUID  `db:"tenant_id"      json:"tenant_id"`
	Action        string     `db:"action"         json:"action"`
	TriggerSource string     `db:"trigger_source" json:"trigger_source"`
	ActorUserID   *uuid.UUID `db:"actor_user_id"  json:"actor_user_id,omitempty"`
	Reason        *string    `db:"reason"         json:"reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
}

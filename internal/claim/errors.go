package claim

import (
	"errors"

	"github.com/kiranshivaraju/trapfleet/internal/auth"
)

// Sentinel errors returned by the claim service. Handlers map them to HTTP status codes.
var (
	ErrInvalidOrExpiredCode = errors.New("invalid or expired claim code")
	ErrDeviceAlreadyClaimed = errors.New("device is already claimed")
	ErrCredentialSyncFailed = errors.New("failed to provision device credentials")
	ErrInvalidClaimToken    = errors.New("invalid or expired claim token")
	ErrInvalidCredentials   = auth.ErrInvalidCredentials
	ErrAccountExists        = errors.New("an account with this email already exists")
	ErrNoTenant             = errors.New("account is not a member of any tenant")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceRevoked        = errors.New("device has been revoked")
	ErrTenantNotFound       = errors.New("tenant not found")
)

// ValidationError reports a malformed request field. It never reaches the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

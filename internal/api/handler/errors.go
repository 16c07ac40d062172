package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/claim"
	"github.com/kiranshivaraju/trapfleet/internal/lifecycle"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v and writes a 400 when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return false
	}
	return true
}

// writeError maps a service error onto the HTTP error taxonomy. "Not found" and "wrong
// credential" share a message wherever telling them apart would allow enumeration.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *claim.ValidationError
	switch {
	case errors.As(err, &vErr):
		response.Error(w, http.StatusBadRequest, "Validation failed", vErr.Error())
	case errors.Is(err, claim.ErrInvalidOrExpiredCode):
		response.Error(w, http.StatusBadRequest, "Invalid or expired claim code", nil)
	case errors.Is(err, lifecycle.ErrNoOpSameTenant):
		response.Error(w, http.StatusBadRequest, "Device already belongs to the target tenant", nil)

	case errors.Is(err, claim.ErrInvalidClaimToken):
		response.Error(w, http.StatusUnauthorized, "Invalid or expired claim token", nil)
	case errors.Is(err, claim.ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrWrongTokenType):
		response.Error(w, http.StatusUnauthorized, "Invalid or expired token", nil)
	case errors.Is(err, lifecycle.ErrInvalidRevocationToken):
		response.Error(w, http.StatusUnauthorized, "Invalid or expired revocation token", nil)

	case errors.Is(err, lifecycle.ErrForbidden):
		response.Error(w, http.StatusForbidden, "Insufficient permissions", nil)
	case errors.Is(err, claim.ErrNoTenant):
		response.Error(w, http.StatusForbidden, "Account is not a member of any tenant", nil)

	case errors.Is(err, claim.ErrDeviceNotFound):
		response.Error(w, http.StatusNotFound, "Device not found", nil)
	case errors.Is(err, claim.ErrTenantNotFound):
		response.Error(w, http.StatusNotFound, "Tenant not found", nil)

	case errors.Is(err, claim.ErrDeviceAlreadyClaimed):
		response.Error(w, http.StatusConflict, "Device is already claimed", nil)
	case errors.Is(err, claim.ErrAccountExists):
		response.Error(w, http.StatusConflict, "An account with this email already exists", nil)

	case errors.Is(err, claim.ErrDeviceRevoked):
		response.Error(w, http.StatusGone, "Device has been revoked", nil)

	case errors.Is(err, claim.ErrCredentialSyncFailed):
		slog.Error("credential sync failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "Failed to provision device credentials", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "An unexpected error occurred", nil)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/trapfleet/internal/api/middleware"
	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/kiranshivaraju/trapfleet/internal/authz"
	"github.com/kiranshivaraju/trapfleet/internal/lifecycle"
	"github.com/kiranshivaraju/trapfleet/internal/revocation"
)

// LifecycleService is satisfied by *lifecycle.Service.
type LifecycleService interface {
	Unclaim(ctx context.Context, deviceID uuid.UUID, caps *authz.Capabilities, reason *string) (*lifecycle.UnclaimResult, error)
	Move(ctx context.Context, deviceID, targetTenantID uuid.UUID, caps *authz.Capabilities) (*lifecycle.MoveResult, error)
	UnclaimNotify(ctx context.Context, mac string) error
	VerifyRevocation(ctx context.Context, token, mac string) (revocation.Entry, error)
}

func deviceIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Validation failed", "id: must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// NewUnclaimHandler returns an http.HandlerFunc for POST /devices/{id}/unclaim. The body is
// optional and may carry a reason.
func NewUnclaimHandler(svc LifecycleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps, ok := mw.GetCapabilities(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "Missing or invalid Authorization header", nil)
			return
		}
		deviceID, ok := deviceIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			Reason *string `json:"reason"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body", nil)
			return
		}
		if req.Reason != nil && strings.TrimSpace(*req.Reason) == "" {
			req.Reason = nil
		}

		res, err := svc.Unclaim(r.Context(), deviceID, caps, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"message":        "Device unclaimed",
			"deviceId":       res.DeviceID,
			"revokeNotified": res.RevokeNotified,
		})
	}
}

// NewMoveHandler returns an http.HandlerFunc for POST /devices/{id}/move.
func NewMoveHandler(svc LifecycleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps, ok := mw.GetCapabilities(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "Missing or invalid Authorization header", nil)
			return
		}
		deviceID, ok := deviceIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			TargetTenantID string `json:"targetTenantId"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		target, err := uuid.Parse(req.TargetTenantID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Validation failed", "targetTenantId: must be a UUID")
			return
		}

		res, err := svc.Move(r.Context(), deviceID, target, caps)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewUnclaimNotifyHandler returns an http.HandlerFunc for POST /device/unclaim-notify.
func NewUnclaimNotifyHandler(svc LifecycleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MAC string `json:"mac"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.UnclaimNotify(r.Context(), req.MAC); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]string{"message": "Device unclaimed"})
	}
}

// NewVerifyRevocationHandler returns an http.HandlerFunc for POST /device/verify-revocation.
func NewVerifyRevocationHandler(svc LifecycleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
			MAC   string `json:"mac"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		e, err := svc.VerifyRevocation(r.Context(), req.Token, req.MAC)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"valid":    true,
			"deviceId": e.DeviceID,
		})
	}
}

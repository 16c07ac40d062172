package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/trapfleet/internal/api/middleware"
	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/kiranshivaraju/trapfleet/internal/claim"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// ClaimService is the claim protocol surface the HTTP layer drives. *claim.Service
// satisfies it.
type ClaimService interface {
	ClaimByCode(ctx context.Context, code string, info claim.DeviceInfo) (*claim.Credentials, error)
	CheckClaimStatus(ctx context.Context, mac string) (*claim.ClaimCheck, error)
	ClaimStatus(ctx context.Context, mac string) (bool, error)
	ClaimingMode(ctx context.Context, mac string, serial, ip *string) (time.Time, error)
	ListClaimingQueue(ctx context.Context) ([]*models.ClaimingQueueEntry, error)
	IssueClaimCode(ctx context.Context, tenantID uuid.UUID, deviceName string, createdBy *uuid.UUID) (*models.ClaimCode, error)
	SelfRegister(ctx context.Context, req claim.SelfRegisterRequest) (*claim.SelfRegisterResult, error)
	RecoverClaim(ctx context.Context, mac string) (*claim.Credentials, error)
}

// NewClaimByCodeHandler returns an http.HandlerFunc for POST /devices/claim.
func NewClaimByCodeHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClaimCode  string           `json:"claimCode"`
			DeviceInfo claim.DeviceInfo `json:"deviceInfo"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		creds, err := svc.ClaimByCode(r.Context(), req.ClaimCode, req.DeviceInfo)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, creds)
	}
}

// NewCheckClaimHandler returns an http.HandlerFunc for GET /device/check-claim/{macAddress}.
func NewCheckClaimHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		check, err := svc.CheckClaimStatus(r.Context(), chi.URLParam(r, "macAddress"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, check)
	}
}

// NewClaimStatusHandler returns an http.HandlerFunc for GET /device/claim-status?mac=.
// A revoked device gets 410 Gone.
func NewClaimStatusHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mac := r.URL.Query().Get("mac")
		if mac == "" {
			response.Error(w, http.StatusBadRequest, "Validation failed", "mac: is required")
			return
		}
		claimed, err := svc.ClaimStatus(r.Context(), mac)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]bool{"claimed": claimed})
	}
}

// NewClaimingModeHandler returns an http.HandlerFunc for POST /device/claiming-mode.
func NewClaimingModeHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MAC    string  `json:"mac"`
			Serial *string `json:"serial"`
			IP     *string `json:"ip"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.IP == nil || strings.TrimSpace(*req.IP) == "" {
			ip := mw.ClientIP(r)
			req.IP = &ip
		}

		expiresAt, err := svc.ClaimingMode(r.Context(), req.MAC, req.Serial, req.IP)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]time.Time{"expiresAt": expiresAt})
	}
}

// NewListClaimingQueueHandler returns an http.HandlerFunc for GET /admin/claiming-queue.
func NewListClaimingQueueHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.ListClaimingQueue(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []*models.ClaimingQueueEntry{}
		}
		response.JSON(w, entries)
	}
}

// NewIssueClaimCodeHandler returns an http.HandlerFunc for POST /admin/claim-codes. The
// caller must administer the target tenant.
func NewIssueClaimCodeHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps, ok := mw.GetCapabilities(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "Missing or invalid Authorization header", nil)
			return
		}

		var req struct {
			DeviceName string `json:"deviceName"`
			TenantID   string `json:"tenantId"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		tenantID, err := uuid.Parse(req.TenantID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Validation failed", "tenantId: must be a UUID")
			return
		}
		if !caps.CanAdminTenant(tenantID) {
			response.Error(w, http.StatusForbidden, "Insufficient permissions", nil)
			return
		}

		createdBy := caps.UserID
		cc, err := svc.IssueClaimCode(r.Context(), tenantID, req.DeviceName, &createdBy)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, cc)
	}
}

package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/kiranshivaraju/trapfleet/internal/claim"
)

type setupUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type setupDevice struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	TenantID uuid.UUID `json:"tenantId"`
}

type selfRegisterResponse struct {
	User            setupUser          `json:"user"`
	Device          setupDevice        `json:"device"`
	Token           string             `json:"token"`
	RefreshToken    string             `json:"refreshToken"`
	ExpiresIn       int64              `json:"expiresIn"`
	MQTTCredentials *claim.Credentials `json:"mqttCredentials"`
	Reclaimed       bool               `json:"reclaimed"`
	NewAccount      bool               `json:"newAccount"`
}

// NewSelfRegisterHandler returns an http.HandlerFunc for POST /setup/register-and-claim.
// The request is authenticated by the device-signed claimToken.
func NewSelfRegisterHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email        string  `json:"email"`
			Password     string  `json:"password"`
			DeviceName   string  `json:"deviceName"`
			MAC          string  `json:"mac"`
			ClaimToken   string  `json:"claimToken"`
			Timestamp    int64   `json:"timestamp"`
			IsNewAccount bool    `json:"isNewAccount"`
			Timezone     *string `json:"timezone"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.SelfRegister(r.Context(), claim.SelfRegisterRequest{
			Email:        req.Email,
			Password:     req.Password,
			DeviceName:   req.DeviceName,
			MAC:          req.MAC,
			ClaimToken:   req.ClaimToken,
			Timestamp:    req.Timestamp,
			IsNewAccount: req.IsNewAccount,
			Timezone:     req.Timezone,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		body := selfRegisterResponse{
			User:            setupUser{ID: res.User.ID, Email: res.User.Email},
			Device:          setupDevice{ID: res.Device.DeviceID, Name: res.Device.DeviceName, TenantID: res.Device.TenantID},
			Token:           res.Tokens.AccessToken,
			RefreshToken:    res.Tokens.RefreshToken,
			ExpiresIn:       res.Tokens.ExpiresIn,
			MQTTCredentials: res.Device,
			Reclaimed:       res.Reclaimed,
			NewAccount:      res.NewAccount,
		}
		if res.NewAccount {
			response.Created(w, body)
			return
		}
		response.JSON(w, body)
	}
}

// NewRecoverClaimHandler returns an http.HandlerFunc for POST /setup/recover-claim.
func NewRecoverClaimHandler(svc ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MAC string `json:"mac"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		creds, err := svc.RecoverClaim(r.Context(), req.MAC)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"recovered":       true,
			"mqttCredentials": creds,
		})
	}
}

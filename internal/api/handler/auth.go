package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// AuthService is satisfied by *auth.Service.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*models.User, auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
}

// NewLoginHandler returns an http.HandlerFunc for POST /auth/login.
func NewLoginHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if email == "" || req.Password == "" {
			response.Error(w, http.StatusBadRequest, "Validation failed", "email and password are required")
			return
		}

		user, pair, err := svc.Login(r.Context(), email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"user":         setupUser{ID: user.ID, Email: user.Email},
			"token":        pair.AccessToken,
			"refreshToken": pair.RefreshToken,
			"expiresIn":    pair.ExpiresIn,
		})
	}
}

// NewRefreshHandler returns an http.HandlerFunc for POST /auth/refresh.
func NewRefreshHandler(svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.RefreshToken == "" {
			response.Error(w, http.StatusBadRequest, "Validation failed", "refreshToken: is required")
			return
		}

		pair, err := svc.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, pair)
	}
}

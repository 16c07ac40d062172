package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/authz"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// AccessParser verifies an access token.
type AccessParser interface {
	ParseAccess(token string) (*auth.Claims, error)
}

// AccountStore is what Authenticate reads for every request.
type AccountStore interface {
	authz.MembershipLister
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Auth provides bearer-token authentication and capability checks.
type Auth struct {
	tokens         AccessParser
	accounts       AccountStore
	masterTenantID uuid.UUID
}

func NewAuth(tokens AccessParser, accounts AccountStore, masterTenantID uuid.UUID) *Auth {
	return &Auth{tokens: tokens, accounts: accounts, masterTenantID: masterTenantID}
}

// Authenticate validates the Bearer access token, checks the user is still active and stores
// the user's capabilities in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized, "Missing or invalid Authorization header", nil)
			return
		}

		claims, err := a.tokens.ParseAccess(raw)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		user, err := a.accounts.GetUser(r.Context(), userID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !user.Active) {
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}
		if err != nil {
			slog.Error("failed to load user", "user_id", userID, "error", err)
			response.Error(w, http.StatusInternalServerError, "An unexpected error occurred", nil)
			return
		}

		caps, err := authz.Load(r.Context(), a.accounts, userID, a.masterTenantID)
		if err != nil {
			slog.Error("failed to load capabilities", "user_id", userID, "error", err)
			response.Error(w, http.StatusInternalServerError, "An unexpected error occurred", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetCapabilities(r.Context(), caps)))
	})
}

// RequireSuperadmin lets only global superadmins through.
func RequireSuperadmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps, ok := GetCapabilities(r)
		if !ok || !caps.IsGlobalSuperadmin {
			response.Error(w, http.StatusForbidden, "Insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin lets through users who administer at least one tenant. Handlers still check
// the specific tenant.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps, ok := GetCapabilities(r)
		if !ok || !caps.IsAdminAnywhere() {
			response.Error(w, http.StatusForbidden, "Insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

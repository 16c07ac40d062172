package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/trapfleet/internal/api/middleware"
	"github.com/kiranshivaraju/trapfleet/internal/api/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth            *mw.Auth
	DeviceRateLimit *mw.RateLimit
	CORSOrigins     []string
	// TrustProxy lets X-Forwarded-For / X-Real-IP replace RemoteAddr.
	TrustProxy bool

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	LoginHandler   http.HandlerFunc
	RefreshHandler http.HandlerFunc

	ClaimByCodeHandler      http.HandlerFunc
	CheckClaimHandler       http.HandlerFunc
	ClaimStatusHandler      http.HandlerFunc
	UnclaimNotifyHandler    http.HandlerFunc
	ClaimingModeHandler     http.HandlerFunc
	VerifyRevocationHandler http.HandlerFunc
	SelfRegisterHandler     http.HandlerFunc
	RecoverClaimHandler     http.HandlerFunc

	IssueClaimCodeHandler    http.HandlerFunc
	ListClaimingQueueHandler http.HandlerFunc
	UnclaimHandler           http.HandlerFunc
	MoveHandler              http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	metrics := deps.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Post("/auth/login", orNotImplemented(deps.LoginHandler))
	r.Post("/auth/refresh", orNotImplemented(deps.RefreshHandler))

	// Device-facing routes authenticate by code, MAC or HMAC token.
	r.Group(func(r chi.Router) {
		if deps.DeviceRateLimit != nil {
			r.Use(deps.DeviceRateLimit.Limit)
		}

		r.Post("/devices/claim", orNotImplemented(deps.ClaimByCodeHandler))
		r.Get("/device/check-claim/{macAddress}", orNotImplemented(deps.CheckClaimHandler))
		r.Get("/device/claim-status", orNotImplemented(deps.ClaimStatusHandler))
		r.Post("/device/unclaim-notify", orNotImplemented(deps.UnclaimNotifyHandler))
		r.Post("/device/claiming-mode", orNotImplemented(deps.ClaimingModeHandler))
		r.Post("/device/verify-revocation", orNotImplemented(deps.VerifyRevocationHandler))
		r.Post("/setup/register-and-claim", orNotImplemented(deps.SelfRegisterHandler))
		r.Post("/setup/recover-claim", orNotImplemented(deps.RecoverClaimHandler))
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/devices/{id}/unclaim", orNotImplemented(deps.UnclaimHandler))
		r.Post("/admin/claim-codes", orNotImplemented(deps.IssueClaimCodeHandler))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdmin)
			r.Get("/admin/claiming-queue", orNotImplemented(deps.ListClaimingQueueHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireSuperadmin)
			r.Post("/devices/{id}/move", orNotImplemented(deps.MoveHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "Endpoint not yet implemented", nil)
	}
}

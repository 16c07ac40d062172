package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/trapfleet/internal/authz"
)

type contextKey string

const (
	capabilitiesKey contextKey = "capabilities"
	clientIPKey     contextKey = "client_ip"
)

func SetCapabilities(ctx context.Context, c *authz.Capabilities) context.Context {
	return context.WithValue(ctx, capabilitiesKey, c)
}

// GetCapabilities returns the signed-in user's capabilities set by Auth.Authenticate.
func GetCapabilities(r *http.Request) (*authz.Capabilities, bool) {
	c, ok := r.Context().Value(capabilitiesKey).(*authz.Capabilities)
	return c, ok && c != nil
}

func setClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the address the rate limiter keyed the request on.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	return remoteHost(r)
}

package cache

import "fmt"

// RevocationKey holds the JSON-encoded revocation entry for an issued token.
func RevocationKey(token string) string {
	return fmt.Sprintf("revocation:%s", token)
}

// RateLimitKey counts requests from one client address against one route group.
func RateLimitKey(scope, clientIP string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, clientIP)
}

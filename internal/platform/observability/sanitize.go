package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLen   = 180
	maxMethodLen  = 10
	maxSessionLen = 64
)

// logSafe strips control characters and keeps at most limit runes so client input cannot forge
// log lines.
func logSafe(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func logRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteLen)
}

// sessionID accepts the X-Checkout-Session header value. Ids outside [A-Za-z0-9._-] are dropped
// so they never become rate limit or idempotency scopes.
func sessionID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxSessionLen {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return ""
		}
	}
	return id
}

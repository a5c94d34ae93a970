// Package auth contains the origin allow-list and the pluggable identity
// hook used at WebSocket upgrade.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
)

// ParseAllowedOrigins splits the comma-separated ALLOWED_ORIGINS value.
// An empty value falls back to the provided defaults.
func ParseAllowedOrigins(raw string, defaults []string) []string {
	if raw == "" {
		logging.Warn(context.Background(), fmt.Sprintf("ALLOWED_ORIGINS not set. Using default development origins: %s", defaults))
		return defaults
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// OriginAllowed implements the upgrade origin check: a "*" entry allows
// everything, a missing origin (same-host or non-browser client) is allowed,
// and otherwise scheme+host must match an allow-list entry.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, a := range allowed {
		if a == "*" {
			return true
		}
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// Package metadata records who is calling: client IP, User-Agent, a coarse
// client classification, and the client identifier header.
package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"attestor/pkg/requestcontext"
)

// ClientIDHeader names the calling integration; it feeds the request binding.
const ClientIDHeader = "X-Client-ID"

// Client kinds reported to audit. Raw User-Agent strings are never stored.
const (
	KindBot     = "bot"
	KindMobile  = "mobile"
	KindBrowser = "browser"
	KindAPI     = "api"
)

// ClientMetadata should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent := r.Header.Get("User-Agent")

		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), userAgent)
		ctx = requestcontext.WithClientKind(ctx, Classify(userAgent))
		if clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader)); clientID != "" {
			ctx = requestcontext.WithClientID(ctx, clientID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Classify maps a User-Agent to one of the client kinds. Anything that does
// not look like a browser is treated as a programmatic client.
func Classify(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return KindAPI
	}
	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return KindBot
	case ua.Mobile():
		return KindMobile
	}
	if name, _ := ua.Browser(); name != "" && ua.Mozilla() != "" {
		return KindBrowser
	}
	return KindAPI
}

// ClientIPFromRequest extracts the real client IP, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port", or "[::1]:port" for IPv6
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}

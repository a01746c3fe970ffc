package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets defensive headers on token-bearing responses.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	// Prevent clickjacking and MIME sniffing
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Strict policy for OAuth endpoints (no inline scripts, no external resources)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	// Enforce HTTPS only when the server itself runs over it
	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token responses must never be cached
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}

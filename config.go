package oauth

import (
	"log/slog"
	"strings"

	"github.com/lakeshorelabs/oauthd/security"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// CallbackPath is the path, under Issuer, where identity providers send
	// the user agent back after federated login
	CallbackPath string // default: "/callback"

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// FederationStateTTL is how long a pending federation state may wait for
	// its callback before it is treated as abandoned
	FederationStateTTL int64 // seconds, default: 600 (10 minutes)

	// CORSSources are the header and method lists contributed by the
	// deployment's feature modules. They are merged into one immutable
	// policy when the server is constructed; blank entries are dropped.
	CORSSources []security.CORSSource

	// CORSOriginValidator decides whether an Origin value may participate in
	// cross-origin requests. When nil, every origin is rejected and responses
	// carry only Vary: Origin.
	CORSOriginValidator security.OriginValidator

	// TrustProxy enables trusting X-Forwarded-For headers for client IP
	// extraction. Only enable behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to pick the right X-Forwarded-For entry.
	// Default: 1
	TrustedProxyCount int
}

// applySecureDefaults applies secure-by-default configuration values and logs
// warnings for settings that weaken the deployment.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.CallbackPath == "" {
		config.CallbackPath = "/callback"
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.FederationStateTTL == 0 {
		config.FederationStateTTL = 600 // 10 minutes
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)

	return config
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if strings.HasPrefix(config.Issuer, "http://") {
		logger.Warn("⚠️  SECURITY WARNING: Issuer is not HTTPS",
			"risk", "Tokens and authorization codes transmitted in cleartext",
			"recommendation", "Serve the issuer over TLS outside local development")
	}
	if config.CORSOriginValidator == nil {
		logger.Info("CORS origin validator not configured; all cross-origin requests will be refused")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
}

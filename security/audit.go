package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed. Dropped names any scopes
// silently removed because the currently valid set shrank since the original
// grant.
func (a *Auditor) LogTokenRefreshed(userID, clientID, scope string, dropped []string) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope":          scope,
			"scopes_dropped": dropped,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      "token_revoked",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogDelegationStarted logs an outbound federation redirect
func (a *Auditor) LogDelegationStarted(clientID, authenticatorType string) {
	a.LogEvent(Event{
		Type:     "delegation_started",
		ClientID: clientID,
		Details: map[string]any{
			"authenticator_type": authenticatorType,
		},
	})
}

// LogFederationCompleted logs a completed federation callback
func (a *Auditor) LogFederationCompleted(userID, clientID, authenticatorType string, identityCreated bool) {
	a.LogEvent(Event{
		Type:     "federation_completed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"authenticator_type": authenticatorType,
			"identity_created":   identityCreated,
		},
	})
}

// LogIntrospectionDenied logs an introspection request answered inactive
// because the caller was not authorized for the target.
func (a *Auditor) LogIntrospectionDenied(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "introspection_denied",
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

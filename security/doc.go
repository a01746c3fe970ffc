// Package security provides security-related functionality for the
// authorization server: CORS negotiation, password hashing, rate limiting,
// response security headers, and audit logging.
//
// # CORS
//
// CORSPolicy implements the Fetch "simple request" and "preflight request"
// algorithms. The policy is assembled once at startup from every configured
// header/method source and is read-only afterwards, so it is safe for
// unsynchronized concurrent use.
//
// # Rate Limiting
//
// RateLimiter provides per-identifier token-bucket rate limiting with LRU
// eviction to bound memory under distributed attacks:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//	if !limiter.Allow(clientIP) {
//	    // 429
//	}
//
// # Passwords
//
// Hasher implements the PBKDF2 contract used for owner-credentials
// authentication. The parameters (1000 iterations, SHA-256, 32-byte keys,
// Base64 encoding) are fixed for stored-secret compatibility.
package security

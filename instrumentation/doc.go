// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the oauthd library.
//
// This package enables observability across all library layers through:
// - Metrics: Counters and histograms for authorization server operations
// - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
//	import "github.com/lakeshorelabs/oauthd/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP layer:
//   - oauth.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oauth.http.request.duration{endpoint} - Request duration in milliseconds
//
// Authorization flows:
//   - oauth.authorization.started{client_id} - Authorization flows started
//   - oauth.delegation.started{provider} - Flows delegated to an identity provider
//   - oauth.callback.processed{client_id, success} - Federation callbacks processed
//   - oauth.code.exchanged{client_id} - Authorization codes exchanged
//   - oauth.token.refreshed{client_id, scopes_dropped} - Tokens refreshed
//   - oauth.token.revoked{client_id} - Tokens revoked
//   - oauth.token.introspected{active} - Introspection requests answered
//
// Security:
//   - oauth.cors.preflights{allowed} - CORS preflight negotiations
//   - oauth.rate_limit.exceeded{limiter_type} - Rate limit violations
//
// Provider:
//   - provider.api.calls.total{provider, operation, status} - Provider API calls
//   - provider.api.duration{provider, operation} - API call duration in milliseconds
//   - provider.api.errors.total{provider, operation} - Provider API errors
//
// # Security Considerations
//
// This package collects observability data, not credentials. When
// instrumenting flows you MUST never record actual token values, client
// secrets or passwords; only metadata such as token types, expiry times and
// validation results. Traces and metrics are persisted for extended periods
// and are accessible to wider audiences than the production system itself.
//
// # Performance
//
// When instrumentation is disabled the no-op providers are used and recording
// is free of allocations and latency impact. All operations are safe for
// concurrent use.
package instrumentation

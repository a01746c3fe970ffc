package security

import (
	"net/http"
	"strings"
)

// corsPreflightMaxAge is the fixed Access-Control-Max-Age value in seconds.
const corsPreflightMaxAge = "300"

// OriginValidator decides whether a CORS origin may interact with the server.
// It must be safe for concurrent use.
type OriginValidator func(origin string) bool

// CORSSource contributes header and method lists to a CORS policy. Feature
// modules register their lists independently; blank entries are tolerated and
// filtered out when the policy is assembled.
type CORSSource struct {
	AllowedHeaders []string
	ExposedHeaders []string
	AllowedMethods []string
}

// CORSPolicy holds the aggregated CORS configuration. It is populated once at
// startup and read-only during request processing.
type CORSPolicy struct {
	validateOrigin OriginValidator
	allowedHeaders map[string]bool // lower-cased
	exposedHeaders []string        // lower-cased, deduplicated, insertion order
	allowedMethods map[string]bool
	methodList     string // precomputed Allow-Methods value
}

// NewCORSPolicy aggregates the given sources into one immutable policy.
// A nil validator rejects every origin.
func NewCORSPolicy(validator OriginValidator, sources ...CORSSource) *CORSPolicy {
	p := &CORSPolicy{
		validateOrigin: validator,
		allowedHeaders: make(map[string]bool),
		allowedMethods: make(map[string]bool),
	}

	var methods []string
	seenExposed := make(map[string]bool)
	for _, src := range sources {
		for _, h := range src.AllowedHeaders {
			if h = strings.TrimSpace(h); h != "" {
				p.allowedHeaders[strings.ToLower(h)] = true
			}
		}
		for _, h := range src.ExposedHeaders {
			if h = strings.TrimSpace(h); h != "" {
				lower := strings.ToLower(h)
				if !seenExposed[lower] {
					seenExposed[lower] = true
					p.exposedHeaders = append(p.exposedHeaders, lower)
				}
			}
		}
		for _, m := range src.AllowedMethods {
			if m = strings.TrimSpace(m); m != "" {
				upper := strings.ToUpper(m)
				if !p.allowedMethods[upper] {
					p.allowedMethods[upper] = true
					methods = append(methods, upper)
				}
			}
		}
	}
	p.methodList = strings.Join(methods, ", ")
	return p
}

// IsValidOrigin applies the pluggable origin validator.
func (p *CORSPolicy) IsValidOrigin(origin string) bool {
	return p.validateOrigin != nil && p.validateOrigin(origin)
}

// IsPreflight reports whether the request is a CORS preflight: method OPTIONS
// with an Access-Control-Request-Method header.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// NegotiatePreflight evaluates a preflight request and writes the response
// header directives. It returns false when the preflight is rejected: the
// origin is missing or invalid, or the requested method is not allowed. A
// rejected preflight still carries Vary: Origin and nothing else, so the
// response leaks no information about why.
func (p *CORSPolicy) NegotiatePreflight(h http.Header, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !p.IsValidOrigin(origin) {
		h.Set("Vary", "Origin")
		return false
	}

	requested := r.Header.Get("Access-Control-Request-Method")
	if !p.allowedMethods[strings.ToUpper(requested)] {
		h.Set("Vary", "Origin")
		return false
	}

	h.Set("Vary", "Origin, Access-Control-Request-Headers, Access-Control-Request-Method")
	h.Set("Access-Control-Allow-Methods", p.methodList)
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")

	if allowed := p.allowRequestedHeaders(r.Header.Get("Access-Control-Request-Headers")); allowed != "" {
		h.Set("Access-Control-Allow-Headers", allowed)
	}
	h.Set("Access-Control-Max-Age", corsPreflightMaxAge)
	return true
}

// allowRequestedHeaders intersects the comma-separated requested header list
// with the allowed set. The intersection is emitted lower-cased; an empty
// intersection yields an empty string and the header is omitted entirely.
func (p *CORSPolicy) allowRequestedHeaders(requested string) string {
	if requested == "" {
		return ""
	}
	var allowed []string
	for _, name := range strings.Split(requested, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && p.allowedHeaders[name] {
			allowed = append(allowed, name)
		}
	}
	return strings.Join(allowed, ", ")
}

// NegotiateSimple evaluates a simple (non-preflight) request. Every response
// carries Vary: Origin. Simple responses never get Access-Control-Allow-*
// directives; the only additional header is Access-Control-Expose-Headers,
// written by FinishSimple once the response headers are final. The return
// value reports whether the origin passed validation and FinishSimple
// should run.
func (p *CORSPolicy) NegotiateSimple(h http.Header, r *http.Request) bool {
	h.Set("Vary", "Origin")

	origin := r.Header.Get("Origin")
	return origin != "" && p.IsValidOrigin(origin)
}

// FinishSimple computes Access-Control-Expose-Headers for a validated simple
// request: the configured exposed headers intersected with the headers
// actually present on the outgoing response, matched case-insensitively and
// emitted lower-cased. Nothing is emitted when the intersection is empty.
func (p *CORSPolicy) FinishSimple(h http.Header) {
	if len(p.exposedHeaders) == 0 {
		return
	}
	var present []string
	for _, name := range p.exposedHeaders {
		if h.Get(name) != "" {
			present = append(present, name)
		}
	}
	if len(present) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(present, ", "))
	}
}

// corsResponseWriter injects Access-Control-Expose-Headers immediately before
// the response is committed, so the intersection sees every header the
// handler set.
type corsResponseWriter struct {
	http.ResponseWriter
	policy      *CORSPolicy
	wroteHeader bool
}

func (w *corsResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.policy.FinishSimple(w.Header())
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *corsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// CORSMiddleware applies the policy uniformly before routing. Preflights are
// answered with 204 No Content; other requests pass through with the simple
// request directives applied. Use PreflightHandler when a resource defines
// its own OPTIONS handler whose headers should be merged into the preflight
// response.
func (p *CORSPolicy) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPreflight(r) {
			p.NegotiatePreflight(w.Header(), r)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if p.NegotiateSimple(w.Header(), r) {
			next.ServeHTTP(&corsResponseWriter{ResponseWriter: w, policy: p}, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PreflightHandler answers preflights for a resource with its own explicit
// OPTIONS handler. The CORS directives are written first and the explicit
// handler runs afterwards, so its headers are merged in additively rather
// than replaced.
//
// CORSMiddleware answers every preflight itself, so routes mounted behind it
// never reach this handler. Hosts exposing a resource with its own OPTIONS
// handler mount PreflightHandler for that route directly, outside the
// middleware.
func (p *CORSPolicy) PreflightHandler(explicit http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.NegotiatePreflight(w.Header(), r)
		if explicit != nil {
			explicit.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lakeshorelabs/oauthd/instrumentation"
	"github.com/lakeshorelabs/oauthd/security"
	"github.com/lakeshorelabs/oauthd/storage"
)

const tokenTypeBearer = "Bearer"

// Handler exposes the authorization server over HTTP: the authorize, token,
// revoke and introspect endpoints plus the federation callback.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates the HTTP layer for a server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// Routes builds the endpoint mux wrapped in the CORS middleware, so every
// request is classified before routing.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", h.ServeAuthorize)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/revoke", h.ServeRevocation)
	mux.HandleFunc("/introspect", h.ServeIntrospection)
	mux.HandleFunc(h.server.Config.CallbackPath, h.ServeCallback)
	return h.server.cors.CORSMiddleware(mux)
}

// ServeAuthorize handles the authorization endpoint. GET carries the request
// in the query; POST additionally carries local credentials in the form body.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkIPRateLimit(w, r, "authorize") {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	req := &AuthorizeRequest{
		ClientID:          r.Form.Get("client_id"),
		RedirectURI:       r.Form.Get("redirect_uri"),
		ResponseType:      r.Form.Get("response_type"),
		Scope:             r.Form.Get("scope"),
		State:             r.Form.Get("state"),
		AuthenticatorType: r.Form.Get("authenticator"),
		Username:          r.PostForm.Get("username"),
		Password:          r.PostForm.Get("password"),
	}
	if req.ClientID == "" {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "client_id missing")
		h.writeError(w, ErrInvalidRequest("client_id is required"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
	)

	result, err := h.server.StartAuthorizationFlow(ctx, req)
	if err != nil {
		var redirectErr *RedirectError
		if errors.As(err, &redirectErr) {
			h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
			instrumentation.SetSpanError(span, redirectErr.Err.Code)
			h.redirectWithError(w, r, redirectErr)
			return
		}
		status := h.errorStatus(err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	if h.metrics() != nil {
		if result.Delegated {
			h.metrics().RecordDelegationStarted(ctx, req.AuthenticatorType)
		}
		h.metrics().RecordAuthorizationStarted(ctx, req.ClientID)
	}
	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// ServeCallback handles the federation callback from an identity provider.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.callback")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkIPRateLimit(w, r, "callback") {
		return
	}

	// The full query is handed to the flow: the provider layer decides what
	// an error or missing code means, the state correlates the pending flow.
	state := r.URL.Query().Get("state")
	result, err := h.server.HandleFederationCallback(ctx, state, r.URL.Query())
	if err != nil {
		status := h.errorStatus(err)
		h.logger.Warn("Federation callback failed", "error", err)
		h.recordHTTPMetrics(ctx, "callback", r.Method, status, startTime)
		if h.metrics() != nil {
			h.metrics().RecordCallbackProcessed(ctx, "", false)
		}
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	if h.metrics() != nil {
		h.metrics().RecordCallbackProcessed(ctx, "", true)
	}
	h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkIPRateLimit(w, r, "token") {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	client, err := h.authenticateTokenClient(r)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, h.errorStatus(err), startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, err)
		return
	}

	var resp *TokenResponse
	switch grantType {
	case "authorization_code":
		resp, err = h.server.ExchangeAuthorizationCode(ctx, client, r.PostForm.Get("code"), r.PostForm.Get("redirect_uri"))
		if err == nil && h.metrics() != nil {
			h.metrics().RecordCodeExchange(ctx, client.ID)
		}
	case "client_credentials":
		resp, err = h.server.ClientCredentialsGrant(ctx, client, r.PostForm.Get("scope"))
	case "password":
		resp, err = h.server.PasswordGrant(ctx, client, r.PostForm.Get("username"), r.PostForm.Get("password"), r.PostForm.Get("scope"))
	case "refresh_token":
		resp, err = h.server.RefreshAccessToken(ctx, client, r.PostForm.Get("refresh_token"), r.PostForm.Get("scope"))
		if err == nil && h.metrics() != nil {
			h.metrics().RecordTokenRefresh(ctx, client.ID, 0)
		}
	default:
		err = ErrUnsupportedGrantType("grant_type " + safeTruncate(grantType, 32) + " is not supported")
	}
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, h.errorStatus(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeRevocation handles the revocation endpoint. An unauthorized caller
// receives the same not-found answer as one naming an absent token.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.revoke")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkIPRateLimit(w, r, "revoke") {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	principal, err := h.resolvePrincipal(r)
	if err != nil {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, h.errorStatus(err), startTime)
		h.writeError(w, err)
		return
	}

	if err := h.server.RevokeToken(ctx, principal, r.PostForm.Get("token")); err != nil {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, h.errorStatus(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	if h.metrics() != nil {
		h.metrics().RecordTokenRevocation(ctx, principalClientID(principal))
	}
	h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeIntrospection handles the introspection endpoint.
func (h *Handler) ServeIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.introspect")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkIPRateLimit(w, r, "introspect") {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	principal, err := h.resolvePrincipal(r)
	if err != nil {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, h.errorStatus(err), startTime)
		h.writeError(w, err)
		return
	}

	resp, err := h.server.IntrospectToken(ctx, principal, r.PostForm.Get("token"))
	if err != nil {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, h.errorStatus(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	if h.metrics() != nil {
		h.metrics().RecordIntrospection(ctx, resp.Active)
	}
	h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, resp)
}

// authenticateTokenClient authenticates the caller of the token endpoint.
// Confidential clients present Basic auth or form credentials. Public
// (implicit) clients have no business at this endpoint at all.
func (h *Handler) authenticateTokenClient(r *http.Request) (*storage.Client, error) {
	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication is required")
	}
	return h.server.AuthenticateClient(r.Context(), clientID, secret)
}

// resolvePrincipal identifies the caller of a revoke or introspect request:
// client credentials via Basic auth or form fields, or a bearer token via the
// Authorization header.
func (h *Handler) resolvePrincipal(r *http.Request) (Principal, error) {
	if clientID, secret, ok := r.BasicAuth(); ok {
		client, err := h.server.AuthenticateClient(r.Context(), clientID, secret)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Client: client}, nil
	}

	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, tokenTypeBearer+" ") {
		tokenID := strings.TrimPrefix(authz, tokenTypeBearer+" ")
		token, err := h.server.tokens.GetToken(r.Context(), tokenID)
		if err != nil || token.Expired(time.Now()) {
			return Principal{}, ErrInvalidToken("invalid bearer token")
		}
		return Principal{Token: token}, nil
	}

	if clientID := r.PostForm.Get("client_id"); clientID != "" {
		client, err := h.server.AuthenticateClient(r.Context(), clientID, r.PostForm.Get("client_secret"))
		if err != nil {
			return Principal{}, err
		}
		return Principal{Client: client}, nil
	}

	return Principal{}, ErrInvalidClient("authentication is required")
}

// redirectWithError delivers an error over the client's validated redirect
// target, in the fragment, with the client's state echoed back.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectErr *RedirectError) {
	target, err := url.Parse(redirectErr.RedirectURI)
	if err != nil {
		h.writeError(w, redirectErr.Err)
		return
	}
	fragment := url.Values{}
	fragment.Set("error", redirectErr.Err.Code)
	if redirectErr.Err.Description != "" {
		fragment.Set("error_description", redirectErr.Err.Description)
	}
	if redirectErr.State != "" {
		fragment.Set("state", redirectErr.State)
	}
	target.Fragment = ""
	target.RawFragment = fragment.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// checkIPRateLimit enforces the per-IP limiter when one is configured.
// Returns false when the request was rejected.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.server.RateLimiter == nil {
		return true
	}
	clientIP := h.clientIP(r)
	if h.server.RateLimiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}
	if h.metrics() != nil {
		h.metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "Too many requests. Please try again later.", http.StatusTooManyRequests))
	return false
}

// clientIP extracts the caller's IP, honoring X-Forwarded-For only when the
// deployment declared its proxy chain trustworthy.
func (h *Handler) clientIP(r *http.Request) string {
	if h.server.Config.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ips := strings.Split(fwd, ",")
			idx := len(ips) - h.server.Config.TrustedProxyCount
			if idx < 0 {
				idx = 0
			}
			return strings.TrimSpace(ips[idx])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes a typed OAuth error as JSON. Anything unrecognized is a
// server error; the original failure goes to the log, not the wire.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		h.logger.Error("Unexpected failure", "error", err)
		oauthErr = ErrServerError("internal error")
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeJSON writes a success body with the security headers applied.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// errorStatus maps an error to the HTTP status it will be written with.
func (h *Handler) errorStatus(err error) int {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr.Status
	}
	return http.StatusInternalServerError
}

// recordHTTPMetrics records request count and duration for one endpoint.
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.metrics() == nil {
		return
	}
	h.metrics().RecordHTTPRequest(ctx, method, endpoint, status, float64(time.Since(startTime).Milliseconds()))
}

// metrics returns the metric holder when instrumentation is configured.
func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

func principalClientID(p Principal) string {
	if p.Client != nil {
		return p.Client.ID
	}
	if p.Token != nil {
		return p.Token.ClientID
	}
	return ""
}

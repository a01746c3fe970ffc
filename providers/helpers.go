package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// ValidateConfig checks the shared prerequisite every third-party kind has:
// a non-nil configuration map carrying client-id and client-secret entries.
// Extra keys are ignored.
func ValidateConfig(config map[string]string) error {
	if config == nil {
		return ErrMisconfigured
	}
	if config[ConfigKeyClientID] == "" || config[ConfigKeyClientSecret] == "" {
		return ErrMisconfigured
	}
	return nil
}

// splitCallback parses the callback URI, extracts the state query parameter
// and returns the callback stripped of its entire query string. The state
// must round-trip to the provider unchanged so the callback handler can
// correlate the response.
func splitCallback(callbackURI string) (state, redirectURI string, err error) {
	if callbackURI == "" {
		return "", "", ErrMissingCallbackState
	}
	parsed, err := url.Parse(callbackURI)
	if err != nil {
		return "", "", fmt.Errorf("invalid callback URI: %w", err)
	}
	state = parsed.Query().Get("state")
	if state == "" {
		return "", "", ErrMissingCallbackState
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return state, parsed.String(), nil
}

// oauthConfig assembles the x/oauth2 configuration for one delegation.
func oauthConfig(config map[string]string, endpoint oauth2.Endpoint, scopes []string, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config[ConfigKeyClientID],
		ClientSecret: config[ConfigKeyClientSecret],
		Endpoint:     endpoint,
		Scopes:       scopes,
		RedirectURL:  redirectURI,
	}
}

// Delegate is the shared delegation template: validate the configuration,
// split the callback and build the provider authorize URL with
// response_type=code and the state copied verbatim.
func Delegate(config map[string]string, callbackURI string, endpoint oauth2.Endpoint, scopes []string) (string, error) {
	if err := ValidateConfig(config); err != nil {
		return "", err
	}
	state, redirectURI, err := splitCallback(callbackURI)
	if err != nil {
		return "", err
	}
	return oauthConfig(config, endpoint, scopes, redirectURI).AuthCodeURL(state), nil
}

// CompleteHandshake is the shared tail of Authenticate: surface a provider
// error callback, require a code, exchange it and fetch the raw userinfo
// document. Provider implementations map the document onto a Profile.
func CompleteHandshake(ctx context.Context, httpClient *http.Client, config map[string]string, params url.Values, callbackURI string, endpoint oauth2.Endpoint, scopes []string, userinfoURL string) (map[string]any, error) {
	code, err := checkCallbackParams(params)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	_, redirectURI, err := splitCallback(callbackURI)
	if err != nil {
		return nil, err
	}

	accessToken, err := exchangeCode(ctx, httpClient, oauthConfig(config, endpoint, scopes, redirectURI), code)
	if err != nil {
		return nil, err
	}
	return fetchProfileJSON(ctx, httpClient, userinfoURL, accessToken)
}

// checkCallbackParams is the shared head of Authenticate: an error key fails
// immediately re-surfacing the provider's error, a missing code is a caller
// error, otherwise the code is returned.
func checkCallbackParams(params url.Values) (string, error) {
	if errCode := params.Get("error"); errCode != "" {
		return "", &ThirdPartyError{Code: errCode, Description: params.Get("error_description")}
	}
	code := params.Get("code")
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}

// exchangeCode redeems the authorization code at the provider token
// endpoint. Every provider-attributable failure, a non-success status, an
// unparseable body, or a response with no access token, is classified as a
// ThirdPartyError.
func exchangeCode(ctx context.Context, httpClient *http.Client, cfg *oauth2.Config, code string) (string, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", &ThirdPartyError{
				Code:        retrieveErr.ErrorCode,
				Description: tokenEndpointFailureDescription(retrieveErr),
			}
		}
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", &ThirdPartyError{Description: "token endpoint returned no access token"}
	}
	return token.AccessToken, nil
}

func tokenEndpointFailureDescription(err *oauth2.RetrieveError) string {
	if err.ErrorDescription != "" {
		return err.ErrorDescription
	}
	if err.Response != nil {
		return fmt.Sprintf("token endpoint returned status %d", err.Response.StatusCode)
	}
	return "token endpoint request failed"
}

// fetchProfileJSON retrieves the provider userinfo document with the access
// token. Non-success statuses and undecodable bodies are ThirdPartyErrors.
// Closing the response body is not guarded: a cleanup failure after a
// successful exchange is a program-integrity bug and propagates as-is.
func fetchProfileJSON(ctx context.Context, httpClient *http.Client, endpoint, accessToken string) (doc map[string]any, retErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &ThirdPartyError{Description: fmt.Sprintf("userinfo request failed: %v", err)}
	}
	// A close failure after a successful exchange is a program-integrity bug:
	// it is not recast as a third-party error, it surfaces as-is.
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && retErr == nil {
			doc = nil
			retErr = fmt.Errorf("closing userinfo response: %w", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ThirdPartyError{Description: fmt.Sprintf("userinfo request failed with status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &ThirdPartyError{Description: fmt.Sprintf("userinfo response undecodable: %v", err)}
	}
	return doc, nil
}

// StringClaim extracts a string-valued field from a userinfo document,
// stringifying numeric ids the way providers that return them require.
func StringClaim(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

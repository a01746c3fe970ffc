package oauth

import (
	"net/url"
	"slices"

	"github.com/lakeshorelabs/oauthd/storage"
)

// ValidateRedirectURI matches a candidate redirect target against the
// registered allow-list. It returns the parsed candidate on a match so that
// extra query parameters the caller supplied survive into the final redirect,
// and nil when no match exists.
//
// An empty candidate succeeds only when exactly one URI is registered; the
// sole registration is the default. With an empty allow-list nothing is ever
// trusted, whatever the candidate says.
//
// Matching requires scheme, host, port and path to be exactly equal. Query
// parameters follow a per-key superset rule: the candidate must carry every
// value the registration requires for each key the registration mentions, and
// may carry any extra keys or values. The first registration that matches
// wins; registration order is the tie-break.
func ValidateRedirectURI(candidate string, registered []string) *url.URL {
	if len(registered) == 0 {
		return nil
	}

	if candidate == "" {
		if len(registered) != 1 {
			return nil
		}
		sole, err := url.Parse(registered[0])
		if err != nil {
			return nil
		}
		return sole
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return nil
	}

	for _, entry := range registered {
		test, err := url.Parse(entry)
		if err != nil {
			continue
		}
		if redirectURIMatches(test, parsed) {
			return parsed
		}
	}
	return nil
}

// redirectURIMatches reports whether candidate satisfies one registered URI.
func redirectURIMatches(test, candidate *url.URL) bool {
	// url.URL.Host carries the port, so host and port compare together.
	if test.Scheme != candidate.Scheme ||
		test.Host != candidate.Host ||
		test.Path != candidate.Path {
		return false
	}

	candidateQuery := candidate.Query()
	for key, required := range test.Query() {
		present := candidateQuery[key]
		for _, value := range required {
			if !slices.Contains(present, value) {
				return false
			}
		}
	}
	return true
}

// RequireRedirectURI is the throwing variant used by the authorization
// endpoint: a failed match becomes a catalogued invalid-request error.
func (s *Server) RequireRedirectURI(client *storage.Client, candidate string) (*url.URL, error) {
	target := ValidateRedirectURI(candidate, client.RedirectURIs)
	if target == nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID, "", "invalid_redirect_uri")
		}
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}
	return target, nil
}

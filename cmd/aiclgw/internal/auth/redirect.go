package auth

import (
	"net/url"
	"strings"
)

// oidcParams are the protocol query parameters removed from redirect targets.
var oidcParams = map[string]struct{}{
	"code":                     {},
	"state":                    {},
	"session_state":            {},
	"iss":                      {},
	"id_token_hint":            {},
	"post_logout_redirect_uri": {},
}

// IsOIDCParam reports whether name is an OIDC protocol query parameter.
func IsOIDCParam(name string) bool {
	_, ok := oidcParams[name]
	return ok
}

// SanitizeRedirect returns a copy of u without OIDC protocol query
// parameters. The remaining parameters keep their original order and
// encoding; when none remain the query is dropped entirely.
func SanitizeRedirect(u *url.URL) *url.URL {
	out := *u
	out.RawQuery = stripQuery(u.RawQuery)
	out.ForceQuery = false
	return &out
}

// LocalTarget reduces u to a sanitized same-origin target (path and query),
// so a redirect built from it can never leave the gateway's host.
func LocalTarget(u *url.URL) string {
	target := &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		target.Path, target.RawPath = "/", ""
	}
	return SanitizeRedirect(target).String()
}

func stripQuery(raw string) string {
	if raw == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(raw, "&")+1)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if name, err := url.QueryUnescape(key); err == nil && IsOIDCParam(name) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

// HasCallbackParams reports whether the query carries an authorization
// response, i.e. both code and state.
func HasCallbackParams(q url.Values) bool {
	return q.Get("code") != "" && q.Get("state") != ""
}

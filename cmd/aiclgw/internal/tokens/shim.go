package tokens

import (
	"net/http"
	"strings"
)

// BasicAuthShim rewrites Basic credentials whose password is an API token
// into a Bearer header, for clients that can only send Basic auth. The
// username is ignored. Requests that already carry a Bearer token, or whose
// password does not look like a token, pass through unchanged.
func BasicAuthShim(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := tokenFromBasicAuth(r); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFromBasicAuth(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) < len("Basic ") || !strings.EqualFold(authz[:len("Basic ")], "Basic ") {
		return ""
	}
	_, password, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	password = strings.TrimSpace(password)
	if !strings.HasPrefix(password, Prefix) {
		return ""
	}
	return password
}

package middleware

import (
	"fmt"
	"net/http"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
)

// RequireRole returns chi middleware that admits identities holding at
// least min. It must be mounted behind a Pipeline.
func RequireRole(min identity.Role, eh ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				eh.HandleError(w, r, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrNoIdentity))
				return
			}
			if !id.Role.AtLeast(min) {
				eh.HandleError(w, r, fmt.Errorf("%w: Role mismatch: requires %s, got %s", autherr.ErrRoleMismatch, min, id.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTeam returns chi middleware that admits admins and identities on
// the team teamOf extracts from the request.
func RequireTeam(teamOf func(*http.Request) string, eh ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				eh.HandleError(w, r, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrNoIdentity))
				return
			}
			if !id.Role.IsAdmin() {
				if err := id.ExpectTeam(teamOf(r)); err != nil {
					eh.HandleError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

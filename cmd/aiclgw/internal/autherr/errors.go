// Package autherr defines the error categories shared by the gateway
// components. Concrete causes are wrapped together with one of these
// sentinels so callers can branch on the category with errors.Is.
package autherr

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthentication covers missing or invalid credentials, a bad
	// callback state and a failed code exchange.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound is returned when the identity provider has no such entity.
	ErrNotFound = errors.New("not found")

	// ErrUpstream is returned when the identity provider, the OIDC provider
	// or the secret store cannot be reached or answered with garbage.
	ErrUpstream = errors.New("upstream failure")

	// ErrRoleMismatch is returned when an identity lacks the expected role.
	ErrRoleMismatch = errors.New("role mismatch")

	// ErrTeamMismatch is returned when an identity is not on the expected team.
	ErrTeamMismatch = errors.New("team mismatch")

	// ErrConfiguration signals a pipeline or component assembled without a
	// required collaborator.
	ErrConfiguration = errors.New("configuration error")
)

// Category returns a short machine-readable name for the error category,
// or "internal" when err does not carry one.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, ErrTeamMismatch):
		return "team_mismatch"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error category to the status code the default error
// handler answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrRoleMismatch), errors.Is(err, ErrTeamMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Package identity holds the normalized identity model attached to
// authenticated requests: the principal, its optional team and
// institution, and its single Role.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
)

// TeamIdentity is a competition team backed by an identity-provider group.
type TeamIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InstitutionIdentity is a sponsoring institution backed by a group
// beneath the institutions root.
type InstitutionIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Identity is a resolved, authenticated principal.
// Values are built by the directory from verified provider records and
// treated as read-only afterwards.
type Identity struct {
	ID          uuid.UUID            `json:"id"`
	Email       string               `json:"email"`
	Username    string               `json:"username"`
	Team        *TeamIdentity        `json:"team,omitempty"`
	Institution *InstitutionIdentity `json:"institution,omitempty"`
	Role        Role                 `json:"role"`
}

// TeamName returns the team name or "" when the identity has no team.
func (i *Identity) TeamName() string {
	if i == nil || i.Team == nil {
		return ""
	}
	return i.Team.Name
}

// InstitutionName returns the institution name or "".
func (i *Identity) InstitutionName() string {
	if i == nil || i.Institution == nil {
		return ""
	}
	return i.Institution.Name
}

// ExpectRole fails with autherr.ErrRoleMismatch unless the identity holds role.
func (i *Identity) ExpectRole(role Role) error {
	if i.Role != role {
		return fmt.Errorf("%w: Role mismatch: expected %s, got %s", autherr.ErrRoleMismatch, role, i.Role)
	}
	return nil
}

// ExpectTeam fails with autherr.ErrTeamMismatch unless the identity is on
// the named team. An empty team name expects no team at all.
func (i *Identity) ExpectTeam(team string) error {
	if got := i.TeamName(); got != team {
		return fmt.Errorf("%w: Team mismatch: expected %q, got %q", autherr.ErrTeamMismatch, team, got)
	}
	return nil
}

// Expect checks role and team together, role first.
func (i *Identity) Expect(role Role, team string) error {
	if err := i.ExpectRole(role); err != nil {
		return err
	}
	return i.ExpectTeam(team)
}

type identityContextKey struct{}

// WithIdentity stores the identity on the context for downstream handlers.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext returns the identity attached by the request pipeline.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok && id != nil
}

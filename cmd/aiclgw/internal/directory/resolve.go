package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/idp"
)

// ErrNoRecognizedRole is returned when none of a user's realm roles maps
// to a domain role.
var ErrNoRecognizedRole = errors.New("no recognized role")

// ToDomainUser resolves a provider user into an Identity: the highest
// recognized realm role, plus at most one team and one institution taken
// from the user's direct group memberships.
func (d *Directory) ToDomainUser(ctx context.Context, u *idp.User) (*identity.Identity, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil user record", autherr.ErrNotFound)
	}
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %q has a malformed id: %v", autherr.ErrUpstream, u.Username, err)
	}

	roles, err := d.GetUserRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	role, err := d.resolveRole(roles)
	if err != nil {
		return nil, fmt.Errorf("resolve role of %s: %w", u.Username, err)
	}

	groups, err := d.GetUserGroups(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	team, institution, err := d.resolveMemberships(ctx, u.Username, groups)
	if err != nil {
		return nil, err
	}

	return &identity.Identity{
		ID:          id,
		Email:       u.Email,
		Username:    u.Username,
		Team:        team,
		Institution: institution,
		Role:        role,
	}, nil
}

// resolveRole picks the highest-precedence recognized role.
func (d *Directory) resolveRole(roles []idp.RealmRole) (identity.Role, error) {
	var best identity.Role
	for _, r := range roles {
		role, ok := d.mapRole(r.Name)
		if !ok {
			continue
		}
		if role.Outranks(best) {
			best = role
		}
	}
	if !best.Valid() {
		return 0, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrNoRecognizedRole)
	}
	return best, nil
}

func (d *Directory) mapRole(name string) (identity.Role, bool) {
	if role, ok := d.cfg.RoleAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return role, true
	}
	role, err := identity.ParseRole(name)
	return role, err == nil
}

// resolveMemberships walks one level up from each direct group. A group is
// a team when it carries the team attribute or sits under the teams root;
// it is an institution when it sits under the institutions root. The first
// match of each kind wins; further matches are logged as ambiguous.
func (d *Directory) resolveMemberships(ctx context.Context, username string, groups []idp.Group) (*identity.TeamIdentity, *identity.InstitutionIdentity, error) {
	var (
		team        *identity.TeamIdentity
		institution *identity.InstitutionIdentity
	)
	for _, g := range groups {
		parentName := ""
		if g.ParentID != "" {
			parent, err := d.GetGroup(ctx, g.ParentID)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve parent of group %s: %w", g.Name, err)
			}
			parentName = parent.Name
		}

		switch {
		case d.isTeam(g, parentName):
			if team != nil {
				d.logger.Warnw("user belongs to several teams, keeping the first",
					"username", username, "kept", team.Name, "ignored", g.Name)
				continue
			}
			team = &identity.TeamIdentity{ID: g.ID, Name: g.Name}
		case parentName != "" && equalFold(parentName, d.cfg.InstitutionsGroup):
			if institution != nil {
				d.logger.Warnw("user belongs to several institutions, keeping the first",
					"username", username, "kept", institution.Name, "ignored", g.Name)
				continue
			}
			institution = &identity.InstitutionIdentity{ID: g.ID, Name: g.Name}
		}
	}
	return team, institution, nil
}

func (d *Directory) isTeam(g idp.Group, parentName string) bool {
	if equalFold(g.Attribute(d.cfg.TeamAttribute), d.cfg.TeamAttributeValue) {
		return true
	}
	return parentName != "" && equalFold(parentName, d.cfg.TeamsGroup)
}

// GetTeams lists the children of the teams root group.
func (d *Directory) GetTeams(ctx context.Context) ([]identity.TeamIdentity, error) {
	children, err := d.childrenOf(ctx, d.cfg.TeamsGroup)
	if err != nil {
		return nil, fmt.Errorf("get teams: %w", err)
	}
	teams := make([]identity.TeamIdentity, 0, len(children))
	for _, g := range children {
		teams = append(teams, identity.TeamIdentity{ID: g.ID, Name: g.Name})
	}
	return teams, nil
}

// GetInstitutions lists the children of the institutions root group.
func (d *Directory) GetInstitutions(ctx context.Context) ([]identity.InstitutionIdentity, error) {
	children, err := d.childrenOf(ctx, d.cfg.InstitutionsGroup)
	if err != nil {
		return nil, fmt.Errorf("get institutions: %w", err)
	}
	institutions := make([]identity.InstitutionIdentity, 0, len(children))
	for _, g := range children {
		institutions = append(institutions, identity.InstitutionIdentity{ID: g.ID, Name: g.Name})
	}
	return institutions, nil
}

func (d *Directory) childrenOf(ctx context.Context, rootName string) ([]idp.Group, error) {
	top, err := d.GetGroups(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, g := range top {
		if equalFold(g.Name, rootName) {
			return d.GetGroups(ctx, g.ID)
		}
	}
	return nil, fmt.Errorf("%w: group %q", autherr.ErrNotFound, rootName)
}

// GetComprehensiveReport resolves every user of the realm. Users without a
// recognized role are left out and logged; any upstream failure fails the
// whole report so a partial roster is never cached.
func (d *Directory) GetComprehensiveReport(ctx context.Context) ([]identity.Identity, error) {
	report, err := d.report.Get(ctx, allKey, func(ctx context.Context) ([]identity.Identity, error) {
		users, err := d.GetUsers(ctx)
		if err != nil {
			return nil, err
		}
		report := make([]identity.Identity, 0, len(users))
		for i := range users {
			id, err := d.ToDomainUser(ctx, &users[i])
			if errors.Is(err, ErrNoRecognizedRole) {
				d.logger.Warnw("skipping user without a recognized role", "username", users[i].Username)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", users[i].Username, err)
			}
			report = append(report, *id)
		}
		d.logger.Infow("built comprehensive report", "users", len(users), "identities", len(report))
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneIdentities(report), nil
}

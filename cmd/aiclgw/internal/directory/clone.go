package directory

import (
	"slices"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/idp"
)

// Cached values are shared between callers; everything handed out of the
// Directory is a copy.

func cloneUser(u *idp.User) *idp.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneGroup(g *idp.Group) *idp.Group {
	if g == nil {
		return nil
	}
	c := *g
	if g.Attributes != nil {
		c.Attributes = make(map[string][]string, len(g.Attributes))
		for k, v := range g.Attributes {
			c.Attributes[k] = slices.Clone(v)
		}
	}
	return &c
}

func cloneGroups(groups []idp.Group) []idp.Group {
	if groups == nil {
		return nil
	}
	out := make([]idp.Group, len(groups))
	for i := range groups {
		out[i] = *cloneGroup(&groups[i])
	}
	return out
}

func cloneIdentities(ids []identity.Identity) []identity.Identity {
	if ids == nil {
		return nil
	}
	out := slices.Clone(ids)
	for i := range out {
		if t := out[i].Team; t != nil {
			team := *t
			out[i].Team = &team
		}
		if inst := out[i].Institution; inst != nil {
			institution := *inst
			out[i].Institution = &institution
		}
	}
	return out
}

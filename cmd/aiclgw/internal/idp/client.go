// Package idp is the read-only client for the identity provider's admin
// API. It returns provider-native records; translating them into the
// domain model is the directory's job.
package idp

import (
	"context"
	"strings"
)

// User is a provider user record.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// DisplayName joins first and last name, falling back to the username.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Group is a provider group. ParentID is empty for top-level groups.
type Group struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	ParentID   string              `json:"parentId,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the first value of a group attribute.
func (g Group) Attribute(name string) string {
	if vals := g.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// RealmRole is a realm-level role assigned to a user.
type RealmRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client reads users, groups and realm roles from the identity provider.
//
// Implementations return errors wrapping autherr.ErrNotFound when the
// entity does not exist and autherr.ErrUpstream for every other failure.
type Client interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindUsersByUsername(ctx context.Context, username string) ([]User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetUserGroups(ctx context.Context, userID string) ([]Group, error)
	// ListGroups returns the children of parentID, or the top-level
	// groups when parentID is empty.
	ListGroups(ctx context.Context, parentID string) ([]Group, error)
	GetGroup(ctx context.Context, id string) (*Group, error)
	GetUserRealmRoles(ctx context.Context, userID string) ([]RealmRole, error)
}

// Package directory is the cached view over the identity provider. It
// fetches users, groups and realm roles through an idp.Client, caches each
// kind of lookup in its own namespace, and resolves provider records into
// identity.Identity values.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/cache"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/idp"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/telemetry"
)

const tracerName = "aiclgw/directory"

// Cache namespaces.
const (
	NamespaceUser       = "user"
	NamespaceUsername   = "username"
	NamespaceUsers      = "users"
	NamespaceUserGroups = "user_groups"
	NamespaceGroups     = "groups"
	NamespaceGroup      = "group"
	NamespaceUserRoles  = "user_roles"
	NamespaceReport     = "report"
)

const (
	allKey        = "all"
	topLevelKey   = "<top>"
	defaultReport = 5 * time.Minute
)

// DefaultRoleAliases maps realm role names to domain roles. Names are
// compared lower-cased.
func DefaultRoleAliases() map[string]identity.Role {
	return map[string]identity.Role{
		"root":      identity.RoleRoot,
		"admin":     identity.RoleRoot,
		"advisor":   identity.RoleAdvisor,
		"captain":   identity.RoleCaptain,
		"student":   identity.RoleStudent,
		"member":    identity.RoleStudent,
		"spectator": identity.RoleSpectator,
		"viewer":    identity.RoleSpectator,
	}
}

// Config tunes caching and the group conventions used to find teams and
// institutions.
type Config struct {
	// TTL applies to every namespace except the report.
	TTL time.Duration
	// ReportTTL applies to the comprehensive report.
	ReportTTL time.Duration
	// Size caps the entries of each namespace.
	Size int

	// TeamsGroup is the name of the top-level group whose children are teams.
	TeamsGroup string
	// InstitutionsGroup is the name of the top-level group whose children
	// are institutions.
	InstitutionsGroup string
	// TeamAttribute and TeamAttributeValue flag a group as a team wherever
	// it sits in the hierarchy.
	TeamAttribute      string
	TeamAttributeValue string

	// RoleAliases extends DefaultRoleAliases. Names not listed in either
	// are tried as canonical role names.
	RoleAliases map[string]identity.Role

	// Observer receives cache events for every namespace.
	Observer cache.Observer
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = cache.DefaultTTL
	}
	if c.ReportTTL <= 0 {
		c.ReportTTL = defaultReport
	}
	if c.TeamsGroup == "" {
		c.TeamsGroup = "Teams"
	}
	if c.InstitutionsGroup == "" {
		c.InstitutionsGroup = "Institutions"
	}
	if c.TeamAttribute == "" {
		c.TeamAttribute = "type"
	}
	if c.TeamAttributeValue == "" {
		c.TeamAttributeValue = "team"
	}
	aliases := DefaultRoleAliases()
	for name, role := range c.RoleAliases {
		aliases[strings.ToLower(name)] = role
	}
	c.RoleAliases = aliases
	return c
}

// Directory resolves provider records into identities and caches every
// upstream lookup. It is safe for concurrent use.
type Directory struct {
	client idp.Client
	cfg    Config
	logger *zap.SugaredLogger

	users      *cache.Cache[*idp.User]
	usernames  *cache.Cache[[]idp.User]
	userList   *cache.Cache[[]idp.User]
	userGroups *cache.Cache[[]idp.Group]
	groups     *cache.Cache[[]idp.Group]
	group      *cache.Cache[*idp.Group]
	userRoles  *cache.Cache[[]idp.RealmRole]
	report     *cache.Cache[[]identity.Identity]
}

// New creates a Directory on top of an identity-provider client.
func New(client idp.Client, cfg Config, logger *zap.SugaredLogger) *Directory {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts := cache.Options{TTL: cfg.TTL, Size: cfg.Size, Observer: cfg.Observer}
	reportOpts := cache.Options{TTL: cfg.ReportTTL, Size: 1, Observer: cfg.Observer}

	return &Directory{
		client:     client,
		cfg:        cfg,
		logger:     logger.Named("directory"),
		users:      cache.New[*idp.User](NamespaceUser, opts),
		usernames:  cache.New[[]idp.User](NamespaceUsername, opts),
		userList:   cache.New[[]idp.User](NamespaceUsers, opts),
		userGroups: cache.New[[]idp.Group](NamespaceUserGroups, opts),
		groups:     cache.New[[]idp.Group](NamespaceGroups, opts),
		group:      cache.New[*idp.Group](NamespaceGroup, opts),
		userRoles:  cache.New[[]idp.RealmRole](NamespaceUserRoles, opts),
		report:     cache.New[[]identity.Identity](NamespaceReport, reportOpts),
	}
}

// GetUser returns the provider record for id.
func (d *Directory) GetUser(ctx context.Context, id string) (*idp.User, error) {
	v, err := d.users.Get(ctx, id, func(ctx context.Context) (*idp.User, error) {
		ctx, span := telemetry.StartSpan(ctx, tracerName, "directory.GetUser", attribute.String(telemetry.AttrUserID, id))
		defer span.End()
		u, err := d.client.GetUser(ctx, id)
		telemetry.RecordError(span, err)
		return u, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return cloneUser(v), nil
}

// FindUsersByUsername returns the users whose username matches exactly.
func (d *Directory) FindUsersByUsername(ctx context.Context, username string) ([]idp.User, error) {
	v, err := d.usernames.Get(ctx, username, func(ctx context.Context) ([]idp.User, error) {
		users, err := d.client.FindUsersByUsername(ctx, username)
		return users, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v), nil
}

// GetUsers returns every user of the realm.
func (d *Directory) GetUsers(ctx context.Context) ([]idp.User, error) {
	v, err := d.userList.Get(ctx, allKey, func(ctx context.Context) ([]idp.User, error) {
		ctx, span := telemetry.StartSpan(ctx, tracerName, "directory.GetUsers")
		defer span.End()
		users, err := d.client.ListUsers(ctx)
		telemetry.RecordError(span, err)
		return users, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v), nil
}

// GetUserGroups returns the direct group memberships of a user.
func (d *Directory) GetUserGroups(ctx context.Context, userID string) ([]idp.Group, error) {
	v, err := d.userGroups.Get(ctx, userID, func(ctx context.Context) ([]idp.Group, error) {
		groups, err := d.client.GetUserGroups(ctx, userID)
		return groups, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return cloneGroups(v), nil
}

// GetGroups returns the children of parentID, or the top-level groups when
// parentID is empty.
func (d *Directory) GetGroups(ctx context.Context, parentID string) ([]idp.Group, error) {
	key := parentID
	if key == "" {
		key = topLevelKey
	}
	v, err := d.groups.Get(ctx, key, func(ctx context.Context) ([]idp.Group, error) {
		groups, err := d.client.ListGroups(ctx, parentID)
		return groups, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return cloneGroups(v), nil
}

// GetGroup returns one group.
func (d *Directory) GetGroup(ctx context.Context, id string) (*idp.Group, error) {
	v, err := d.group.Get(ctx, id, func(ctx context.Context) (*idp.Group, error) {
		g, err := d.client.GetGroup(ctx, id)
		return g, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return cloneGroup(v), nil
}

// GetUserRoles returns the realm roles of a user.
func (d *Directory) GetUserRoles(ctx context.Context, userID string) ([]idp.RealmRole, error) {
	v, err := d.userRoles.Get(ctx, userID, func(ctx context.Context) ([]idp.RealmRole, error) {
		roles, err := d.client.GetUserRealmRoles(ctx, userID)
		return roles, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v), nil
}

// GetDomainUser fetches a user by id and resolves it into an Identity.
func (d *Directory) GetDomainUser(ctx context.Context, id string) (*identity.Identity, error) {
	u, err := d.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.ToDomainUser(ctx, u)
}

// InvalidateUserCache drops the cached user, group and role lookups of one
// user. Entries of other users and the group tree stay warm.
func (d *Directory) InvalidateUserCache(id string) {
	if u, ok := d.users.Peek(id); ok && u != nil {
		d.usernames.Invalidate(u.Username)
	}
	d.users.Invalidate(id)
	d.userGroups.Invalidate(id)
	d.userRoles.Invalidate(id)
	d.logger.Debugw("invalidated user cache", "user_id", id)
}

// InvalidateCaches drops every namespace.
func (d *Directory) InvalidateCaches() {
	d.users.Purge()
	d.usernames.Purge()
	d.userList.Purge()
	d.userGroups.Purge()
	d.groups.Purge()
	d.group.Purge()
	d.userRoles.Purge()
	d.report.Purge()
	d.logger.Infow("invalidated all directory caches")
}

// classify keeps provider error categories and files everything else,
// apart from caller cancellation, under autherr.ErrUpstream.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, autherr.ErrNotFound), errors.Is(err, autherr.ErrUpstream):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	default:
		return fmt.Errorf("%w: %v", autherr.ErrUpstream, err)
	}
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

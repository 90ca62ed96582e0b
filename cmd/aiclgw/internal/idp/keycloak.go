package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
)

const (
	defaultAdminClientID = "admin-cli"
	defaultPageSize      = 100
	defaultTimeout       = 10 * time.Second
)

// KeycloakConfig holds the connection settings for the Keycloak admin API.
type KeycloakConfig struct {
	// BaseURL is the server root, e.g. "http://keycloak:8080".
	BaseURL string
	// Realm holds the users and groups being read.
	Realm string

	// ClientID and ClientSecret authenticate with the client-credentials
	// grant. The client's service account needs the realm-management
	// view-users and query-groups roles.
	ClientID     string
	ClientSecret string

	// AdminUsername and AdminPassword switch to the password grant
	// against AdminRealm (default "master") using ClientID or admin-cli.
	AdminUsername string
	AdminPassword string
	AdminRealm    string

	// Timeout bounds every admin request including the token fetch.
	Timeout time.Duration
	// PageSize is used when listing users.
	PageSize int

	// TokenSource overrides the grant configured above.
	TokenSource oauth2.TokenSource
	// HTTPClient is the transport used for token and admin requests.
	HTTPClient *http.Client
}

// KeycloakClient implements Client against the Keycloak admin REST API
// through gocloak. Admin access tokens come from an oauth2.TokenSource
// that caches and refreshes them.
type KeycloakClient struct {
	kc       *gocloak.GoCloak
	tokens   oauth2.TokenSource
	realm    string
	pageSize int
	logger   *zap.SugaredLogger
}

// NewKeycloakClient builds an admin client. Token acquisition is lazy, so
// construction does not contact the server.
func NewKeycloakClient(ctx context.Context, cfg KeycloakConfig, logger *zap.SugaredLogger) (*KeycloakClient, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" {
		return nil, fmt.Errorf("%w: keycloak base url and realm are required", autherr.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	transport := cfg.HTTPClient
	if transport == nil {
		transport = &http.Client{Timeout: timeout}
	}
	// The oauth2 package picks the token transport up from the context.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, transport)

	ts := cfg.TokenSource
	if ts == nil {
		var err error
		ts, err = adminTokenSource(tokenCtx, base, cfg)
		if err != nil {
			return nil, err
		}
	}

	kc := gocloak.NewClient(base)
	kc.RestyClient().SetTimeout(timeout)
	if transport.Transport != nil {
		kc.RestyClient().SetTransport(transport.Transport)
	}

	return &KeycloakClient{
		kc:       kc,
		tokens:   ts,
		realm:    cfg.Realm,
		pageSize: pageSize,
		logger:   logger.Named("keycloak"),
	}, nil
}

func adminTokenSource(ctx context.Context, base string, cfg KeycloakConfig) (oauth2.TokenSource, error) {
	if cfg.AdminUsername != "" {
		realm := cfg.AdminRealm
		if realm == "" {
			realm = "master"
		}
		clientID := cfg.ClientID
		if clientID == "" || realm == "master" {
			clientID = defaultAdminClientID
		}
		conf := &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL(base, realm),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		pts := &passwordTokenSource{ctx: ctx, conf: conf, username: cfg.AdminUsername, password: cfg.AdminPassword}
		return oauth2.ReuseTokenSource(nil, pts), nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: keycloak admin credentials are required", autherr.ErrConfiguration)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL(base, cfg.Realm),
	}
	return cc.TokenSource(ctx), nil
}

func tokenURL(base, realm string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", base, url.PathEscape(realm))
}

// passwordTokenSource performs the resource-owner password grant once and
// then refreshes through the refresh token, re-authenticating when the
// refresh fails. It is wrapped in oauth2.ReuseTokenSource, which
// serializes calls to Token.
type passwordTokenSource struct {
	ctx                context.Context
	conf               *oauth2.Config
	username, password string
	current            oauth2.TokenSource
}

func (p *passwordTokenSource) Token() (*oauth2.Token, error) {
	if p.current != nil {
		if tok, err := p.current.Token(); err == nil {
			return tok, nil
		}
	}
	tok, err := p.conf.PasswordCredentialsToken(p.ctx, p.username, p.password)
	if err != nil {
		return nil, err
	}
	p.current = p.conf.TokenSource(p.ctx, tok)
	return tok, nil
}

// GetUser fetches one user by id.
func (c *KeycloakClient) GetUser(ctx context.Context, id string) (*User, error) {
	var user *gocloak.User
	err := c.call(ctx, "GetUser", func(token string) (err error) {
		user, err = c.kc.GetUserByID(ctx, token, c.realm, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u := toUser(user)
	return &u, nil
}

// FindUsersByUsername runs an exact username search.
func (c *KeycloakClient) FindUsersByUsername(ctx context.Context, username string) ([]User, error) {
	var users []*gocloak.User
	err := c.call(ctx, "FindUsersByUsername", func(token string) (err error) {
		users, err = c.kc.GetUsers(ctx, token, c.realm, gocloak.GetUsersParams{
			Username: gocloak.StringP(username),
			Exact:    gocloak.BoolP(true),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find users %q: %w", username, err)
	}
	return toUsers(users), nil
}

// ListUsers pages through every user of the realm.
func (c *KeycloakClient) ListUsers(ctx context.Context) ([]User, error) {
	var all []User
	for first := 0; ; first += c.pageSize {
		var page []*gocloak.User
		err := c.call(ctx, "ListUsers", func(token string) (err error) {
			page, err = c.kc.GetUsers(ctx, token, c.realm, gocloak.GetUsersParams{
				First: gocloak.IntP(first),
				Max:   gocloak.IntP(c.pageSize),
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		all = append(all, toUsers(page)...)
		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// GetUserGroups returns the user's direct group memberships with
// attributes and parent ids filled in.
func (c *KeycloakClient) GetUserGroups(ctx context.Context, userID string) ([]Group, error) {
	var raw []*gocloak.Group
	err := c.call(ctx, "GetUserGroups", func(token string) (err error) {
		raw, err = c.kc.GetUserGroups(ctx, token, c.realm, userID, gocloak.GetGroupsParams{
			BriefRepresentation: gocloak.BoolP(false),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get groups of user %s: %w", userID, err)
	}
	groups := toGroups(raw)
	for i := range groups {
		if err := c.resolveParent(ctx, &groups[i]); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// ListGroups returns top-level groups or the children of parentID.
func (c *KeycloakClient) ListGroups(ctx context.Context, parentID string) ([]Group, error) {
	var raw []*gocloak.Group
	err := c.call(ctx, "ListGroups", func(token string) (err error) {
		if parentID == "" {
			raw, err = c.kc.GetGroups(ctx, token, c.realm, gocloak.GetGroupsParams{
				BriefRepresentation: gocloak.BoolP(false),
			})
			return err
		}
		raw, err = c.kc.GetChildGroups(ctx, token, c.realm, parentID, gocloak.GetChildGroupsParams{
			BriefRepresentation: gocloak.BoolP(false),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list groups under %q: %w", parentID, err)
	}
	groups := toGroups(raw)
	for i := range groups {
		groups[i].ParentID = parentID
	}
	return groups, nil
}

// GetGroup fetches one group by id.
func (c *KeycloakClient) GetGroup(ctx context.Context, id string) (*Group, error) {
	var raw *gocloak.Group
	err := c.call(ctx, "GetGroup", func(token string) (err error) {
		raw, err = c.kc.GetGroup(ctx, token, c.realm, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}
	group := toGroup(raw)
	if err := c.resolveParent(ctx, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// GetUserRealmRoles returns the effective realm roles of a user,
// including roles inherited through composites and groups.
func (c *KeycloakClient) GetUserRealmRoles(ctx context.Context, userID string) ([]RealmRole, error) {
	var raw []*gocloak.Role
	err := c.call(ctx, "GetUserRealmRoles", func(token string) (err error) {
		raw, err = c.kc.GetCompositeRealmRolesByUserID(ctx, token, c.realm, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get realm roles of user %s: %w", userID, err)
	}
	roles := make([]RealmRole, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		roles = append(roles, RealmRole{ID: gocloak.PString(r.ID), Name: gocloak.PString(r.Name)})
	}
	return roles, nil
}

// resolveParent fills ParentID from the parent's path, since Keycloak
// reports only the path of a group.
func (c *KeycloakClient) resolveParent(ctx context.Context, g *Group) error {
	if g.ParentID != "" {
		return nil
	}
	parentPath := parentPathOf(g.Path)
	if parentPath == "" {
		return nil
	}
	var parent *gocloak.Group
	err := c.call(ctx, "GetGroupByPath", func(token string) (err error) {
		parent, err = c.kc.GetGroupByPath(ctx, token, c.realm, escapeGroupPath(parentPath))
		return err
	})
	if err != nil {
		return fmt.Errorf("resolve parent of group %s: %w", g.Path, err)
	}
	g.ParentID = gocloak.PString(parent.ID)
	return nil
}

// parentPathOf returns "/Institutions" for "/Institutions/School1" and ""
// for top-level paths.
func parentPathOf(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	i := strings.LastIndex(trimmed, "/")
	if i <= 0 {
		return ""
	}
	return trimmed[:i]
}

// escapeGroupPath escapes each segment and drops the leading slash; gocloak
// joins it onto the group-by-path endpoint.
func escapeGroupPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// call fetches an admin token, runs fn and classifies its error.
func (c *KeycloakClient) call(ctx context.Context, op string, fn func(token string) error) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: admin token: %v", autherr.ErrUpstream, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", autherr.ErrUpstream, err)
	}

	start := time.Now()
	err = fn(tok.AccessToken)
	c.logger.Debugw("admin request", "op", op, "duration", time.Since(start), "error", err)
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return autherr.ErrNotFound
	}
	return fmt.Errorf("%w: %v", autherr.ErrUpstream, err)
}

func toUser(u *gocloak.User) User {
	if u == nil {
		return User{}
	}
	return User{
		ID:        gocloak.PString(u.ID),
		Username:  gocloak.PString(u.Username),
		Email:     gocloak.PString(u.Email),
		FirstName: gocloak.PString(u.FirstName),
		LastName:  gocloak.PString(u.LastName),
		Enabled:   gocloak.PBool(u.Enabled),
	}
}

func toUsers(raw []*gocloak.User) []User {
	users := make([]User, 0, len(raw))
	for _, u := range raw {
		if u != nil {
			users = append(users, toUser(u))
		}
	}
	return users
}

func toGroup(g *gocloak.Group) Group {
	if g == nil {
		return Group{}
	}
	group := Group{
		ID:   gocloak.PString(g.ID),
		Name: gocloak.PString(g.Name),
		Path: gocloak.PString(g.Path),
	}
	if g.Attributes != nil {
		group.Attributes = *g.Attributes
	}
	return group
}

func toGroups(raw []*gocloak.Group) []Group {
	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		if g != nil {
			groups = append(groups, toGroup(g))
		}
	}
	return groups
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/auth"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/bunx"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/migrations"
	aiclmw "github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/middleware"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/repository"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/session"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/tokens"
)

var (
	captain = identity.Identity{
		ID:       uuid.MustParse("11111111-1111-4111-8111-111111111111"),
		Username: "captain1",
		Team:     &identity.TeamIdentity{ID: "g1", Name: "Team1"},
		Role:     identity.RoleCaptain,
	}
	admin = identity.Identity{
		ID:       uuid.MustParse("22222222-2222-4222-8222-222222222222"),
		Username: "admin",
		Role:     identity.RoleRoot,
	}
)

type fakeDirectory struct {
	invalidatedUsers []string
	purged           int
}

func (d *fakeDirectory) GetDomainUser(_ context.Context, id string) (*identity.Identity, error) {
	for _, ident := range []identity.Identity{captain, admin} {
		if ident.ID.String() == id {
			return &ident, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", autherr.ErrNotFound, id)
}

func (d *fakeDirectory) GetComprehensiveReport(context.Context) ([]identity.Identity, error) {
	return []identity.Identity{admin, captain}, nil
}

func (d *fakeDirectory) GetTeams(context.Context) ([]identity.TeamIdentity, error) {
	return []identity.TeamIdentity{{ID: "g1", Name: "Team1"}}, nil
}

func (d *fakeDirectory) GetInstitutions(context.Context) ([]identity.InstitutionIdentity, error) {
	return []identity.InstitutionIdentity{{ID: "i1", Name: "School1"}}, nil
}

func (d *fakeDirectory) InvalidateUserCache(id string) { d.invalidatedUsers = append(d.invalidatedUsers, id) }
func (d *fakeDirectory) InvalidateCaches()             { d.purged++ }

type fakeProvider struct{}

func (fakeProvider) AuthURL(state, _ string) string {
	return "https://idp.example.com/auth?state=" + url.QueryEscape(state)
}

func (fakeProvider) Exchange(context.Context, string, string) (*oidc.IDTokenClaims, error) {
	return &oidc.IDTokenClaims{TokenClaims: oidc.TokenClaims{Subject: captain.ID.String()}}, nil
}

type testServer struct {
	handler      http.Handler
	directory    *fakeDirectory
	tokenStore   *tokens.Store
	captainToken string
	adminToken   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(ctx, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Up(ctx, db)
	require.NoError(t, err)

	dir := &fakeDirectory{}
	store := tokens.NewStore(repository.NewBunAPITokenRepository(db), nil)
	verifier, err := tokens.NewVerifier(store, dir, nil)
	require.NoError(t, err)

	sessions, err := session.NewStore(session.NewMemoryBackend(100, time.Hour), session.Options{
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
		EncryptKey: []byte("fedcba9876543210fedcba9876543210"),
		Insecure:   true,
	}, nil)
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(fakeProvider{}, dir, auth.Options{}, nil)
	require.NoError(t, err)

	eh := aiclmw.JSONErrorHandler(nil)
	browser, err := aiclmw.NewBuilder().WithSessionStore(sessions).WithErrorHandler(eh).
		Use(aiclmw.TokenStage{Verifier: verifier}, aiclmw.IdentifyStage{Authenticator: authenticator}, aiclmw.LoginEnforceStage{Flow: authenticator}).
		Build()
	require.NoError(t, err)
	api, err := aiclmw.NewBuilder().WithSessionStore(sessions).WithErrorHandler(eh).
		Use(aiclmw.TokenStage{Verifier: verifier}, aiclmw.IdentifyStage{Authenticator: authenticator}).
		Build()
	require.NoError(t, err)

	captainToken, _, err := store.Issue(ctx, tokens.IssueRequest{Subject: captain.ID, Name: "bootstrap"})
	require.NoError(t, err)
	adminToken, _, err := store.Issue(ctx, tokens.IssueRequest{Subject: admin.ID, Name: "bootstrap"})
	require.NoError(t, err)

	router := NewRouter(RouterOptions{
		MetricsHandler:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Middleware:         []func(http.Handler) http.Handler{tokens.BasicAuthShim},
		Browser:            browser,
		API:                api,
		ErrorHandler:       eh,
		Sessions:           sessions,
		Authenticator:      authenticator,
		PostLogoutRedirect: "/goodbye",
		Directory:          dir,
		Tokens:             store,
		MaxTokenTTL:        30 * 24 * time.Hour,
		ProtectedRoutes: func(r chi.Router) {
			r.Get("/app", func(w http.ResponseWriter, r *http.Request) {
				id, _ := identity.FromContext(r.Context())
				_, _ = w.Write([]byte("hello " + id.Username))
			})
		},
	})

	return &testServer{handler: router, directory: dir, tokenStore: store, captainToken: captainToken, adminToken: adminToken}
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestRouter_WhoAmI(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/whoami", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"), "api routes never redirect")

	rec = s.do(t, http.MethodGet, "/api/whoami", s.captainToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "captain1", body["username"])
	assert.Equal(t, "CAPTAIN", body["role"])
	assert.Equal(t, false, body["is_admin"])

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.SetBasicAuth("git", s.captainToken)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/whoami?token="+s.adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_admin":true`)
}

func TestRouter_TokenLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/tokens", s.captainToken, issueTokenRequest{Name: "laptop", TTL: "1h"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	require.NotEmpty(t, issued.Token)
	require.NotNil(t, issued.ExpiresAt)
	assert.Equal(t, captain.ID.String(), issued.Subject)

	rec = s.do(t, http.MethodGet, "/api/whoami", issued.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tokens", s.captainToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Len(t, listed, 2)
	for _, tok := range listed {
		assert.Empty(t, tok.Token, "plaintext is only returned at issue time")
	}

	rec = s.do(t, http.MethodDelete, "/api/tokens/"+issued.ID, s.captainToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/whoami", issued.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_TokenIssueValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/tokens", s.captainToken, issueTokenRequest{TTL: "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/tokens", s.captainToken, issueTokenRequest{Subject: admin.ID.String()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/tokens", s.adminToken, issueTokenRequest{Subject: captain.ID.String(), Name: "for-captain"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	assert.Equal(t, captain.ID.String(), issued.Subject)
	require.NotNil(t, issued.ExpiresAt, "max ttl applies to tokens without expiry")
}

func TestRouter_CannotRevokeOthersTokens(t *testing.T) {
	s := newTestServer(t)

	_, record, err := s.tokenStore.Issue(context.Background(), tokens.IssueRequest{Subject: admin.ID, Name: "admin-only"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodDelete, "/api/tokens/"+record.ID, s.captainToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/tokens/"+record.ID, s.adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_AdminRoutes(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/admin/report", "/api/admin/teams", "/api/admin/institutions"} {
		rec := s.do(t, http.MethodGet, path, s.captainToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)

		rec = s.do(t, http.MethodGet, path, s.adminToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := s.do(t, http.MethodGet, "/api/admin/report", s.adminToken, nil)
	var roster []identity.Identity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&roster))
	assert.Len(t, roster, 2)

	rec = s.do(t, http.MethodPost, "/api/admin/cache/invalidate/"+captain.ID.String(), s.adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{captain.ID.String()}, s.directory.invalidatedUsers)

	rec = s.do(t, http.MethodPost, "/api/admin/cache/invalidate", s.adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.directory.purged)

	rec = s.do(t, http.MethodPost, "/api/admin/cache/invalidate", s.captainToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, s.directory.purged)
}

func TestRouter_BrowserLoginAndLogout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/app?tab=1", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", loc.Host)
	cookies := rec.Result().Cookies()

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+url.QueryEscape(loc.Query().Get("state")), nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/app?tab=1", rec.Header().Get("Location"))
	require.NotEmpty(t, rec.Result().Cookies(), "login rotates the session cookie")
	cookies = rec.Result().Cookies()

	req = httptest.NewRequest(http.MethodGet, "/app", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello captain1", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/goodbye", rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/app", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code, "logged out session must log in again")
}

func TestRouter_LoginEndpointRedirectsLocally(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/auth/login?redirect="+url.QueryEscape("https://evil.example.com/steal"), s.captainToken, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/steal", rec.Header().Get("Location"))
}

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/config"
)

// Provider is the OIDC provider as seen by the Authenticator.
type Provider interface {
	// AuthURL returns the authorization endpoint URL carrying state and the
	// S256 challenge derived from verifier.
	AuthURL(state, verifier string) string
	// Exchange redeems an authorization code with the PKCE verifier and
	// returns the verified ID-token claims.
	Exchange(ctx context.Context, code, verifier string) (*oidc.IDTokenClaims, error)
}

// RelyingParty handles OIDC authentication against an external IdP by wrapping
// the zitadel/oidc RelyingParty implementation.
//
// State and PKCE verifier live in the gateway session rather than in the
// library's cookies, so the relying party is created without a cookie handler.
type RelyingParty struct {
	rp rp.RelyingParty
}

// NewRelyingParty discovers the issuer and creates the relying party.
func NewRelyingParty(ctx context.Context, cfg config.OIDCConfig, httpClient *http.Client) (*RelyingParty, error) {
	options := []rp.Option{
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10 * time.Second)),
	}
	if httpClient != nil {
		options = append(options, rp.WithHTTPClient(httpClient))
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	return &RelyingParty{rp: relyingParty}, nil
}

// AuthURL implements Provider.
func (r *RelyingParty) AuthURL(state, verifier string) string {
	return rp.AuthURL(state, r.rp, rp.WithCodeChallenge(oauth2.S256ChallengeFromVerifier(verifier)))
}

// Exchange implements Provider.
func (r *RelyingParty) Exchange(ctx context.Context, code, verifier string) (*oidc.IDTokenClaims, error) {
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, r.rp, rp.WithCodeVerifier(verifier))
	if err != nil {
		return nil, err
	}
	if tokens.IDTokenClaims == nil {
		return nil, fmt.Errorf("token response carried no id_token")
	}
	return tokens.IDTokenClaims, nil
}

// LogoutURL returns the provider's end-session URL that sends the browser
// back to postLogoutRedirect, or "" when the provider advertises no
// end_session_endpoint.
func (r *RelyingParty) LogoutURL(postLogoutRedirect string) string {
	endpoint := r.rp.GetEndSessionEndpoint()
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", r.rp.OAuthConfig().ClientID)
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

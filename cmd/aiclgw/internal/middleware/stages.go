package middleware

import (
	"context"
	"net/url"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/auth"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/session"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/tokens"
)

// TokenIdentifier verifies an API token and resolves its identity.
type TokenIdentifier interface {
	Identify(ctx context.Context, token string) (*identity.Identity, error)
}

// SessionAuthenticator recognises sessions that completed a login.
type SessionAuthenticator interface {
	Authenticate(sess *session.Session) (*identity.Identity, error)
}

// LoginFlow starts and completes the OIDC login.
type LoginFlow interface {
	StartAuth(sess *session.Session, target *url.URL) (string, error)
	HandleCallback(ctx context.Context, sess *session.Session, code, state, fallback string) (string, error)
}

// TokenStage authenticates requests that present an API token. A request
// without a token passes through untouched; a bad token ends the request.
// The session is never modified.
type TokenStage struct {
	Verifier TokenIdentifier
}

// Name implements Stage.
func (TokenStage) Name() string { return "token" }

// Process implements Stage.
func (s TokenStage) Process(ctx context.Context, rc *RequestContext) (Decision, error) {
	token, ok := tokens.ExtractToken(rc.Request)
	if !ok {
		return Continue, nil
	}
	id, err := s.Verifier.Identify(ctx, token)
	if err != nil {
		return Continue, err
	}
	rc.Identity = id
	rc.Source = SourceToken
	return Continue, nil
}

// IdentifyStage attaches the identity of an already logged-in session.
// Failure is not an error here; enforcement happens later.
type IdentifyStage struct {
	Authenticator SessionAuthenticator
}

// Name implements Stage.
func (IdentifyStage) Name() string { return "identify" }

// Process implements Stage.
func (s IdentifyStage) Process(_ context.Context, rc *RequestContext) (Decision, error) {
	if rc.Identity != nil {
		return Continue, nil
	}
	if id, err := s.Authenticator.Authenticate(rc.Session); err == nil {
		rc.Identity = id
		rc.Source = SourceSession
	}
	return Continue, nil
}

// LoginEnforceStage sends requests without an identity through the OIDC
// login: a request carrying code and state completes the callback, any
// other request starts a new login.
type LoginEnforceStage struct {
	Flow LoginFlow
}

// Name implements Stage.
func (LoginEnforceStage) Name() string { return "login" }

// Process implements Stage.
func (s LoginEnforceStage) Process(ctx context.Context, rc *RequestContext) (Decision, error) {
	if rc.Identity != nil {
		return Continue, nil
	}

	query := rc.Request.URL.Query()
	if auth.HasCallbackParams(query) {
		fallback := auth.LocalTarget(rc.Request.URL)
		target, err := s.Flow.HandleCallback(ctx, rc.Session, query.Get("code"), query.Get("state"), fallback)
		if err != nil {
			return Continue, err
		}
		rc.Source = SourceCallback
		rc.Redirect = target
		return Redirect, nil
	}

	loginURL, err := s.Flow.StartAuth(rc.Session, rc.Request.URL)
	if err != nil {
		return Continue, err
	}
	rc.Redirect = loginURL
	return Redirect, nil
}

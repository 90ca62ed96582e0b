// Package auth runs the OIDC authorization-code flow for browser sessions:
// it starts a login, completes the provider callback and recognises
// sessions that already carry an identity.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/session"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/telemetry"
)

// Session keys owned by the Authenticator.
const (
	FlowStateKey = "aicl.auth_flow"
	IdentityKey  = "aicl.identity"
)

// DefaultFlowTTL bounds how long a started login may wait for its callback.
const DefaultFlowTTL = 10 * time.Minute

const tracerName = "aiclgw/auth"

var (
	// ErrFlowStateMissing is returned for a callback without a pending login.
	ErrFlowStateMissing = errors.New("no pending login for this session")
	// ErrFlowExpired is returned for a callback after the pending login timed out.
	ErrFlowExpired = errors.New("pending login expired")
	// ErrStateMismatch is returned when the callback state differs from the stored one.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrCodeExchange is returned when the provider rejects the authorization code.
	ErrCodeExchange = errors.New("code exchange failed")
	// ErrNotAuthenticated is returned by Authenticate for sessions without an identity.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// FlowState is the pending login stored in the session between StartAuth
// and HandleCallback.
type FlowState struct {
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityResolver turns a provider subject into an Identity.
type IdentityResolver interface {
	GetDomainUser(ctx context.Context, id string) (*identity.Identity, error)
}

// Options tunes an Authenticator.
type Options struct {
	FlowTTL time.Duration
	Now     func() time.Time
}

// Authenticator drives the authorization-code flow for one provider.
type Authenticator struct {
	provider  Provider
	directory IdentityResolver
	flowTTL   time.Duration
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewAuthenticator returns an Authenticator using provider for the protocol
// and directory to resolve identities.
func NewAuthenticator(provider Provider, directory IdentityResolver, opts Options, logger *zap.SugaredLogger) (*Authenticator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: OIDC provider is required", autherr.ErrConfiguration)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: identity directory is required", autherr.ErrConfiguration)
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = DefaultFlowTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Authenticator{
		provider:  provider,
		directory: directory,
		flowTTL:   opts.FlowTTL,
		now:       opts.Now,
		logger:    logger.Named("auth"),
	}, nil
}

// StartAuth records a fresh pending login in the session and returns the
// provider URL to send the browser to. target is where the browser returns
// after a successful callback; it is reduced to a local, sanitized path.
func (a *Authenticator) StartAuth(sess *session.Session, target *url.URL) (string, error) {
	flow := FlowState{
		State:     rand.Text(),
		Verifier:  oauth2.GenerateVerifier(),
		Target:    "/",
		CreatedAt: a.now(),
	}
	if target != nil {
		flow.Target = LocalTarget(target)
	}
	if err := sess.Set(FlowStateKey, flow); err != nil {
		return "", err
	}
	return a.provider.AuthURL(flow.State, flow.Verifier), nil
}

// HandleCallback completes a pending login. The flow state is consumed
// whatever the outcome; on success the session is given a new id, the
// resolved identity is stored in it and the sanitized original target is
// returned, falling back to
// fallback when the login recorded none.
func (a *Authenticator) HandleCallback(ctx context.Context, sess *session.Session, code, state, fallback string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "auth.HandleCallback")
	defer span.End()

	var flow FlowState
	found, err := sess.Get(FlowStateKey, &flow)
	sess.Delete(FlowStateKey)
	sess.Delete(IdentityKey)

	switch {
	case err != nil || !found:
		return "", a.fail(span, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrFlowStateMissing))
	case state == "" || state != flow.State:
		return "", a.fail(span, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrStateMismatch))
	case a.now().Sub(flow.CreatedAt) > a.flowTTL:
		return "", a.fail(span, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrFlowExpired))
	}

	claims, err := a.provider.Exchange(ctx, code, flow.Verifier)
	if err != nil {
		return "", a.fail(span, fmt.Errorf("%w: %w: %v", autherr.ErrAuthentication, ErrCodeExchange, err))
	}
	span.SetAttributes(attribute.String(telemetry.AttrUserID, claims.Subject))

	id, err := a.directory.GetDomainUser(ctx, claims.Subject)
	switch {
	case err == nil:
	case errors.Is(err, autherr.ErrUpstream), errors.Is(err, autherr.ErrAuthentication):
		return "", a.fail(span, fmt.Errorf("resolve identity of %s: %w", claims.Subject, err))
	default:
		return "", a.fail(span, fmt.Errorf("%w: resolve identity of %s: %w", autherr.ErrAuthentication, claims.Subject, err))
	}

	sess.Regenerate()
	if err := sess.Set(IdentityKey, id); err != nil {
		return "", a.fail(span, err)
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrUsername, id.Username),
		attribute.String(telemetry.AttrRole, id.Role.String()),
	)
	a.logger.Infow("login completed", "user_id", id.ID, "username", id.Username, "role", id.Role)

	target := flow.Target
	if target == "" {
		target = fallback
	}
	u, err := url.Parse(target)
	if err != nil || target == "" {
		return "/", nil
	}
	return SanitizeRedirect(u).String(), nil
}

// Authenticate returns the identity stored in the session by a completed
// login. It never touches the network.
func (a *Authenticator) Authenticate(sess *session.Session) (*identity.Identity, error) {
	var id identity.Identity
	found, err := sess.Get(IdentityKey, &id)
	if err != nil {
		a.logger.Warnw("discarding undecodable session identity", "error", err)
		sess.Delete(IdentityKey)
		return nil, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrNotAuthenticated)
	}
	if !found || !id.Role.Valid() {
		return nil, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrNotAuthenticated)
	}
	return &id, nil
}

// Logout forgets the identity and any pending login of the session.
// Unrelated session values are kept.
func (a *Authenticator) Logout(sess *session.Session) {
	sess.Delete(IdentityKey)
	sess.Delete(FlowStateKey)
}

func (a *Authenticator) fail(span trace.Span, err error) error {
	telemetry.RecordError(span, err)
	a.logger.Warnw("login callback rejected", "error", err)
	return err
}

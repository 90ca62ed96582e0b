package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
)

// ErrInvalidToken is the single cause callers see for any rejected token.
var ErrInvalidToken = errors.New("invalid token")

// IdentityResolver turns a token subject into an Identity.
type IdentityResolver interface {
	GetDomainUser(ctx context.Context, id string) (*identity.Identity, error)
}

// Verifier checks presented tokens against a SecretStore and resolves
// their subject through the identity directory. Nothing is cached.
type Verifier struct {
	store     SecretStore
	directory IdentityResolver
	logger    *zap.SugaredLogger
}

// NewVerifier creates a Verifier.
func NewVerifier(store SecretStore, directory IdentityResolver, logger *zap.SugaredLogger) (*Verifier, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: secret store is required", autherr.ErrConfiguration)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: identity directory is required", autherr.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Verifier{store: store, directory: directory, logger: logger.Named("tokens")}, nil
}

// VerifyToken returns the token's subject. Expired, revoked, malformed and
// unknown tokens all fail with autherr.ErrAuthentication; the specific
// cause is only logged. Store outages fail with autherr.ErrUpstream.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (uuid.UUID, error) {
	subject, err := v.store.VerifyToken(ctx, token)
	if err == nil {
		return subject, nil
	}
	if errors.Is(err, autherr.ErrUpstream) {
		v.logger.Errorw("secret store unavailable", "error", err)
		return uuid.Nil, err
	}
	v.logger.Warnw("token rejected", "cause", err)
	return uuid.Nil, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrInvalidToken)
}

// Identify verifies token and resolves its subject to an Identity.
func (v *Verifier) Identify(ctx context.Context, token string) (*identity.Identity, error) {
	subject, err := v.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	id, err := v.directory.GetDomainUser(ctx, subject.String())
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, autherr.ErrUpstream), errors.Is(err, autherr.ErrAuthentication):
		return nil, err
	default:
		v.logger.Warnw("token subject not resolvable", "subject", subject, "error", err)
		return nil, fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrInvalidToken)
	}
}

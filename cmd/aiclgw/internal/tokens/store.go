package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/bunx"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/models"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/repository"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go SecretStore

// SecretStore verifies opaque tokens and returns the subject they were
// issued to.
type SecretStore interface {
	VerifyToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Store is the database-backed SecretStore that also issues and revokes
// tokens.
type Store struct {
	repo   repository.APITokenRepository
	now    func() time.Time
	logger *zap.SugaredLogger
}

var _ SecretStore = (*Store)(nil)

// NewStore creates a Store over repo.
func NewStore(repo repository.APITokenRepository, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("tokens"),
	}
}

// IssueRequest describes a token to issue.
type IssueRequest struct {
	Subject uuid.UUID
	Name    string
	// TTL of zero issues a token that never expires.
	TTL       time.Duration
	CreatedBy string
}

// Issue creates a token. The plaintext is returned once and never stored.
func (s *Store) Issue(ctx context.Context, req IssueRequest) (string, *models.APIToken, error) {
	if req.Subject == uuid.Nil {
		return "", nil, fmt.Errorf("issue token: subject is required")
	}
	if req.TTL < 0 {
		return "", nil, fmt.Errorf("issue token: negative ttl")
	}
	token, hash, err := Generate()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	record := &models.APIToken{
		ID:        bunx.NewUUIDv7(),
		Subject:   req.Subject.String(),
		Name:      req.Name,
		TokenHash: hash,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
	}
	if req.TTL > 0 {
		expires := now.Add(req.TTL)
		record.ExpiresAt = &expires
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return "", nil, fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	}
	s.logger.Infow("issued api token", "token_id", record.ID, "subject", record.Subject, "name", record.Name)
	return token, record, nil
}

// VerifyToken implements SecretStore. Failures carry one of the ErrToken*
// causes; database failures are wrapped in autherr.ErrUpstream.
func (s *Store) VerifyToken(ctx context.Context, token string) (uuid.UUID, error) {
	record, err := s.lookup(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	now := s.now()
	switch {
	case record.Revoked():
		return uuid.Nil, ErrTokenRevoked
	case record.Expired(now):
		return uuid.Nil, ErrTokenExpired
	}
	subject, err := uuid.Parse(record.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: stored subject %q", ErrTokenMalformed, record.Subject)
	}
	if err := s.repo.TouchLastUsed(ctx, record.ID, now); err != nil {
		s.logger.Warnw("failed to record token use", "token_id", record.ID, "error", err)
	}
	return subject, nil
}

// Revoke revokes the token with the given plaintext.
func (s *Store) Revoke(ctx context.Context, token string) error {
	record, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	return s.RevokeByID(ctx, record.ID)
}

// RevokeByID revokes a token by its id.
func (s *Store) RevokeByID(ctx context.Context, id string) error {
	err := s.repo.Revoke(ctx, id, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: token %s", autherr.ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	}
	s.logger.Infow("revoked api token", "token_id", id)
	return nil
}

// Get returns the token record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.APIToken, error) {
	record, err := s.repo.GetByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: token %s", autherr.ErrNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	}
	return record, nil
}

// List returns the tokens of a subject, newest first.
func (s *Store) List(ctx context.Context, subject uuid.UUID) ([]models.APIToken, error) {
	records, err := s.repo.ListBySubject(ctx, subject.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	}
	return records, nil
}

// Prune deletes tokens that expired more than grace ago.
func (s *Store) Prune(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	}
	return n, nil
}

func (s *Store) lookup(ctx context.Context, token string) (*models.APIToken, error) {
	if err := Validate(token); err != nil {
		return nil, err
	}
	record, err := s.repo.GetByTokenHash(ctx, Hash(token))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrTokenUnknown
	case err != nil:
		return nil, fmt.Errorf("%w: %w", autherr.ErrUpstream, err)
	}
	return record, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/models"
)

// BunAPITokenRepository implements APITokenRepository using Bun ORM
type BunAPITokenRepository struct {
	db *bun.DB
}

// NewBunAPITokenRepository creates a new Bun-based API token repository
func NewBunAPITokenRepository(db *bun.DB) *BunAPITokenRepository {
	return &BunAPITokenRepository{db: db}
}

// Create inserts a new token
func (r *BunAPITokenRepository) Create(ctx context.Context, token *models.APIToken) error {
	_, err := r.db.NewInsert().
		Model(token).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create api token: %w", err)
	}
	return nil
}

// GetByID retrieves a token by ID
func (r *BunAPITokenRepository) GetByID(ctx context.Context, id string) (*models.APIToken, error) {
	token := new(models.APIToken)
	err := r.db.NewSelect().
		Model(token).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: api token %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get api token: %w", err)
	}
	return token, nil
}

// GetByTokenHash retrieves a token by its hash
func (r *BunAPITokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	token := new(models.APIToken)
	err := r.db.NewSelect().
		Model(token).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: api token", ErrNotFound)
		}
		return nil, fmt.Errorf("get api token by hash: %w", err)
	}
	return token, nil
}

// ListBySubject retrieves all tokens of a subject, newest first
func (r *BunAPITokenRepository) ListBySubject(ctx context.Context, subject string) ([]models.APIToken, error) {
	tokens := []models.APIToken{}
	err := r.db.NewSelect().
		Model(&tokens).
		Where("subject = ?", subject).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	return tokens, nil
}

// Revoke marks a token revoked. Revoking an already revoked token keeps
// the original revocation time.
func (r *BunAPITokenRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*models.APIToken)(nil)).
		Set("revoked_at = ?", at).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchLastUsed records when a token was last presented
func (r *BunAPITokenRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.APIToken)(nil)).
		Set("last_used_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch api token: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens that expired before the cutoff and reports
// how many were removed
func (r *BunAPITokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.APIToken)(nil)).
		Where("expires_at IS NOT NULL").
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired api tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

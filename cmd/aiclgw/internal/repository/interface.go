// Package repository persists gateway records with bun.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/models"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("record not found")

// APITokenRepository exposes persistence operations for API tokens.
type APITokenRepository interface {
	Create(ctx context.Context, token *models.APIToken) error
	GetByID(ctx context.Context, id string) (*models.APIToken, error)
	// GetByTokenHash is the lookup used on every token-authenticated request.
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.APIToken, error)
	ListBySubject(ctx context.Context, subject string) ([]models.APIToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

// APIToken is an issued API token. Only the SHA-256 hash of the token is
// stored; the plaintext is shown once at issue time.
type APIToken struct {
	bun.BaseModel `bun:"table:api_tokens,alias:t"`

	ID         string     `bun:"id,pk,type:varchar(36)"`
	Subject    string     `bun:"subject,notnull"` // identity-provider user id
	Name       string     `bun:"name,notnull,default:''"`
	TokenHash  string     `bun:"token_hash,notnull,unique"`
	CreatedBy  string     `bun:"created_by"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	ExpiresAt  *time.Time `bun:"expires_at"`
	RevokedAt  *time.Time `bun:"revoked_at"`
	LastUsedAt *time.Time `bun:"last_used_at"`
}

// Expired reports whether the token has an expiry at or before now.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Revoked reports whether the token has been revoked.
func (t *APIToken) Revoked() bool {
	return t.RevokedAt != nil
}

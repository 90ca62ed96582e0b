// Package tokens issues and verifies opaque API tokens. Tokens are random
// strings handed out once; the store keeps only their SHA-256 hash.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	// Prefix marks gateway API tokens so they are recognisable in logs and
	// secret scanners.
	Prefix = "aicl_"

	// TokenLength is the number of random bytes in a token
	TokenLength = 32

	// QueryParam is the query parameter accepted as a token fallback.
	QueryParam = "token"
)

var (
	// ErrTokenUnknown is returned for well-formed tokens the store never issued.
	ErrTokenUnknown = errors.New("unknown token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for revoked tokens.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenMalformed is returned for strings that cannot be a token.
	ErrTokenMalformed = errors.New("malformed token")
)

// Generate returns a new token and its storage hash.
func Generate() (token, hash string, err error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}
	token = Prefix + hex.EncodeToString(b)
	return token, Hash(token), nil
}

// Hash returns the SHA-256 hex digest stored in place of the token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Validate checks the token shape without consulting the store.
func Validate(token string) error {
	body, ok := strings.CutPrefix(token, Prefix)
	if !ok || len(body) != 2*TokenLength {
		return ErrTokenMalformed
	}
	if _, err := hex.DecodeString(body); err != nil {
		return ErrTokenMalformed
	}
	return nil
}

// ExtractToken returns the API token presented with r. An Authorization
// Bearer header wins over the token query parameter. ok is false when
// neither is present, which is not an error.
func ExtractToken(r *http.Request) (token string, ok bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if value = strings.TrimSpace(value); value != "" {
				return value, true
			}
		}
	}
	if value := strings.TrimSpace(r.URL.Query().Get(QueryParam)); value != "" {
		return value, true
	}
	return "", false
}

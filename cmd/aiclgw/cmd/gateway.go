package cmd

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/cache"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/directory"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/idp"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/session"
)

// memorySessionLimit caps the in-memory session backend; the least recently
// used sessions are evicted beyond it.
const memorySessionLimit = 10000

// newDirectory connects the identity directory to the configured provider.
func newDirectory(ctx context.Context, observer cache.Observer) (*directory.Directory, error) {
	client, err := idp.NewKeycloakClient(ctx, idp.KeycloakConfig{
		BaseURL:       cfg.IdP.BaseURL,
		Realm:         cfg.IdP.Realm,
		ClientID:      cfg.IdP.ClientID,
		ClientSecret:  cfg.IdP.ClientSecret,
		AdminUsername: cfg.IdP.AdminUsername,
		AdminPassword: cfg.IdP.AdminPassword,
		AdminRealm:    cfg.IdP.AdminRealm,
		Timeout:       cfg.IdP.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create identity provider client: %w", err)
	}

	return directory.New(client, directory.Config{
		TTL:                cfg.Cache.TTL,
		ReportTTL:          cfg.Cache.ReportTTL,
		Size:               cfg.Cache.Size,
		TeamsGroup:         cfg.IdP.TeamsGroup,
		InstitutionsGroup:  cfg.IdP.InstitutionsGroup,
		TeamAttribute:      cfg.IdP.TeamAttribute,
		TeamAttributeValue: cfg.IdP.TeamAttributeValue,
		RoleAliases:        cfg.IdP.RoleAliases,
		Observer:           observer,
	}, logger), nil
}

// newSessionStore builds the browser session store. The returned close
// function releases the backend connection.
func newSessionStore(ctx context.Context) (*session.Store, func() error, error) {
	var (
		backend session.Backend
		closeFn = func() error { return nil }
	)
	switch cfg.Session.Backend {
	case "redis":
		rb, err := session.NewRedisBackend(ctx, cfg.Session.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		backend, closeFn = rb, rb.Close
		logger.Infow("using redis session backend")
	default:
		backend = session.NewMemoryBackend(memorySessionLimit, cfg.Session.TTL)
		logger.Infow("using in-memory session backend")
	}

	hashKey, err := sessionKey(cfg.Session.HashKey, 32, "session.hash_key")
	if err != nil {
		return nil, nil, err
	}
	encryptKey, err := sessionKey(cfg.Session.EncryptKey, 32, "session.encrypt_key")
	if err != nil {
		return nil, nil, err
	}

	store, err := session.NewStore(backend, session.Options{
		CookieName: cfg.Session.CookieName,
		HashKey:    hashKey,
		EncryptKey: encryptKey,
		TTL:        cfg.Session.TTL,
		Insecure:   !cfg.Session.SecureCookie,
	}, logger)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

func sessionKey(configured string, size int, name string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate %s: %w", name, err)
	}
	logger.Warnw("generated a random session key; sessions will not survive a restart", "key", name)
	return key, nil
}

package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	httphelper "github.com/zitadel/oidc/v3/pkg/http"
	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
)

// DefaultCookieName names the session cookie when Options.CookieName is empty.
const DefaultCookieName = "aicl.session"

// Backend persists session values by id.
type Backend interface {
	// Load returns ErrNotFound for unknown or expired ids.
	Load(ctx context.Context, id string) (map[string]json.RawMessage, error)
	Save(ctx context.Context, id string, values map[string]json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Store.
type Options struct {
	CookieName string
	// HashKey signs and EncryptKey encrypts the cookie; EncryptKey must be
	// 16, 24 or 32 bytes.
	HashKey    []byte
	EncryptKey []byte
	TTL        time.Duration
	// Insecure drops the Secure cookie flag for plain-HTTP development.
	Insecure bool
}

// Store loads and saves sessions for HTTP requests.
type Store struct {
	backend    Backend
	cookies    *httphelper.CookieHandler
	cookieName string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

// NewStore wires a backend to the session cookie.
func NewStore(backend Backend, opts Options, logger *zap.SugaredLogger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: session backend is required", autherr.ErrConfiguration)
	}
	if len(opts.HashKey) == 0 {
		return nil, fmt.Errorf("%w: session hash key is required", autherr.ErrConfiguration)
	}
	switch len(opts.EncryptKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: session encrypt key must be 16, 24 or 32 bytes", autherr.ErrConfiguration)
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cookieOpts := []httphelper.CookieHandlerOpt{
		httphelper.WithMaxAge(int(opts.TTL.Seconds())),
		httphelper.WithSameSite(http.SameSiteLaxMode),
	}
	if opts.Insecure {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}

	return &Store{
		backend:    backend,
		cookies:    httphelper.NewCookieHandler(opts.HashKey, opts.EncryptKey, cookieOpts...),
		cookieName: opts.CookieName,
		ttl:        opts.TTL,
		logger:     logger.Named("session"),
	}, nil
}

// Load returns the session referenced by the request cookie, or a new
// empty session when there is no valid cookie or the backend forgot it.
// Only backend failures are returned as errors.
func (s *Store) Load(ctx context.Context, r *http.Request) (*Session, error) {
	id, err := s.cookies.CheckCookie(r, s.cookieName)
	if err != nil || id == "" {
		return New(), nil
	}
	values, err := s.backend.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %v", autherr.ErrUpstream, err)
	}
	return loaded(id, values), nil
}

// Save persists a dirty session and, for new sessions, sets the cookie.
// A regenerated session is stored under its new id before the old entry
// is deleted.
// Clean sessions are left alone so anonymous API requests never get a
// cookie.
func (s *Store) Save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil || !sess.dirty || sess.destroyed {
		return nil
	}
	if sess.id == "" {
		sess.id = rand.Text()
	}
	if err := s.backend.Save(ctx, sess.id, sess.snapshot(), s.ttl); err != nil {
		return fmt.Errorf("%w: save session: %v", autherr.ErrUpstream, err)
	}
	if sess.isNew {
		if err := s.cookies.SetCookie(w, s.cookieName, sess.id); err != nil {
			return fmt.Errorf("set session cookie: %w", err)
		}
		sess.isNew = false
	}
	if sess.retired != "" {
		if err := s.backend.Delete(ctx, sess.retired); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: delete retired session: %v", autherr.ErrUpstream, err)
		}
		sess.retired = ""
	}
	sess.dirty = false
	return nil
}

// Destroy removes the session from the backend and expires the cookie.
func (s *Store) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	sess.destroyed = true
	sess.values = map[string]json.RawMessage{}
	s.cookies.DeleteCookie(w, s.cookieName)
	if sess.id == "" {
		return nil
	}
	if err := s.backend.Delete(ctx, sess.id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: delete session: %v", autherr.ErrUpstream, err)
	}
	return nil
}

// CookieName returns the name of the session cookie.
func (s *Store) CookieName() string {
	return s.cookieName
}

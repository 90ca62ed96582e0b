// Package server mounts the request pipeline, the gateway's own endpoints
// and any host routes on a chi router.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/models"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	aiclmw "github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/middleware"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/session"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/telemetry"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/tokens"
)

// Directory is the part of the identity directory exposed over HTTP.
type Directory interface {
	GetComprehensiveReport(ctx context.Context) ([]identity.Identity, error)
	GetTeams(ctx context.Context) ([]identity.TeamIdentity, error)
	GetInstitutions(ctx context.Context) ([]identity.InstitutionIdentity, error)
	InvalidateUserCache(id string)
	InvalidateCaches()
}

// TokenManager issues, lists and revokes API tokens.
type TokenManager interface {
	Issue(ctx context.Context, req tokens.IssueRequest) (string, *models.APIToken, error)
	List(ctx context.Context, subject uuid.UUID) ([]models.APIToken, error)
	Get(ctx context.Context, id string) (*models.APIToken, error)
	RevokeByID(ctx context.Context, id string) error
}

// SessionStore is the browser session store used by logout.
type SessionStore interface {
	Load(ctx context.Context, r *http.Request) (*session.Session, error)
	Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

// Logouter forgets the login held by a session.
type Logouter interface {
	Logout(sess *session.Session)
}

// RouterOptions controls the construction of the gateway router.
// Nil collaborators leave their routes unmounted.
type RouterOptions struct {
	Logger         *zap.SugaredLogger
	Metrics        *telemetry.ServerMetrics
	MetricsHandler http.Handler
	CORSOptions    *cors.Options
	Middleware     []func(http.Handler) http.Handler
	HealthHandler  http.HandlerFunc

	// Browser runs token, identify and login-enforce stages; it guards the
	// login endpoints and ProtectedRoutes.
	Browser *aiclmw.Pipeline
	// API runs token and identify stages only, so API clients get a 401
	// instead of a login redirect.
	API          *aiclmw.Pipeline
	ErrorHandler aiclmw.ErrorHandler

	Sessions      SessionStore
	Authenticator Logouter
	// LogoutURL builds the provider's end-session URL; nil or an empty
	// result sends the browser straight to PostLogoutRedirect.
	LogoutURL          func(postLogoutRedirect string) string
	PostLogoutRedirect string

	Directory   Directory
	Tokens      TokenManager
	MaxTokenTTL time.Duration

	// ProtectedRoutes mounts host application routes behind Browser.
	ProtectedRoutes func(chi.Router)
}

// DefaultCORSOptions returns the CORS policy used when none is configured.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy and
// the gateway handlers mounted.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	eh := opts.ErrorHandler
	if eh == nil {
		eh = aiclmw.JSONErrorHandler(logger)
	}
	h := &handlers{opts: opts, errors: eh, logger: logger.Named("server")}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(logger, opts.Metrics))
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions(nil)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	if opts.Sessions != nil && opts.Authenticator != nil {
		r.Get("/auth/logout", h.logout)
		r.Post("/auth/logout", h.logout)
	} else {
		h.logger.Warnw("skipping /auth/logout: session store or authenticator not configured")
	}

	if opts.Browser != nil {
		r.Group(func(r chi.Router) {
			r.Use(opts.Browser.Middleware())
			r.Get("/auth/login", h.login)
			r.Get("/auth/callback", h.callback)
			if opts.ProtectedRoutes != nil {
				opts.ProtectedRoutes(r)
			}
		})
	}

	if opts.API != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(opts.API.Middleware())
			r.Get("/whoami", h.whoami)

			if opts.Tokens != nil {
				r.Post("/tokens", h.issueToken)
				r.Get("/tokens", h.listTokens)
				r.Delete("/tokens/{tokenID}", h.revokeToken)
			}

			if opts.Directory != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Use(aiclmw.RequireRole(identity.RoleRoot, eh))
					r.Get("/report", h.report)
					r.Get("/teams", h.teams)
					r.Get("/institutions", h.institutions)
					r.Post("/cache/invalidate", h.invalidateAll)
					r.Post("/cache/invalidate/{userID}", h.invalidateUser)
				})
			}
		})
	}

	return r
}

type handlers struct {
	opts   RouterOptions
	errors aiclmw.ErrorHandler
	logger *zap.SugaredLogger
}

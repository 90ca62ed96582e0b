// Package middleware assembles the request pipeline that authenticates
// requests before they reach protected handlers. Stages run in a fixed
// order over one RequestContext; the first stage to redirect or fail ends
// the request.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/session"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/telemetry"
)

// Decision tells the runner what to do after a stage.
type Decision int

const (
	// Continue runs the next stage, or the protected handler after the last.
	Continue Decision = iota
	// Redirect ends the request with a 302 to RequestContext.Redirect.
	Redirect
)

func (d Decision) String() string {
	if d == Redirect {
		return "redirect"
	}
	return "continue"
}

// Identity sources recorded on the RequestContext.
const (
	SourceToken    = "token"
	SourceSession  = "session"
	SourceCallback = "callback"
)

// RequestContext is the per-request state threaded through the stages.
type RequestContext struct {
	Request  *http.Request
	Session  *session.Session
	Identity *identity.Identity
	// Source records which stage attached Identity.
	Source string
	// Redirect is the Location of a Redirect decision.
	Redirect string
}

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, rc *RequestContext) (Decision, error)
}

// SessionStore loads and saves the browser session around a request.
type SessionStore interface {
	Load(ctx context.Context, r *http.Request) (*session.Session, error)
	Save(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

// ErrorHandler renders every non-redirect failure of the pipeline.
type ErrorHandler interface {
	HandleError(w http.ResponseWriter, r *http.Request, err error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// HandleError implements ErrorHandler.
func (f ErrorHandlerFunc) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	f(w, r, err)
}

// ErrNoIdentity is reported when every stage continued without attaching
// an identity, which happens on pipelines without a login-enforce stage.
var ErrNoIdentity = errors.New("no identity attached")

// Builder assembles a Pipeline and checks that it is complete.
type Builder struct {
	store   SessionStore
	errors  ErrorHandler
	stages  []Stage
	logger  *zap.SugaredLogger
	metrics *telemetry.AuthMetrics
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithSessionStore sets the session store.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.store = store
	return b
}

// WithErrorHandler sets the error handler.
func (b *Builder) WithErrorHandler(h ErrorHandler) *Builder {
	b.errors = h
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *zap.SugaredLogger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics records stage decisions and pipeline duration.
func (b *Builder) WithMetrics(m *telemetry.AuthMetrics) *Builder {
	b.metrics = m
	return b
}

// Use appends stages. They run in the order added.
func (b *Builder) Use(stages ...Stage) *Builder {
	b.stages = append(b.stages, stages...)
	return b
}

// Build validates the configuration. A missing session store, error
// handler or stage is an autherr.ErrConfiguration.
func (b *Builder) Build() (*Pipeline, error) {
	if b.store == nil {
		return nil, fmt.Errorf("%w: pipeline requires a session store", autherr.ErrConfiguration)
	}
	if b.errors == nil {
		return nil, fmt.Errorf("%w: pipeline requires an error handler", autherr.ErrConfiguration)
	}
	if len(b.stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline requires at least one stage", autherr.ErrConfiguration)
	}
	for i, st := range b.stages {
		if st == nil {
			return nil, fmt.Errorf("%w: pipeline stage %d is nil", autherr.ErrConfiguration, i)
		}
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		store:   b.store,
		errors:  b.errors,
		stages:  append([]Stage(nil), b.stages...),
		logger:  logger.Named("pipeline"),
		metrics: b.metrics,
	}, nil
}

// Pipeline runs its stages in front of a protected handler.
type Pipeline struct {
	store   SessionStore
	errors  ErrorHandler
	stages  []Stage
	logger  *zap.SugaredLogger
	metrics *telemetry.AuthMetrics
}

// Middleware returns the pipeline as chi-compatible middleware.
func (p *Pipeline) Middleware() func(http.Handler) http.Handler {
	return p.Handler
}

// Handler wraps next. next only runs with an Identity on the request
// context; every other outcome is a redirect or goes to the ErrorHandler.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		sess, err := p.store.Load(ctx, r)
		if err != nil {
			p.finish(ctx, start, autherr.Category(err))
			p.errors.HandleError(w, r, err)
			return
		}

		rc := &RequestContext{Request: r, Session: sess}
		for _, st := range p.stages {
			decision, err := st.Process(ctx, rc)
			if err != nil {
				p.metrics.RecordDecision(ctx, st.Name(), autherr.Category(err))
				p.logger.Debugw("stage failed", "stage", st.Name(), "path", r.URL.Path, "error", err)
				if serr := p.save(ctx, w, sess); serr != nil {
					p.logger.Warnw("session not saved after stage failure", "stage", st.Name(), "stage_error", err, "error", serr)
				}
				p.finish(ctx, start, autherr.Category(err))
				p.errors.HandleError(w, r, err)
				return
			}
			p.metrics.RecordDecision(ctx, st.Name(), decision.String())
			if decision == Redirect {
				if err := p.save(ctx, w, sess); err != nil {
					p.logger.Errorw("failed to save session", "stage", st.Name(), "error", err)
					p.finish(ctx, start, autherr.Category(err))
					p.errors.HandleError(w, r, err)
					return
				}
				p.finish(ctx, start, "redirect")
				http.Redirect(w, r, rc.Redirect, http.StatusFound)
				return
			}
		}

		if rc.Identity == nil {
			err := fmt.Errorf("%w: %w", autherr.ErrAuthentication, ErrNoIdentity)
			p.finish(ctx, start, autherr.Category(err))
			p.errors.HandleError(w, r, err)
			return
		}
		if err := p.save(ctx, w, sess); err != nil {
			p.logger.Errorw("failed to save session", "error", err)
			p.finish(ctx, start, autherr.Category(err))
			p.errors.HandleError(w, r, err)
			return
		}
		p.finish(ctx, start, "authenticated")

		ctx = identity.WithIdentity(ctx, rc.Identity)
		ctx = WithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *Pipeline) save(ctx context.Context, w http.ResponseWriter, sess *session.Session) error {
	if !sess.Dirty() {
		return nil
	}
	return p.store.Save(ctx, w, sess)
}

func (p *Pipeline) finish(ctx context.Context, start time.Time, outcome string) {
	p.metrics.RecordDuration(ctx, outcome, float64(time.Since(start).Microseconds())/1000)
}

type sessionContextKey struct{}

// WithSession stores the request's session on the context.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session loaded by the pipeline.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok && s != nil
}

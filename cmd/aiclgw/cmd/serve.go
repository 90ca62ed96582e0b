package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/auth"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/cache"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/bunx"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	aiclmw "github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/middleware"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/migrations"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/repository"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/server"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/telemetry"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/tokens"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identity gateway",
	Long: `Starts the HTTP server with the OIDC login endpoints, the API token
endpoints and the admin directory endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateGateway(); err != nil {
			return err
		}
		ctx := cmd.Context()

		shutdownTracing, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warnw("tracing shutdown failed", "error", err)
			}
		}()

		var (
			metricsHandler http.Handler
			serverMetrics  *telemetry.ServerMetrics
			authMetrics    *telemetry.AuthMetrics
			cacheObserver  cache.Observer
		)
		if cfg.Observability.MetricsEnabled {
			handler, shutdownMetrics, err := telemetry.InitMetrics()
			if err != nil {
				return err
			}
			defer func() { _ = shutdownMetrics(context.Background()) }()
			metricsHandler = handler

			if serverMetrics, err = telemetry.NewServerMetrics(); err != nil {
				return fmt.Errorf("create server metrics: %w", err)
			}
			if authMetrics, err = telemetry.NewAuthMetrics(); err != nil {
				return fmt.Errorf("create auth metrics: %w", err)
			}
			cacheMetrics, err := telemetry.NewCacheMetrics()
			if err != nil {
				return fmt.Errorf("create cache metrics: %w", err)
			}
			cacheObserver = cacheMetrics
		}

		// Connect to database
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer bunx.Close(db)
		if serveMigrate {
			group, err := migrations.Up(ctx, db)
			if err != nil {
				return err
			}
			logger.Infow("database migrated", "group", group.ID)
		}

		dir, err := newDirectory(ctx, cacheObserver)
		if err != nil {
			return err
		}

		sessions, closeSessions, err := newSessionStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = closeSessions() }()

		relyingParty, err := auth.NewRelyingParty(ctx, cfg.OIDC, nil)
		if err != nil {
			return err
		}
		authenticator, err := auth.NewAuthenticator(relyingParty, dir, auth.Options{}, logger)
		if err != nil {
			return err
		}

		tokenStore := tokens.NewStore(repository.NewBunAPITokenRepository(db), logger)
		verifier, err := tokens.NewVerifier(tokenStore, dir, logger)
		if err != nil {
			return err
		}

		errorHandler := aiclmw.JSONErrorHandler(logger)
		tokenStage := aiclmw.TokenStage{Verifier: verifier}
		identifyStage := aiclmw.IdentifyStage{Authenticator: authenticator}

		browser, err := aiclmw.NewBuilder().
			WithSessionStore(sessions).
			WithErrorHandler(errorHandler).
			WithLogger(logger).
			WithMetrics(authMetrics).
			Use(tokenStage, identifyStage, aiclmw.LoginEnforceStage{Flow: authenticator}).
			Build()
		if err != nil {
			return fmt.Errorf("build browser pipeline: %w", err)
		}
		api, err := aiclmw.NewBuilder().
			WithSessionStore(sessions).
			WithErrorHandler(errorHandler).
			WithLogger(logger).
			WithMetrics(authMetrics).
			Use(tokenStage, identifyStage).
			Build()
		if err != nil {
			return fmt.Errorf("build api pipeline: %w", err)
		}

		corsOptions := server.DefaultCORSOptions(cfg.AllowedOrigins)
		r := server.NewRouter(server.RouterOptions{
			Logger:             logger,
			Metrics:            serverMetrics,
			MetricsHandler:     metricsHandler,
			CORSOptions:        &corsOptions,
			Middleware:         []func(http.Handler) http.Handler{tokens.BasicAuthShim},
			Browser:            browser,
			API:                api,
			ErrorHandler:       errorHandler,
			Sessions:           sessions,
			Authenticator:      authenticator,
			LogoutURL:          relyingParty.LogoutURL,
			PostLogoutRedirect: cfg.OIDC.PostLogoutRedirect,
			Directory:          dir,
			Tokens:             tokenStore,
			MaxTokenTTL:        cfg.Tokens.MaxTTL,
			ProtectedRoutes: func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					id, _ := identity.FromContext(r.Context())
					aiclmw.WriteJSON(w, http.StatusOK, id)
				})
			},
		})

		jobCtx, cancelJobs := context.WithCancel(ctx)
		defer cancelJobs()
		if cfg.Tokens.PruneInterval > 0 {
			go pruneTokens(jobCtx, tokenStore, cfg.Tokens.PruneInterval, cfg.Tokens.PruneGrace)
		}

		// Create HTTP server
		srv := &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Infow("starting server", "addr", cfg.ServerAddr, "url", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP drops every directory cache, e.g. after editing groups.
		cacheRefresh := make(chan os.Signal, 1)
		signal.Notify(cacheRefresh, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-cacheRefresh:
				logger.Infow("invalidating directory caches", "signal", sig.String())
				dir.InvalidateCaches()

			case sig := <-shutdown:
				logger.Infow("shutting down gracefully", "signal", sig.String())

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

// pruneTokens deletes dead API tokens every interval until ctx ends.
func pruneTokens(ctx context.Context, store *tokens.Store, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := store.Prune(ctx, grace)
			if err != nil {
				logger.Errorw("token prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Infow("pruned api tokens", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

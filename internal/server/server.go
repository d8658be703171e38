// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: storage, services, handlers, middleware and
// background workers are all constructed and wired here, so no other package
// needs to know how its dependencies are built.
//
//	config.Config → Server.New:
//	  sqlite.DB ──────────────┬─→ UserService ──┐
//	  sqlite.DB | redisstore ─┼─→ SessionService ┼─→ handlers → chi routes
//	  sqlite.DB ──────────────┴─→ PlanService ───┘
//	  SessionService → worker.SessionSweeper
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/fitness-coach/internal/auth"
	"github.com/sakif/fitness-coach/internal/config"
	"github.com/sakif/fitness-coach/internal/handler"
	"github.com/sakif/fitness-coach/internal/metrics"
	"github.com/sakif/fitness-coach/internal/middleware"
	"github.com/sakif/fitness-coach/internal/repository"
	"github.com/sakif/fitness-coach/internal/repository/redisstore"
	sqliteRepo "github.com/sakif/fitness-coach/internal/repository/sqlite"
	"github.com/sakif/fitness-coach/internal/service"
	"github.com/sakif/fitness-coach/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// Server owns every long-lived resource: the database, the optional Redis
// client, the rate limiter and the session sweeper. Start releases them on
// return.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	redis    *redisstore.SessionStore
	limiter  *middleware.RateLimiter
	sweeper  *worker.SessionSweeper
	registry *prometheus.Registry

	closeOnce sync.Once
}

// New opens the stores, builds the services and registers the routes.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}

	if err := s.setup(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setup() error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(s.registry)

	// === Session store ===
	var sessionRepo repository.SessionRepository = s.db
	checks := map[string]handler.Pinger{"sqlite": s.db}

	if s.config.SessionStore == config.StoreRedis {
		s.redis = redisstore.NewSessionStore(redisstore.NewClient(s.config.RedisAddr, s.config.RedisPassword))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", s.config.RedisAddr, err)
		}
		sessionRepo = s.redis
		checks["redis"] = s.redis
	}

	// === Auth ===
	var tokens *auth.TokenService
	if s.config.AuthEnabled() {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	} else {
		s.logger.Warn("JWT_SECRET not set, every public request is anonymous")
	}

	// === Services ===
	users := service.NewUserService(s.db, tokens, s.logger)
	sessions := service.NewSessionService(sessionRepo, rec, s.logger)
	plans := service.NewPlanService(s.db, s.db, rec, s.logger)

	s.sweeper = worker.NewSessionSweeper(sessions, s.config.SessionSweepInterval, s.logger)

	// === Global middleware ===
	// Order matters: the request id must exist before Logger reads it, and
	// RealIP must run before the rate limiter keys on the client address.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, rec))
	s.router.Use(chimiddleware.Recoverer)

	// === Operational routes ===
	healthHandler := handler.NewHealthHandler(checks, s.logger)
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.registry))

	// === Public routes ===
	var github handler.GitHubAuthenticator
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
	} else {
		s.logger.Warn("GitHub OAuth not configured, login routes disabled")
	}

	authHandler := handler.NewAuthHandler(github, users, s.config.TokenTTL, s.config.CookieSecure, s.logger)
	planHandler := handler.NewPlanHandler(plans, s.logger)
	sessionHandler := handler.NewSessionHandler(sessions, s.logger)

	s.router.Group(func(r chi.Router) {
		if tokens != nil {
			r.Use(auth.OptionalAuth(tokens))
		}

		r.Route("/auth", func(r chi.Router) {
			if github != nil {
				r.Get("/github/login", authHandler.HandleGitHubLogin)
				r.Get("/github/callback", authHandler.HandleGitHubCallback)
			}
			r.Post("/logout", authHandler.HandleLogout)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", authHandler.HandleMe)

			r.Get("/plans", planHandler.HandleList)
			r.Get("/plans/active", planHandler.HandleGetActive)
			r.Post("/plans", planHandler.HandleCreate)
			r.Patch("/plans/{id}", planHandler.HandleSetActive)
			r.Delete("/plans/{id}", planHandler.HandleDelete)

			r.Post("/voice/sessions", sessionHandler.HandleOpen)
			r.Delete("/voice/sessions", sessionHandler.HandleDeactivate)
		})
	})

	// === Integration routes ===
	if s.config.IntegrationKeyHash == "" {
		s.logger.Warn("INTEGRATION_KEY_HASH not set, integration routes disabled")
		return nil
	}

	verifier, err := auth.NewKeyVerifier(s.config.IntegrationKeyHash)
	if err != nil {
		return fmt.Errorf("loading integration key: %w", err)
	}
	s.limiter = middleware.NewRateLimiter(middleware.PerMinute(s.config.IntegrationRatePerMinute), s.logger)
	integrationHandler := handler.NewIntegrationHandler(sessions, plans, users, s.logger)

	s.router.Route("/integrations", func(r chi.Router) {
		// The limiter runs before the bcrypt key check.
		r.Use(s.limiter.Middleware)
		r.Use(auth.RequireIntegrationKey(verifier))

		r.Get("/voice/caller", integrationHandler.HandleResolveCaller)
		r.Post("/voice/plans", integrationHandler.HandleCreatePlan)
		r.Get("/voice/sessions", integrationHandler.HandleListSessions)
		r.Post("/voice/sessions/deactivate", integrationHandler.HandleDeactivate)
		r.Post("/maintenance/sessions/expire", integrationHandler.HandleExpireSessions)
		r.Post("/identity/events", integrationHandler.HandleIdentityEvent)
		r.Get("/users/{id}", integrationHandler.HandleGetUser)
	})

	return nil
}

// Start runs the HTTP server and the session sweeper until ctx is cancelled
// or one of them fails, then shuts down gracefully:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the stores
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("sessionStore", s.config.SessionStore),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func (s *Server) close() {
	s.closeOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				s.logger.Warn("closing redis", slog.String("error", err.Error()))
			}
		}
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", slog.String("error", err.Error()))
		}
	})
}

// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It connects handlers, middleware, and
// routes, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → New() creates:
//	  sqldb.DB ─────────────┬→ GenerationService → GenerateHandler
//	  inference.Generator ──┤
//	  cache (Redis or Nop) ─┼→ CreditService     → AccountHandler
//	                        └→ ImageService      → ImageHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/imagine/internal/auth"
	"github.com/sakif/imagine/internal/cache"
	"github.com/sakif/imagine/internal/config"
	"github.com/sakif/imagine/internal/handler"
	"github.com/sakif/imagine/internal/inference"
	"github.com/sakif/imagine/internal/metrics"
	"github.com/sakif/imagine/internal/middleware"
	"github.com/sakif/imagine/internal/repository/sqldb"
	"github.com/sakif/imagine/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database pool and, when configured, the Redis client.
// Both are closed by Close, which Start calls on the way out.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqldb.DB
	redis   *redis.Client // nil when Redis is not configured
	limiter *middleware.RateLimiter
	metrics *metrics.Metrics

	resolver  auth.Resolver
	generator inference.Generator
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*Server)

// WithResolver sets the token resolver instead of building one from
// cfg.Auth.
func WithResolver(r auth.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithGenerator sets the inference backend instead of building a Replicate
// client from cfg.Inference.
func WithGenerator(g inference.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithRedis uses an existing client instead of dialing cfg.Redis.URL.
func WithRedis(c *redis.Client) Option {
	return func(s *Server) { s.redis = c }
}

// New creates a new Server with the given config.
//
// The database is opened (and migrated) first, so a bad DSN fails before
// anything else is set up. Redis is optional: without it the credit cache is
// a no-op and Idempotency-Key headers are ignored.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// === CREATE DATABASE ===
	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.setupDependencies(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupDependencies(ctx context.Context) error {
	if s.resolver == nil {
		r, err := newResolver(s.config.Auth)
		if err != nil {
			return err
		}
		s.resolver = r
	}

	if s.generator == nil {
		g, err := inference.NewReplicateGenerator(inference.ReplicateConfig{
			Token:   s.config.Inference.Token,
			Model:   s.config.Inference.Model,
			BaseURL: s.config.Inference.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("creating inference client: %w", err)
		}
		s.logger.Info("inference backend configured", slog.String("model", g.Model()))
		s.generator = g
	}

	if s.redis == nil && s.config.Redis.URL != "" {
		c, err := cache.NewRedisClient(ctx, s.config.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		s.redis = c
	}

	if s.config.RateLimit.PerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.RateLimit.PerMinute, s.config.RateLimit.Burst, s.logger)
	}
	return nil
}

// newResolver prefers local JWT verification and falls back to asking the
// identity provider.
func newResolver(cfg config.AuthConfig) (auth.Resolver, error) {
	if !cfg.Enabled() {
		return nil, errors.New("no way to verify session tokens: set JWT_SECRET or SUPABASE_URL")
	}
	if cfg.JWTSecret != "" {
		ts, err := auth.NewTokenService(cfg.JWTSecret, auth.TokenOptions{
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("creating token service: %w", err)
		}
		return ts, nil
	}
	return auth.NewRemoteResolver(cfg.SupabaseURL, cfg.SupabaseAnonKey, nil), nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz            → Store ping (no auth)
// GET    /metrics            → Prometheus exposition (no auth)
// POST   /api/generate       → Spend a credit, generate images (rate limited)
// GET    /api/images         → List the caller's images
// GET    /api/images/{id}    → Get one image
// DELETE /api/images/{id}    → Delete one image
// GET    /api/credits        → Caller's balance
// GET    /api/me             → Caller's identity
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added:
//  1. RequestID: assigns a unique ID to each request (for tracing)
//  2. RealIP: extracts the real client IP from proxy headers
//  3. Recoverer: catches panics and returns 500 instead of crashing
//  4. Logger, then Metrics: see every request, including 401s and 429s
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(s.metrics.Middleware)

	var (
		credits     cache.CreditCache = cache.NopCreditCache{}
		idempotency cache.IdempotencyStore
	)
	if s.redis != nil {
		credits = cache.NewRedisCreditCache(s.redis, s.config.Redis.CreditTTL)
		idempotency = cache.NewRedisIdempotencyStore(s.redis, s.config.Redis.IdempotencyTTL)
	}

	// DEPENDENCY CHAIN:
	//   s.db implements all three repository interfaces
	//   services receive the interfaces, handlers receive the services
	generationService := service.NewGenerationService(s.db, s.db, s.generator, credits, s.metrics, s.logger, s.config.Inference.Timeout)
	imageService := service.NewImageService(s.db, s.logger)
	creditService := service.NewCreditService(s.db, credits, s.logger)

	generateHandler := handler.NewGenerateHandler(generationService, idempotency, s.logger)
	imageHandler := handler.NewImageHandler(imageService, s.logger)
	accountHandler := handler.NewAccountHandler(creditService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.resolver, s.config.Auth.CookieName, s.logger))

		r.Group(func(r chi.Router) {
			// The limiter keys on the user, so it must run after RequireAuth.
			if s.limiter != nil {
				r.Use(s.limiter.Handler)
			}
			r.Post("/generate", generateHandler.HandleGenerate)
		})

		r.Get("/images", imageHandler.HandleList)
		r.Get("/images/{id}", imageHandler.HandleGet)
		r.Delete("/images/{id}", imageHandler.HandleDelete)
		r.Get("/credits", accountHandler.HandleCredits)
		r.Get("/me", accountHandler.HandleMe)
	})
}

// Handler returns the router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Start starts the HTTP server and blocks until it stops.
//
// GRACEFUL SHUTDOWN:
// On SIGINT/SIGTERM, or when ctx is cancelled:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (ShutdownTimeout)
//  3. Close the database and Redis connections
//
// A generation in flight at shutdown still records its outcome: its
// compensating writes run on a context detached from the request.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.limiter != nil {
		go s.limiter.Run(ctx, time.Minute, 10*time.Minute)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Database.Driver),
			slog.Bool("redis", s.redis != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

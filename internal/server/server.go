// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: the store, the payment provider, the
// services and the handlers are all built in New and nowhere else. Each
// layer only receives what it needs:
//
//	config → store (sqlite | postgres | mongo | memory)
//	store  → LedgerService → EntitlementService
//	store  → Reconciler (+ ledger, catalog)
//	provider (paddle | stripe) → CheckoutService, WebhookHandler
//
// Handlers never touch the store directly, services never touch HTTP.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/billing"
	"github.com/sakif/resize-credits/internal/billing/paddle"
	"github.com/sakif/resize-credits/internal/billing/stripe"
	"github.com/sakif/resize-credits/internal/config"
	"github.com/sakif/resize-credits/internal/executor"
	"github.com/sakif/resize-credits/internal/handler"
	"github.com/sakif/resize-credits/internal/metrics"
	"github.com/sakif/resize-credits/internal/middleware"
	"github.com/sakif/resize-credits/internal/repository"
	"github.com/sakif/resize-credits/internal/repository/memory"
	mongoRepo "github.com/sakif/resize-credits/internal/repository/mongo"
	"github.com/sakif/resize-credits/internal/repository/postgres"
	sqliteRepo "github.com/sakif/resize-credits/internal/repository/sqlite"
	"github.com/sakif/resize-credits/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store connection and closes it on shutdown.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	store    repository.Store
	registry *prometheus.Registry
}

// New wires everything up. exec may be nil, /api/process then answers 503.
func New(cfg config.Config, logger *slog.Logger, exec executor.Executor) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    store,
		registry: prometheus.NewRegistry(),
	}

	if err := s.setupRoutes(exec); err != nil {
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openStore picks the backend named by STORE_DRIVER.
func openStore(ctx context.Context, cfg config.StoreConfig) (repository.Store, error) {
	var (
		store repository.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		var db *sqliteRepo.DB
		if db, err = sqliteRepo.New(cfg.SQLitePath); err == nil {
			store = db
		}
	case config.DriverPostgres:
		var db *postgres.DB
		if db, err = postgres.New(ctx, cfg.PostgresDSN, postgres.PoolConfig{}); err == nil {
			store = db
		}
	case config.DriverMongo:
		var db *mongoRepo.Store
		if db, err = mongoRepo.New(ctx, cfg.MongoURI, cfg.MongoDatabase); err == nil {
			store = db
		}
	case config.DriverMemory:
		store = memory.New()
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	return store, err
}

// newProvider builds the configured payment provider.
func newProvider(cfg config.BillingConfig) (billing.Provider, error) {
	switch cfg.Provider {
	case config.ProviderPaddle:
		c, err := paddle.New(paddle.Config{
			APIKey:        cfg.APIKey,
			WebhookSecret: cfg.WebhookSecret,
			Sandbox:       cfg.Sandbox,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderStripe:
		c, err := stripe.New(stripe.Config{
			SecretKey:     cfg.APIKey,
			WebhookSecret: cfg.WebhookSecret,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// oauthProviders returns the login providers that have credentials.
func oauthProviders(cfg config.Config) []auth.Provider {
	var out []auth.Provider
	if cfg.Auth.GitHubClientID != "" {
		out = append(out, auth.NewGitHubProvider(cfg.Auth.GitHubClientID, cfg.Auth.GitHubClientSecret,
			cfg.BaseURL+"/auth/github/callback"))
	}
	if cfg.Auth.GoogleClientID != "" {
		out = append(out, auth.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret,
			cfg.BaseURL+"/auth/google/callback"))
	}
	return out
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz                       store ping
//	GET  /metrics                       prometheus
//	GET  /auth/{provider}/login         OAuth redirect
//	GET  /auth/{provider}/callback      OAuth callback, sets the session
//	POST /auth/logout
//	POST /webhooks/{provider}           payment notifications (signed, no session)
//	GET  /api/plans
//	GET  /api/me                        session required from here on
//	GET  /api/credits
//	GET  /api/credits/history
//	POST /api/credits/charge
//	POST /api/checkout
//	POST /api/process
//
// MIDDLEWARE ORDER: RequestID → RealIP → Logger → Recoverer → CORS.
// Recoverer sits inside Logger so a panic is still logged as a 500.
func (s *Server) setupRoutes(exec executor.Executor) error {
	cfg := s.config
	debug := cfg.IsDevelopment()

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(cfg.AllowedOrigins))

	// === Metrics ===
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(s.registry)

	// === Auth ===
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if !debug {
			return errors.New("JWT_SECRET is required")
		}
		secret = "development-only-session-secret"
		s.logger.Warn("JWT_SECRET not set, using a development secret")
	}
	tokens, err := auth.NewTokenService(secret, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// === Services ===
	catalog, err := service.NewPlanCatalog(cfg.Billing.PriceIDs)
	if err != nil {
		return err
	}
	ledger := service.NewLedgerService(s.store, cfg.Credits.HistoryRetention, m, s.logger)
	entitlement := service.NewEntitlementService(ledger, s.store, s.logger)
	authService := service.NewAuthService(s.store, tokens, cfg.Credits.SignupCredits, s.logger)

	providers := oauthProviders(cfg)
	if len(providers) == 0 {
		s.logger.Warn("no OAuth provider configured, nobody can log in")
	}

	// === Handlers ===
	authHandler := handler.NewAuthHandler(providers, authService, tokens,
		handler.AuthOptions{SecureCookies: cfg.Auth.SecureCookies, Debug: debug}, s.logger)
	creditsHandler := handler.NewCreditsHandler(ledger, entitlement, debug, s.logger)
	processHandler := handler.NewProcessHandler(exec, entitlement, cfg.Credits.OperationCost, debug, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	// A deployment without payment keys still serves balances and the
	// catalog, it just cannot sell anything. Production must have them.
	var checkoutHandler *handler.CheckoutHandler
	provider, err := newProvider(cfg.Billing)
	switch {
	case err == nil:
		checkout := service.NewCheckoutService(provider, catalog, s.store, cfg.BaseURL, m, s.logger)
		checkoutHandler = handler.NewCheckoutHandler(catalog, checkout, debug, s.logger)
		reconciler := service.NewReconciler(s.store, ledger, catalog, m, s.logger)
		webhookHandler := handler.NewWebhookHandler(provider, reconciler, debug, s.logger)
		s.router.Post("/webhooks/{provider}", webhookHandler.HandleWebhook)
	case debug:
		s.logger.Warn("payment provider disabled", slog.String("error", err.Error()))
		checkoutHandler = handler.NewCheckoutHandler(catalog, nil, debug, s.logger)
	default:
		return fmt.Errorf("creating payment provider: %w", err)
	}

	// === Routes ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/{provider}/login", authHandler.HandleLogin)
		r.Get("/{provider}/callback", authHandler.HandleCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/plans", checkoutHandler.HandlePlans)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", authHandler.HandleMe)
			r.Get("/credits", creditsHandler.HandleBalance)
			r.Get("/credits/history", creditsHandler.HandleHistory)
			r.Post("/credits/charge", creditsHandler.HandleCharge)
			r.Post("/process", processHandler.HandleProcess)
			if provider != nil {
				r.Post("/checkout", checkoutHandler.HandleCheckout)
			}
		})
	})

	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (an image expansion can take a
//     while, so the grace period covers the inference timeout)
//  3. Close the store
func (s *Server) Start() error {
	defer s.Close()

	grace := s.config.Executor.Timeout + 15*time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      grace,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("env", s.config.Environment),
			slog.String("store", s.config.Store.Driver),
			slog.String("billing", s.config.Billing.Provider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KretovDmitry/ledger-service/internal/config"
	"github.com/KretovDmitry/ledger-service/internal/infrastructure/db/postgres"
	"github.com/KretovDmitry/ledger-service/internal/ledger"
	"github.com/KretovDmitry/ledger-service/internal/metrics"
	"github.com/KretovDmitry/ledger-service/internal/web"
	"github.com/KretovDmitry/ledger-service/pkg/accesslog"
	"github.com/KretovDmitry/ledger-service/pkg/limiter"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	"github.com/KretovDmitry/ledger-service/pkg/unzip"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	trmcontext "github.com/avito-tech/go-transaction-manager/trm/v2/context"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nanmu42/gzip"
)

// Version indicates the current version of the application.
var Version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Server run context.
	serverCtx, serverStopCtx := context.WithCancel(context.Background())
	defer serverStopCtx()

	// Load application configurations.
	cfg := config.MustLoad()

	// Create root logger tagged with server version.
	logger := logger.New(cfg).With(serverCtx, "version", Version)

	db, err := postgres.Connect(serverCtx, cfg, logger)
	if err != nil {
		return err
	}

	// Close connection.
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error(err)
		}
		_ = logger.Sync()
	}()

	// Apply pending migrations before the first query.
	if cfg.Migrate {
		if err = postgres.Migrate(cfg.DataSourceName(), logger); err != nil {
			return fmt.Errorf("failed to migrate the database: %w", err)
		}
	}

	// Create default transaction manager for database/sql package.
	trManager := manager.Must(
		trmsql.NewDefaultFactory(db),
		manager.WithCtxManager(trmcontext.DefaultManager),
	)

	// Init repository for ledger service.
	ledgerRepo, err := ledger.NewRepository(db, trmsql.DefaultCtxGetter, logger)
	if err != nil {
		return fmt.Errorf("failed to init ledger repository: %w", err)
	}

	// Init ledger service.
	ledgerService, err := ledger.NewService(ledgerRepo, trManager, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to init ledger service: %w", err)
	}

	metrics.Init()

	// Create root router.
	router := initRootRouter(cfg, logger)

	router.Get("/health", healthHandler(db))
	router.Handle("/metrics", metrics.Handler())

	policy := ledgerService.Policy()

	// Landing page and its assets.
	err = web.Register(router, web.Page{
		Title:              "Ledger",
		LimitPerWithdraw:   policy.LimitPerWithdraw().StringFixed(2),
		MaxWithdrawsPerDay: policy.MaxWithdrawsPerDay(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to init web pages: %w", err)
	}

	// Throttle mutating requests.
	var ledgerMiddlewares []ledger.MiddlewareFunc
	if cfg.RateLimit.Burst > 0 {
		rl := limiter.NewDynamicRateLimiter(cfg.RateLimit.Interval, cfg.RateLimit.Burst)
		defer rl.Close()
		ledgerMiddlewares = append(ledgerMiddlewares, rl.Middleware)
	}

	// Init handlers for ledger routes.
	ledger.HandlerWithOptions(ledger.NewController(ledgerService, logger), ledger.ChiServerOptions{
		BaseURL:          "/api",
		BaseRouter:       router,
		Middlewares:      ledgerMiddlewares,
		ErrorHandlerFunc: ledger.ErrorHandlerFunc,
	})

	// Build HTTP server.
	hs := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		ReadHeaderTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
		Handler:           router,
	}

	// Graceful shutdown.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT,
			syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)

		signal := <-sig

		logger.With(serverCtx, "signal", signal.String()).
			Infof("Shutting down server with %s timeout",
				cfg.HTTPServer.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(serverCtx, cfg.HTTPServer.ShutdownTimeout)
		defer cancel()

		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("graceful shutdown failed: %s", err)
		}
		serverStopCtx()
	}()

	// Start the HTTP server with graceful shutdown.
	logger.Infof("Server %v is running at %v", Version, cfg.HTTPServer.Address)
	if err = hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("run server failed: %w", err)
	}

	// Wait for server context to be stopped or force exit if timeout exceeded.
	select {
	case <-serverCtx.Done():
	case <-time.After(cfg.HTTPServer.ShutdownTimeout):
		return errors.New("graceful shutdown timed out.. forcing exit")
	}

	return nil
}

func initRootRouter(cfg *config.Config, logger logger.Logger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(accesslog.Handler(logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Encoding", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	router.Use(gzip.DefaultHandler().WrapHandler)
	router.Use(unzip.Middleware(logger))
	router.Use(metrics.HTTPMetrics)

	return router
}

// healthHandler reports whether the database is reachable.
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}

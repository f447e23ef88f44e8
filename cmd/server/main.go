package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portfolio_sync/internal/auth"
	"portfolio_sync/internal/backend"
	"portfolio_sync/internal/config"
	"portfolio_sync/internal/credentials"
	"portfolio_sync/internal/database"
	"portfolio_sync/internal/demo"
	"portfolio_sync/internal/handlers"
	"portfolio_sync/internal/logger"
	"portfolio_sync/internal/middleware"
	"portfolio_sync/internal/repository"
	"portfolio_sync/internal/scheduler"
	syncsvc "portfolio_sync/internal/sync"
)

// shutdownTimeout bounds graceful shutdown of the server and running jobs.
const shutdownTimeout = 30 * time.Second

// remote is what the server needs from the hosted backend or its demo stand-in.
type remote interface {
	syncsvc.Backend
	handlers.Connector
}

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		err = hashKey(os.Stdin, os.Stdout)
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "portfolio-sync: %v\n", err)
		os.Exit(1)
	}
}

// hashKey reads an API key from the first line of in and writes its bcrypt
// hash, the value API_KEY_HASH expects.
func hashKey(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return errors.New("no key given on stdin")
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	// Initialize database
	db, err := database.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("Database migrations completed", zap.String("path", cfg.DBPath))

	// Create repositories
	portfolioRepo := repository.NewPortfolioRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	holdingRepo := repository.NewHoldingRepository(db)
	syncHistoryRepo := repository.NewSyncHistoryRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	valueHistoryRepo := repository.NewValueHistoryRepository(db)

	encryptor, err := credentials.NewEncryptor(cfg.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	tokens := credentials.NewStore(credentialRepo, encryptor)

	ctx := context.Background()
	if cfg.BackendToken != "" {
		if err := tokens.SetToken(ctx, cfg.BackendToken); err != nil {
			return fmt.Errorf("storing backend token: %w", err)
		}
		log.Info("Backend token loaded from configuration")
	}

	guard, err := auth.NewGuard(cfg.APIKeyHash)
	if err != nil {
		return fmt.Errorf("configuring api key: %w", err)
	}
	if guard == nil {
		log.Warn("API_KEY_HASH is not set, mutating routes are unauthenticated")
	}

	var client remote
	if cfg.DemoMode {
		log.Info("Demo mode enabled, using in-memory backend")
		client = demo.NewBackend(log)
	} else {
		client, err = backend.NewClient(backend.Config{
			BaseURL: cfg.BackendURL,
			Timeout: cfg.BackendTimeout,
			RPS:     cfg.BackendRPS,
			Burst:   cfg.BackendBurst,
			Breaker: backend.BreakerConfig{
				MaxRequests: backend.DefaultBreakerConfig().MaxRequests,
				Interval:    cfg.BreakerInterval,
				Timeout:     cfg.BreakerTimeout,
			},
		}, tokens, log)
		if err != nil {
			return fmt.Errorf("creating backend client: %w", err)
		}
	}

	// Create sync service
	syncService := syncsvc.NewService(
		client,
		syncsvc.NewReconciler(db, log),
		syncsvc.NewPriceRefresher(db, client, log),
		syncHistoryRepo,
		syncsvc.NewValueRecorder(db, log),
		cfg.SyncCooldown,
		log,
	)

	if err := syncService.RestoreCooldown(ctx); err != nil {
		return fmt.Errorf("restoring sync state: %w", err)
	}

	// Fill the store once so the API has something to show. Inside the cooldown
	// the store already holds the previous run's data.
	if cfg.DemoMode {
		if _, err := syncService.RefreshAll(ctx); err != nil && !errors.Is(err, syncsvc.ErrCooldown) {
			return fmt.Errorf("seeding demo data: %w", err)
		}
	}

	sched := scheduler.New(log, cfg.JobTimeout)
	if err := scheduler.RegisterSyncJobs(sched, syncService, cfg.SyncSchedule, cfg.PriceSchedule, log); err != nil {
		return fmt.Errorf("registering jobs: %w", err)
	}
	sched.Start()
	log.Info("Scheduler started", zap.Strings("jobs", sched.Jobs()))

	apiLimiter := middleware.NewAPILimiter()
	defer apiLimiter.Close()
	syncLimiter := middleware.NewSyncLimiter()
	defer syncLimiter.Close()

	deps := handlers.NewDependencies(log).
		WithDB(db).
		WithRepositories(portfolioRepo, accountRepo, holdingRepo, syncHistoryRepo).
		WithValueHistory(valueHistoryRepo).
		WithSyncer(syncService).
		WithConnector(client).
		WithTokens(tokens).
		WithGuard(guard).
		WithLimiters(apiLimiter, syncLimiter)

	// Create server
	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handlers.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.JobTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", "http://"+cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			sched.Stop(ctx)
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

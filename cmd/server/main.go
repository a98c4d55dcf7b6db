package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/handlers"
	"usergate/internal/logger"
	"usergate/internal/metrics"
	"usergate/internal/ratelimit"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/service"
)

// memoryStoreSize bounds the number of limiter keys kept by the memory backend
const memoryStoreSize = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.Setup(cfg.Debug, cfg.LogFile)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	startup := handlers.NewStartupStatus(handlers.StepDatabase, handlers.StepMigrations, handlers.StepServices, handlers.StepWorkers)

	// Serve readiness while the database comes up
	addr := ":" + cfg.ServerPort
	router := &swappableHandler{}
	router.Set(startup.RequireReadyExcept(startup, "/healthz"))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	startup.SetCurrentStep(handlers.StepDatabase)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	startup.CompleteStep(handlers.StepDatabase)
	log.Info().Str("type", cfg.DatabaseType).Msg("Database connection established")

	startup.SetCurrentStep(handlers.StepMigrations)
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	startup.CompleteStep(handlers.StepMigrations)
	log.Info().Msg("Migrations completed successfully")

	startup.SetCurrentStep(handlers.StepServices)
	var store ratelimit.Store
	switch cfg.RatelimitBackend {
	case "memory":
		store = ratelimit.NewMemoryStore(memoryStoreSize, ratelimit.MaxInterval(cfg))
	default:
		store = repository.NewRatelimitRepository(db)
	}
	limits := ratelimit.NewSet(cfg, store)

	issuer, err := security.NewTokenIssuer(cfg.SessionSecret, cfg.SessionDuration)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SESSION_SECRET")
	}
	mailer, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize email service")
	}

	directory := service.NewDirectoryService(db, cfg)
	authService := service.NewAuthService(db, cfg, limits, issuer)
	selfservice := service.NewSelfserviceService(db, cfg, limits, mailer)
	signupService := service.NewSignupService(db, cfg, directory, limits, mailer)
	inviteService := service.NewInviteService(db, cfg)
	mfaService := service.NewMFAService(db, cfg)
	mailService := service.NewMailService(db, cfg)
	cleanup := service.NewCleanupService(db, cfg, store)

	clients := security.NewClientLimiter(cfg.HTTPRatePerSecond, cfg.HTTPBurst)
	middleware := handlers.NewMiddleware(authService, cfg, clients)
	router.Set(handlers.NewRouter(handlers.Handlers{
		Middleware:  middleware,
		Auth:        handlers.NewAuthHandler(authService, middleware),
		API:         handlers.NewAPIHandler(directory, authService, mailService),
		Signup:      handlers.NewSignupHandler(signupService, middleware),
		Invite:      handlers.NewInviteHandler(inviteService),
		Selfservice: handlers.NewSelfserviceHandler(selfservice, middleware),
		Admin:       handlers.NewAdminHandler(directory, selfservice),
		MFA:         handlers.NewMFAHandler(mfaService),
		Mail:        handlers.NewMailHandler(mailService),
		Startup:     startup,
	}, log))
	startup.CompleteStep(handlers.StepServices)

	startup.SetCurrentStep(handlers.StepWorkers)
	go cleanup.Run(ctx, cfg.CleanupInterval)
	go sweepClients(ctx, clients)
	startup.CompleteStep(handlers.StepWorkers)
	startup.MarkReady()
	log.Info().Msg("Server ready")

	<-ctx.Done()
	log.Info().Msg("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// sweepClients drops idle per-client HTTP limiters
func sweepClients(ctx context.Context, clients *security.ClientLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := clients.Sweep(now); n > 0 {
				zerolog.Ctx(ctx).Debug().Int("removed", n).Msg("Idle HTTP clients swept")
			}
		}
	}
}

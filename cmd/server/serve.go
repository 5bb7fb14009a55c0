package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signage/screen-pairing-server/internal/config"
	"github.com/signage/screen-pairing-server/internal/database"
	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/handler"
	"github.com/signage/screen-pairing-server/internal/jobs"
	"github.com/signage/screen-pairing-server/internal/metrics"
	"github.com/signage/screen-pairing-server/internal/middleware"
	"github.com/signage/screen-pairing-server/internal/redis"
	"github.com/signage/screen-pairing-server/internal/repository"
	"github.com/signage/screen-pairing-server/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and housekeeping jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// connect opens and pings the database and Redis.
func connect(ctx context.Context, cfg *config.Config) (*database.DB, *redis.Client, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info().Msg("redis connected")

	return db, redisClient, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, redisClient, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer redisClient.Close()

	store := repository.NewStore(db)
	publisher := events.NewPublisher(redisClient, cfg.EventSource)

	pairingService := service.NewPairingService(store, publisher, cfg.PairingCodeTTL(), nil)
	presenceService := service.NewPresenceService(store, cfg.StalenessWindow(), nil)
	controlService := service.NewControlService(store, publisher, cfg.StalenessWindow(), nil)
	reconciler := service.NewReconciler(store, publisher, cfg.OrphanGrace(), nil)

	scheduler := jobs.NewScheduler()
	if err := scheduler.Add(cfg.CleanupSchedule, jobs.NewCleanupJob(
		store.PairingCodes(), store.Heartbeats(), config.ExpiredCodeRetention, cfg.HeartbeatRetention(), nil,
	)); err != nil {
		return err
	}
	if err := scheduler.Add(cfg.ReconcileSchedule, jobs.NewReconcileJob(reconciler)); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	authMiddleware := middleware.NewAuthMiddleware(store.Accounts())
	deviceAuthMiddleware := middleware.NewDeviceAuthMiddleware(store.Devices(), cfg.DeviceTokenCacheTTL())
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	claimLimitMiddleware := middleware.NewIPRateLimitMiddleware(cfg.ClaimRatePerSec, cfg.ClaimRateBurst, "claim")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction())

	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Mount("/", handler.Routes(
		handler.NewPairingHandler(pairingService, presenceService),
		handler.NewDeviceHandler(presenceService, controlService),
		handler.Middlewares{
			AccountAuth:  authMiddleware.Handler,
			AccountLimit: rateLimitMiddleware.Handler,
			DeviceAuth:   deviceAuthMiddleware.Handler,
			ClaimLimit:   claimLimitMiddleware.Handler,
		},
	))

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

package app

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

	"github.com/aussiebroadwan/handshake/internal/handshake/blob"
	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	httpapi "github.com/aussiebroadwan/handshake/internal/handshake/http"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/internal/handshake/store/drivers/sqlite"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/httpx"
	"github.com/aussiebroadwan/handshake/pkg/obs"
	"github.com/aussiebroadwan/handshake/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags "-X ...BuildVersion=".
var BuildVersion = "v0.1.0"

// tokenAudience is the aud claim of acceptance tokens.
const tokenAudience = "handshake"

// Application encapsulates the handshake service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      *sqlite.Store
	blobs   blob.Store
	keys    *Keys
	metrics *obs.Metrics

	// Services
	orchestrator        *service.Orchestrator
	delivery            *service.DeliveryWorker
	profileService      *service.ProfileService
	uploadService       *service.UploadService
	streamHub           *service.StreamHub
	tokenService        *service.TokenService
	keyRotationService  *service.KeyRotationService
	watchdogService     *service.WatchdogService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "handshake",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: obs.New(),
	}
	app.metrics.SetBuildInfo(BuildVersion)

	// Rate limit buckets key on the peer unless it is a listed proxy
	proxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid HANDSHAKE_TRUSTED_PROXIES: %w", err)
	}

	mk, ephemeral, err := cryptox.LoadMasterKey(cfg.MasterKeyFile)
	if err != nil {
		return nil, err
	}

	// Initialize database first (signing keys live in it)
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	blobs, err := blob.New(blob.Config{
		Backend:    cfg.BlobBackend,
		Dir:        cfg.BlobDir,
		S3Bucket:   cfg.S3Bucket,
		S3Region:   cfg.S3Region,
		S3Endpoint: cfg.S3Endpoint,
		S3Prefix:   cfg.S3Prefix,
	}, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	app.blobs = blobs
	app.logger.Info("blob store ready", "backend", blobs.Name())

	keys, err := InitSigningKeys(context.Background(), cfg, app.db, mk, ephemeral, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keys = keys

	if err := app.initServices(mk); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP(proxies)

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Purge spool files a previous process left behind
	ctx := slogx.WithContext(context.Background(), app.logger)
	if n, err := app.uploadService.PurgeSpool(ctx); err != nil {
		app.logger.Warn("spool purge failed", "error", err)
	} else if n > 0 {
		app.logger.Info("orphaned spool files removed", "count", n)
	}

	// Start background services
	app.keyRotationService.Start()
	app.streamHub.Start()
	app.watchdogService.Start()
	app.housekeepingService.Start()

	app.logger.Info("handshake service starting",
		"port", app.cfg.Port,
		"public_url", app.cfg.publicURL(),
		"version", BuildVersion,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.stopServices()
			_ = app.db.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down handshake service...")

	// Report not-ready so load balancers stop routing new applicants
	app.router.Draining.Store(true)

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Event streams never finish on their own
	app.streamHub.Stop()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.stopServices()

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("handshake service stopped")
	return nil
}

func (app *Application) stopServices() {
	app.streamHub.Stop()
	app.delivery.Stop()
	app.watchdogService.Stop()
	app.housekeepingService.Stop()
	app.keyRotationService.Stop()
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices(mk cryptox.MasterKey) error {
	clock := service.Clock(time.Now)

	if err := os.MkdirAll(app.cfg.SpoolDir, 0o700); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	challenges := &service.ChallengeIssuer{
		MasterKey:   mk,
		TTL:         app.cfg.ChallengeTTL,
		MaxAttempts: app.cfg.ChallengeMaxAttempts,
	}
	audit := &service.AuditTrail{Store: app.db, Clock: clock}

	app.orchestrator = &service.Orchestrator{
		Store:      app.db,
		Challenges: challenges,
		Audit:      audit,
		Observer:   app.metrics,
		Cooldown:   app.cfg.StageCooldown,
		Clock:      clock,
	}
	app.delivery = &service.DeliveryWorker{
		Store:      app.db,
		Challenges: challenges,
		Logger:     app.logger,
		Clock:      clock,
		OnExpired: func(ctx context.Context, ch domain.Challenge) {
			if err := app.orchestrator.ExpireChallenge(ctx, ch); err != nil {
				app.logger.Error("failed to expire undelivered challenge",
					"challenge_id", ch.ID,
					"error", err,
				)
			}
		},
	}
	app.orchestrator.Delivery = app.delivery

	limiter := httpx.NewKeyedLimiter(httpx.RateLimitConfig{
		RequestsPerWindow: 1,
		Window:            app.cfg.ProfileRateInterval,
		Burst:             app.cfg.ProfileRateBurst,
	})
	app.profileService = &service.ProfileService{
		Orchestrator: app.orchestrator,
		Store:        app.db,
		Guard:        &service.IdempotencyGuard{Store: app.db, Clock: clock},
		Limiter:      limiter,
		Clock:        clock,
	}

	app.uploadService = &service.UploadService{
		Orchestrator: app.orchestrator,
		Store:        app.db,
		Blobs:        app.blobs,
		SigningKey:   mk.Derive(nil, "handshake/upload-url"),
		SpoolDir:     app.cfg.SpoolDir,
		PublicURL:    app.cfg.publicURL(),
		MaxBytes:     app.cfg.UploadMaxBytes,
		StallTimeout: app.cfg.UploadStallTimeout,
		URLTTL:       app.cfg.UploadURLTTL,
		Clock:        clock,
	}

	app.tokenService = &service.TokenService{
		Orchestrator: app.orchestrator,
		Store:        app.db,
		Rotator:      app.keys.Rotator,
		Verifier:     app.keys.Verifier,
		Issuer:       app.cfg.Issuer,
		Audience:     []string{tokenAudience},
		TTL:          app.cfg.TokenTTL,
		Clock:        clock,
	}

	app.streamHub = &service.StreamHub{
		Orchestrator: app.orchestrator,
		Store:        app.db,
		Tokens:       app.tokenService,
		Observer:     app.metrics,
		Logger:       app.logger,
		Config: service.StreamConfig{
			Budget:         app.cfg.StreamBudget,
			Batch:          app.cfg.StreamBatch,
			Window:         app.cfg.StreamWindow,
			AckGrace:       app.cfg.StreamAckGrace,
			ReconnectGrace: app.cfg.StreamReconnectGrace,
		},
		Clock: clock,
	}

	// Failed stages release what they hold in memory and on disk
	app.orchestrator.OnReset(app.uploadService.Release)
	app.orchestrator.OnReset(app.streamHub.Release)
	app.orchestrator.OnEnter(app.streamHub.Expect)

	app.keyRotationService = service.NewKeyRotationService(
		app.keys.Rotator,
		app.keys.Cache,
		app.logger,
		rotationInterval(app.cfg.KeyOverlap),
	)
	app.watchdogService = service.NewWatchdogService(
		app.orchestrator,
		app.uploadService,
		app.logger,
		app.cfg.WatchdogInterval,
	)
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.uploadService,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// rotationInterval ticks often enough that a successor is always minted
// well inside the overlap.
func rotationInterval(overlap time.Duration) time.Duration {
	return max(overlap/4, time.Second)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP(proxies httpx.TrustedProxies) {
	router := httpapi.NewRouter(
		BuildVersion,
		app.db,
		app.orchestrator.Audit,
		app.metrics,
		app.logger,
	)

	// Wire services to router
	router.Orchestrator = app.orchestrator
	router.Profiles = app.profileService
	router.Uploads = app.uploadService
	router.Streams = app.streamHub
	router.Tokens = app.tokenService
	router.Rotator = app.keys.Rotator
	router.TrustedProxies = proxies
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server. WriteTimeout stays unset: the event stream
	// clears its own deadline and uploads are bounded by the stall timeout.
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/runewick/worldsmith/warden/audit"
	"github.com/runewick/worldsmith/warden/config"
	"github.com/runewick/worldsmith/warden/gateway"
	"github.com/runewick/worldsmith/warden/gateway/access"
	"github.com/runewick/worldsmith/warden/instances"
	"github.com/runewick/worldsmith/warden/snapshots"
)

func main() {
	var gw *gateway.Gateway // Declared here for access in the shutdown handler

	// 1. Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	logger.Info("Starting Worldsmith platform")

	// 2. Load configuration and the engine profile
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	profile, err := config.LoadEngineProfile(cfg.EngineProfilePath)
	if err != nil {
		logger.Error("Failed to load engine profile", "error", err)
		os.Exit(1)
	}
	logger.Info("Engine profile loaded", "bin", profile.Bin, "healthPath", profile.HealthPath)

	if err := os.MkdirAll(cfg.DataRoot, 0755); err != nil {
		logger.Error("Failed to create data root", "path", cfg.DataRoot, "error", err)
		os.Exit(1)
	}

	// 3. Open the platform database and build the snapshot and audit layers
	db := sqlx.MustConnect("sqlite3", cfg.DatabasePath)

	store, err := snapshots.NewStore(db)
	if err != nil {
		logger.Error("Failed to initialize snapshot store", "error", err)
		os.Exit(1)
	}

	archiver, err := snapshots.NewArchiver(cfg.SnapshotDir)
	if err != nil {
		logger.Error("Failed to initialize snapshot archiver", "error", err)
		os.Exit(1)
	}

	auditLogger, err := audit.NewLogger(db)
	if err != nil {
		logger.Error("Failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	logger.Info("Audit logger initialized")

	// 4. Credentials: signing key for service tokens and the internal secret
	secretKey, err := access.LoadSecretKey(cfg.SecretKeyPath)
	if err != nil {
		logger.Error("Failed to load secret key", "path", cfg.SecretKeyPath, "error", err)
		os.Exit(1)
	}
	tokens := access.NewTokenService(secretKey, cfg.ServiceTokenTTL)

	internalSecret := cfg.InternalSecret
	if internalSecret == "" {
		// Without a configured secret nothing could authenticate, so mint one
		// for this run and tell the operator.
		internalSecret = uuid.New().String()
		logger.Info("Generated internal secret for this run", "secret", internalSecret)
	}

	// 5. Port allocators and the instance registry
	gamePorts, err := instances.NewPortAllocator(cfg.GamePortMin, cfg.GamePortMax)
	if err != nil {
		logger.Error("Failed to create game port allocator", "error", err)
		os.Exit(1)
	}
	apiPorts, err := instances.NewPortAllocator(cfg.APIPortMin, cfg.APIPortMax)
	if err != nil {
		logger.Error("Failed to create api port allocator", "error", err)
		os.Exit(1)
	}

	registry := instances.NewRegistry(instances.RegistryConfig{
		Store:    store,
		Archiver: archiver,
		Audit:    auditLogger,
		Launcher: &instances.Launcher{
			Bin:        profile.Bin,
			BaseArgs:   profile.BaseArgs,
			Env:        profile.Env,
			HealthPath: profile.HealthPath,
			WorkDir:    profile.WorkDir,
			StorageDSN: cfg.StorageDSN,
		},
		Prober: instances.Prober{
			Interval:       cfg.ProbeInterval,
			RequestTimeout: cfg.ProbeRequestTimeout,
			BootTimeout:    cfg.BootTimeout,
			FailFast:       cfg.ProbeFailFast,
		},
		Defaults: instances.InstanceDefaults{
			DataRoot:      cfg.DataRoot,
			HostName:      cfg.ExternalHost,
			LicenseKey:    cfg.LicenseKey,
			AdminPassword: cfg.AdminPassword,
		},
		GamePorts: gamePorts,
		APIPorts:  apiPorts,
		StopGrace: cfg.StopGracePeriod,
		Logger:    logger,
	})

	// 6. Reconcile snapshot records left behind by an unclean shutdown before
	// accepting any traffic.
	resetWorlds, err := registry.Reconcile()
	if err != nil {
		logger.Error("Failed to reconcile snapshot records", "error", err)
		os.Exit(1)
	}
	if len(resetWorlds) > 0 {
		logger.Info("Reconciled orphaned worlds", "count", len(resetWorlds), "worldIds", resetWorlds)
	}

	// 7. Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, initiating graceful shutdown...", "signal", sig.String())

		if gw != nil {
			logger.Info("Attempting to stop gateway server...")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := gw.Stop(stopCtx); err != nil {
				logger.Error("Error stopping gateway server", "error", err)
			} else {
				logger.Info("Gateway server stopped gracefully.")
			}
			stopCancel()
		} else {
			logger.Info("Gateway was not initialized, skipping stop.")
		}

		// Draining instances saves every live world back to storage, so give
		// it a generous deadline.
		logger.Info("Stopping all engine instances...")
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		registry.StopAll(drainCtx)
		drainCancel()
		logger.Info("All engine instances stopped.")

		cancel()
	}()

	// 8. Build and start the gateway
	gw = gateway.New(gateway.Config{
		ListenAddr:     cfg.ListenAddr,
		CertFile:       cfg.CertFile,
		KeyFile:        cfg.KeyFile,
		InternalSecret: internalSecret,
		Tokens:         tokens,
		Registry:       registry,
		Logger:         logger,
	})

	contextFn := func(_ net.Listener) context.Context {
		return ctx
	}

	go func() {
		logger.Info("Starting gateway server...", "address", cfg.ListenAddr)
		if err := gw.Start(contextFn); err != nil && err != http.ErrServerClosed {
			logger.Error("Gateway server failed to start or unexpectedly stopped", "error", err)
			sigChan <- syscall.SIGTERM
		} else if err == http.ErrServerClosed {
			logger.Info("Gateway server closed.")
		}
	}()

	logger.Info("Worldsmith platform is running. Press Ctrl+C to exit.")
	<-ctx.Done()

	logger.Info("Worldsmith components have completed their shutdown sequence. Exiting main.")
}

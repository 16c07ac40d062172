// Package main is the entrypoint for the trapfleet claim and credential server.
package main

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

	"github.com/kiranshivaraju/trapfleet/internal/api"
	"github.com/kiranshivaraju/trapfleet/internal/api/handler"
	mw "github.com/kiranshivaraju/trapfleet/internal/api/middleware"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/cache"
	"github.com/kiranshivaraju/trapfleet/internal/claim"
	"github.com/kiranshivaraju/trapfleet/internal/config"
	"github.com/kiranshivaraju/trapfleet/internal/credstore"
	"github.com/kiranshivaraju/trapfleet/internal/lifecycle"
	"github.com/kiranshivaraju/trapfleet/internal/mqtt"
	"github.com/kiranshivaraju/trapfleet/internal/revocation"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "revocation_store", cfg.Revocation.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect to the MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer mqttClient.Close()
	slog.Info("mqtt connected", "broker", cfg.MQTT.BrokerURL)

	pgStore := store.NewPostgresStore(pool)

	// 6. Broker credential store
	coordinator := credstore.NewCoordinator(
		credstore.NewPasswordFile(cfg.Broker.PasswordFile),
		brokerReloader(cfg.Broker),
		cfg.Broker.ReloadDebounce,
	)
	coordinator.Start()
	defer coordinator.Close()

	if cfg.Broker.ResyncOnStart {
		synced, removed, err := resyncBroker(ctx, pgStore, coordinator)
		if err != nil {
			return fmt.Errorf("resync broker credentials: %w", err)
		}
		slog.Info("broker credentials resynced", "devices", synced, "removed", removed)
	}

	// 7. Revocation tokens
	revokes, closeRevokes := newRevocationStore(cfg.Revocation, redisCache)
	defer closeRevokes()

	// 8. Device presence
	tracker := mqtt.NewPresenceTracker(pgStore)
	if err := mqttClient.Subscribe(mqtt.StatusSubscription, tracker.HandleStatus); err != nil {
		return fmt.Errorf("subscribe device status: %w", err)
	}

	// 9. Services
	notifier := mqtt.NewDeviceNotifier(mqttClient)
	tokens := auth.NewTokenIssuer(cfg.Auth)
	claimSvc := claim.NewService(pgStore, coordinator, notifier, tokens, cfg.Claim)
	lifecycleSvc := lifecycle.NewService(pgStore, coordinator, revokes, notifier)
	authSvc := auth.NewService(pgStore, tokens)

	// 10. Build router with dependencies
	deps := api.Dependencies{
		Auth:            mw.NewAuth(tokens, pgStore, cfg.Claim.MasterTenantID),
		DeviceRateLimit: mw.NewRateLimit(redisCache, "device", cfg.RateLimit.DeviceRequestsPerMinute),
		CORSOrigins:     cfg.CORS.AllowedOrigins,
		TrustProxy:      cfg.Server.TrustProxyHeaders,

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": pgStore,
			"cache":    redisCache,
			"mqtt":     mqttClient,
		}),
		MetricsHandler: promhttp.Handler(),

		LoginHandler:   handler.NewLoginHandler(authSvc),
		RefreshHandler: handler.NewRefreshHandler(authSvc),

		ClaimByCodeHandler:      handler.NewClaimByCodeHandler(claimSvc),
		CheckClaimHandler:       handler.NewCheckClaimHandler(claimSvc),
		ClaimStatusHandler:      handler.NewClaimStatusHandler(claimSvc),
		UnclaimNotifyHandler:    handler.NewUnclaimNotifyHandler(lifecycleSvc),
		ClaimingModeHandler:     handler.NewClaimingModeHandler(claimSvc),
		VerifyRevocationHandler: handler.NewVerifyRevocationHandler(lifecycleSvc),
		SelfRegisterHandler:     handler.NewSelfRegisterHandler(claimSvc),
		RecoverClaimHandler:     handler.NewRecoverClaimHandler(claimSvc),

		IssueClaimCodeHandler:    handler.NewIssueClaimCodeHandler(claimSvc),
		ListClaimingQueueHandler: handler.NewListClaimingQueueHandler(claimSvc),
		UnclaimHandler:           handler.NewUnclaimHandler(lifecycleSvc),
		MoveHandler:              handler.NewMoveHandler(lifecycleSvc),
	}

	router := api.NewRouter(deps)

	// 11. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// brokerReloader signals the broker when a pid file is configured. Without one the broker is
// expected to watch its password file itself.
func brokerReloader(cfg config.BrokerConfig) credstore.Reloader {
	if cfg.PIDFile == "" {
		return credstore.NopReloader{}
	}
	return credstore.SignalReloader{PIDFile: cfg.PIDFile}
}

// newRevocationStore returns the configured token store and a func that releases it.
func newRevocationStore(cfg config.RevocationConfig, c cache.Cache) (revocation.Store, func()) {
	if cfg.Store == "redis" {
		return revocation.NewCacheStore(c), func() {}
	}
	m := revocation.NewMemoryStore()
	m.Start()
	return m, m.Close
}

type liveDeviceLister interface {
	ListLiveDevices(ctx context.Context) ([]*models.Device, error)
}

type brokerResyncer interface {
	Resync(ctx context.Context, creds []credstore.Credential, keep func(username string) bool) ([]string, error)
}

// resyncBroker writes the live devices into the broker password file and removes device
// accounts that no live row owns. It returns the number of accounts written and removed.
func resyncBroker(ctx context.Context, l liveDeviceLister, s brokerResyncer) (int, int, error) {
	devices, err := l.ListLiveDevices(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list live devices: %w", err)
	}

	live := make(map[string]bool, len(devices))
	creds := make([]credstore.Credential, 0, len(devices))
	for _, d := range devices {
		live[d.MQTTUsername] = true
		if d.MQTTPassword == "" {
			slog.Warn("live device has no stored broker password, skipping", "device_id", d.ID, "client_id", d.MQTTClientID)
			continue
		}
		creds = append(creds, credstore.Credential{Username: d.MQTTUsername, Password: d.MQTTPassword})
	}

	removed, err := s.Resync(ctx, creds, func(username string) bool { return live[username] })
	if err != nil {
		return 0, 0, err
	}
	for _, name := range removed {
		slog.Info("removed stale broker account", "client_id", name)
	}
	return len(creds), len(removed), nil
}

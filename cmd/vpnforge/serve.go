package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	vfhttp "github.com/Strob0t/VPNForge/internal/adapter/http"
	vfotel "github.com/Strob0t/VPNForge/internal/adapter/otel"
	"github.com/Strob0t/VPNForge/internal/adapter/postgres"
	"github.com/Strob0t/VPNForge/internal/adapter/prometheus"
	"github.com/Strob0t/VPNForge/internal/adapter/ws"
	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/middleware"
	"github.com/Strob0t/VPNForge/internal/secrets"
)

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"image", cfg.Docker.Image,
		"nats", cfg.NATS.URL != "",
		"geoip", cfg.GeoIP.Enabled,
	)

	// --- Telemetry ---

	shutdownOTEL, err := vfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := vfotel.NewMetrics()
	if err != nil {
		slog.Warn("otel metrics unavailable", "error", err)
		metrics = nil
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	a, err := newApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	collector := prometheus.New()
	a.tenants.SetSessionObserver(collector)
	a.sessions.SetSessionObserver(collector)

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	a.events.SetBroadcaster(hub)

	// --- Background work ---

	go a.sessions.Run(ctx)
	if a.queue != nil {
		cancelRefresh, err := a.sessions.Subscribe(ctx, a.queue)
		if err != nil {
			return fmt.Errorf("refresh subscriber: %w", err)
		}
		defer cancelRefresh()
	}

	// --- HTTP ---

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.APIKeyHash))
	if err != nil {
		return err
	}
	keyHash := func(v *secrets.Vault) string {
		if h := v.Get(secrets.APIKeyHash); h != "" {
			return h
		}
		return cfg.Auth.APIKeyHash
	}
	auth := middleware.NewAPIKeyAuth(keyHash(vault))
	if !auth.Enabled() {
		slog.Warn("auth.api_key_hash is empty, the admin API is unauthenticated")
	}
	vault.OnReload(func(v *secrets.Vault) {
		auth.SetHash(keyHash(v))
		slog.Info("api key hash reloaded", "auth_enabled", auth.Enabled())
	})
	go reloadOnHangup(ctx, vault)
	limiter := middleware.NewMutationLimiter(cfg.Server.MutationRate, cfg.Server.MutationBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(vfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(vfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(vfhttp.SecurityHeaders)
	r.Use(vfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(auth.Handler)
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(a.cache, cfg.Server.IdempotencyTTL))

	vfhttp.MountRoutes(r, &vfhttp.Handlers{
		Tenants:      a.tenants,
		Certificates: a.certs,
		Sessions:     a.sessions,
		Events:       a.events,
		DB:           a.store,
		Metrics:      collector.Handler(),
		WS:           hub.HandleWS,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reloadOnHangup reloads secrets on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
			}
		}
	}
}

// originPatterns converts the configured CORS origin into the host pattern
// the WebSocket handshake checks.
func originPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}

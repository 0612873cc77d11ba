package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/VPNForge/internal/adapter/docker"
	geoclient "github.com/Strob0t/VPNForge/internal/adapter/geoip"
	"github.com/Strob0t/VPNForge/internal/adapter/hostnet"
	vfnats "github.com/Strob0t/VPNForge/internal/adapter/nats"
	"github.com/Strob0t/VPNForge/internal/adapter/natskv"
	vfotel "github.com/Strob0t/VPNForge/internal/adapter/otel"
	"github.com/Strob0t/VPNForge/internal/adapter/postgres"
	"github.com/Strob0t/VPNForge/internal/adapter/publicip"
	"github.com/Strob0t/VPNForge/internal/adapter/ristretto"
	"github.com/Strob0t/VPNForge/internal/adapter/tiered"
	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/port/cache"
	"github.com/Strob0t/VPNForge/internal/port/geoip"
	"github.com/Strob0t/VPNForge/internal/resilience"
	"github.com/Strob0t/VPNForge/internal/service"
)

// app holds the wired infrastructure and services shared by serve and refresh.
type app struct {
	pool     *pgxpool.Pool
	store    *postgres.Store
	queue    *vfnats.Queue // nil when NATS is not configured
	cache    cache.Cache
	runtime  *docker.Runtime
	locks    *service.TenantLocks
	events   *service.EventService
	tenants  *service.TenantService
	certs    *service.CertificateService
	sessions *service.SessionService

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp connects to PostgreSQL, optionally NATS, and wires every service.
// Metrics may be nil.
func newApp(ctx context.Context, cfg *config.Config, metrics *vfotel.Metrics) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// --- Infrastructure ---

	a.pool, err = postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, a.pool.Close)
	a.store = postgres.NewStore(a.pool)
	slog.Info("postgres connected")

	if cfg.NATS.URL != "" {
		a.queue, err = vfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		q := a.queue
		a.closers = append(a.closers, func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		})
	} else {
		slog.Info("nats not configured, events are not published")
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	a.closers = append(a.closers, l1.Close)
	var l2 cache.Cache
	if a.queue != nil {
		kv, err := natskv.Open(ctx, a.queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			slog.Warn("l2 cache unavailable, using l1 only", "bucket", cfg.Cache.L2Bucket, "error", err)
		} else {
			l2 = kv
		}
	}
	a.cache = tiered.New(l1, l2, cfg.Cache.L2TTL)

	var geo geoip.Resolver = geoip.Noop{}
	if cfg.GeoIP.Enabled {
		geo = geoclient.New(cfg.GeoIP, a.cache)
	}

	a.runtime = docker.New(cfg.Docker, resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---

	a.locks = service.NewTenantLocks()

	a.events = service.NewEventService(a.store)
	if a.queue != nil {
		a.events.SetQueue(a.queue)
	}

	alloc := service.NewAllocator(a.store, cfg.Allocation, hostnet.UDPPortFree, publicip.New(cfg.PublicIP))

	a.tenants = service.NewTenantService(a.store, a.runtime, alloc, cfg.Docker, cfg.OpenVPN)
	a.tenants.SetLocks(a.locks)
	a.tenants.SetEvents(a.events)

	a.certs = service.NewCertificateService(a.store, a.runtime, cfg.Docker)
	a.certs.SetLocks(a.locks)
	a.certs.SetEvents(a.events)

	a.sessions = service.NewSessionService(a.store, a.runtime, geo, cfg.Refresh, cfg.OpenVPN.StatusPath)
	a.sessions.SetLocks(a.locks)
	a.sessions.SetEvents(a.events)

	if metrics != nil {
		a.tenants.SetMetrics(metrics)
		a.sessions.SetMetrics(metrics)
	}

	return a, nil
}

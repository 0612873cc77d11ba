package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	vfotel "github.com/Strob0t/VPNForge/internal/adapter/otel"
	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/domain/session"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/port/containerruntime"
	"github.com/Strob0t/VPNForge/internal/port/database"
	"github.com/Strob0t/VPNForge/internal/port/geoip"
	"github.com/Strob0t/VPNForge/internal/port/messagequeue"
)

// ReconcileResult is the session snapshot stored by one reconciliation.
type ReconcileResult struct {
	TenantID int64              `json:"tenant_id"`
	Sessions []session.Session  `json:"sessions"`
	Skipped  int                `json:"skipped_records"`
	Warnings domain.Diagnostics `json:"warnings,omitempty"`
}

// SessionService replaces each tenant's stored sessions with the snapshot
// reported by its server's status feed.
type SessionService struct {
	store      database.Store
	runtime    containerruntime.Runtime
	geo        geoip.Resolver
	cfg        config.Refresh
	statusPath string
	locks      *TenantLocks
	events     *EventService
	metrics    *vfotel.Metrics
	observer   SessionObserver
	now        func() time.Time
}

// NewSessionService creates a SessionService. statusPath is the default
// status feed location for tenants without their own; geo may be nil.
func NewSessionService(store database.Store, rt containerruntime.Runtime, geo geoip.Resolver, cfg config.Refresh, statusPath string) *SessionService {
	if geo == nil {
		geo = geoip.Noop{}
	}
	return &SessionService{
		store:      store,
		runtime:    rt,
		geo:        geo,
		cfg:        cfg,
		statusPath: statusPath,
		locks:      NewTenantLocks(),
		now:        time.Now,
	}
}

// SetLocks shares a per-tenant lock table with other services.
func (s *SessionService) SetLocks(l *TenantLocks) { s.locks = l }

// SetEvents sets the optional event recorder.
func (s *SessionService) SetEvents(e *EventService) { s.events = e }

// SetMetrics sets the optional OpenTelemetry instruments.
func (s *SessionService) SetMetrics(m *vfotel.Metrics) { s.metrics = m }

// SetSessionObserver sets the optional observer of session counts.
func (s *SessionService) SetSessionObserver(o SessionObserver) { s.observer = o }

// ListSessions returns the stored session snapshot of a tenant.
func (s *SessionService) ListSessions(ctx context.Context, tenantID int64) ([]session.Session, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, tenantID)
}

// Reconcile reads the tenant's status feed and atomically replaces its
// stored sessions with one row per connected client. A missing feed means
// no clients; a paused tenant has none either. Short feed records and
// failed GeoIP lookups do not fail the call: records are counted in
// Skipped and lookups become warnings.
func (s *SessionService) Reconcile(ctx context.Context, tenantID int64) (_ *ReconcileResult, err error) {
	ctx, span := vfotel.StartReconcileSpan(ctx, tenantID)
	start := time.Now()
	defer func() {
		vfotel.EndSpan(span, err)
		if s.metrics == nil {
			return
		}
		if err != nil {
			s.metrics.ReconcileFailures.Add(ctx, 1)
			return
		}
		s.metrics.Reconciliations.Add(ctx, 1)
		s.metrics.ReconcileDuration.Record(ctx, time.Since(start).Seconds())
	}()

	unlock, err := s.locks.Lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.ContainerID == "" {
		return nil, fmt.Errorf("reconcile tenant %d: %w", tenantID, domain.ErrContainerNotConfigured)
	}

	feed := &session.Feed{}
	if t.Status != tenant.StatusPaused {
		feed, err = s.readFeed(ctx, t)
		if err != nil {
			return nil, err
		}
	}

	res := &ReconcileResult{TenantID: tenantID, Skipped: feed.Skipped}
	res.Sessions, err = s.buildSessions(ctx, t.ID, feed, &res.Warnings)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplaceSessions(ctx, t.ID, res.Sessions); err != nil {
		return nil, fmt.Errorf("replace sessions of tenant %d: %w", tenantID, err)
	}

	if feed.Skipped > 0 {
		slog.Debug("status feed records skipped", "tenant_id", tenantID, "count", feed.Skipped)
	}
	res.Warnings.Log(ctx, "session reconcile step failed", "tenant_id", tenantID)
	if s.metrics != nil && !res.Warnings.Empty() {
		s.metrics.Warnings.Add(ctx, int64(len(res.Warnings)), metric.WithAttributes(attribute.String("source", "sessions")))
	}
	if s.observer != nil {
		s.observer.ObserveSessions(tenantID, len(res.Sessions))
	}
	s.events.Record(ctx, tenantID, event.TypeSessionsUpdated, map[string]int{"sessions": len(res.Sessions)})
	return res, nil
}

// readFeed fetches and parses the tenant's status feed.
func (s *SessionService) readFeed(ctx context.Context, t *tenant.Tenant) (*session.Feed, error) {
	path := t.StatusFile(s.statusPath)
	data, found, err := s.runtime.ReadFile(ctx, t.ContainerID, path)
	if err != nil {
		return nil, fmt.Errorf("read status feed of tenant %d: %w", t.ID, err)
	}
	if !found {
		slog.Debug("status feed not present", "tenant_id", t.ID, "path", path)
		return &session.Feed{}, nil
	}
	feed, err := session.ParseFeed(bytes.NewReader(data), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse status feed of tenant %d: %w", t.ID, err)
	}
	return feed, nil
}

// buildSessions joins feed clients with their routes, known users and
// locations. Clients are ordered by common name.
func (s *SessionService) buildSessions(ctx context.Context, tenantID int64, feed *session.Feed, warnings *domain.Diagnostics) ([]session.Session, error) {
	if len(feed.Clients) == 0 {
		return []session.Session{}, nil
	}

	users, err := s.store.ListVPNUsers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users of tenant %d: %w", tenantID, err)
	}
	userIDs := make(map[string]int64, len(users))
	for i := range users {
		userIDs[users[i].Username] = users[i].ID
	}

	now := s.now().UTC()
	located := make(map[string]geoip.Location)
	out := make([]session.Session, 0, len(feed.Clients))
	for _, cn := range slices.Sorted(maps.Keys(feed.Clients)) {
		c := feed.Clients[cn]
		sess := session.Session{
			TenantID:       tenantID,
			CommonName:     c.CommonName,
			RealAddress:    c.RealAddress,
			VirtualAddress: feed.Routes[cn],
			BytesReceived:  c.BytesReceived,
			BytesSent:      c.BytesSent,
			Since:          c.Since,
			LastSeen:       now,
		}
		if id, ok := userIDs[cn]; ok {
			sess.UserID = &id
		}

		ip := sess.RemoteIP()
		loc, ok := located[ip]
		if !ok {
			loc, err = s.geo.Lookup(ctx, ip)
			if err != nil {
				warnings.Add("geoip "+ip, err)
				loc = geoip.Location{}
			}
			located[ip] = loc
		}
		sess.GeoCountry = loc.Country
		sess.GeoCity = loc.City

		out = append(out, sess)
	}
	return out, nil
}

// RefreshAll reconciles every provisioned, running tenant, at most
// refresh.parallelism at a time. A failing tenant does not stop the others;
// all failures are joined into the returned error.
func (s *SessionService) RefreshAll(ctx context.Context) (int, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	var (
		g     errgroup.Group
		mu    sync.Mutex
		errs  []error
		count int
	)
	g.SetLimit(max(s.cfg.Parallelism, 1))

	for i := range tenants {
		t := tenants[i]
		if !t.Provisioned() || t.Status == tenant.StatusPaused {
			continue
		}
		g.Go(func() error {
			_, err := s.Reconcile(ctx, t.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("tenant %d: %w", t.ID, err))
				return nil
			}
			count++
			return nil
		})
	}
	_ = g.Wait()
	return count, errors.Join(errs...)
}

// Sweep deletes session rows not refreshed within the retention window.
func (s *SessionService) Sweep(ctx context.Context) (int64, error) {
	if s.cfg.SessionRetention <= 0 {
		return 0, nil
	}
	return s.store.DeleteSessionsBefore(ctx, s.now().Add(-s.cfg.SessionRetention))
}

// Run refreshes all tenants and sweeps stale sessions immediately and then
// every refresh.interval until ctx is cancelled.
func (s *SessionService) Run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *SessionService) tick(ctx context.Context) {
	n, err := s.RefreshAll(ctx)
	if err != nil {
		slog.Warn("session refresh incomplete", "reconciled", n, "error", err)
	} else {
		slog.Debug("session refresh done", "reconciled", n)
	}
	if removed, err := s.Sweep(ctx); err != nil {
		slog.Warn("session retention sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("stale sessions removed", "count", removed)
	}
}

// Subscribe consumes sessions.refresh requests from q. Requests for
// tenants that do not exist or are not provisioned are acknowledged and
// dropped; other failures are returned for redelivery.
func (s *SessionService) Subscribe(ctx context.Context, q messagequeue.Queue) (cancel func(), err error) {
	return q.Subscribe(ctx, messagequeue.SubjectSessionsRefresh, func(ctx context.Context, _ string, data []byte) error {
		var req messagequeue.SessionsRefreshPayload
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("decode refresh request: %w", err)
		}
		_, err := s.Reconcile(ctx, req.TenantID)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrContainerNotConfigured) {
			slog.Warn("refresh request dropped", "tenant_id", req.TenantID, "error", err)
			return nil
		}
		return err
	})
}

// Package publicip discovers the host's public IPv4 address by asking a
// short ordered list of external echo services.
package publicip

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/VPNForge/internal/config"
)

// Fallback is returned when every endpoint fails.
const Fallback = "0.0.0.0"

const (
	maxBodyBytes = 256
	cacheFor     = 10 * time.Minute
)

// Detector resolves the public address. Successful results are reused for
// a few minutes; the fallback is never cached.
type Detector struct {
	override   string
	endpoints  []string
	timeout    time.Duration
	httpClient *http.Client

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
	now      func() time.Time
}

// New creates a Detector. A non-empty cfg.Override is returned as-is.
func New(cfg config.PublicIP) *Detector {
	return &Detector{
		override:   cfg.Override,
		endpoints:  cfg.Endpoints,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		now:        time.Now,
	}
}

// Detect returns the first valid IPv4 address reported by an endpoint, or
// Fallback. Each attempt is bounded by the configured timeout.
func (d *Detector) Detect(ctx context.Context) string {
	if d.override != "" {
		return d.override
	}

	d.mu.Lock()
	if d.cached != "" && d.now().Sub(d.cachedAt) < cacheFor {
		ip := d.cached
		d.mu.Unlock()
		return ip
	}
	d.mu.Unlock()

	for _, endpoint := range d.endpoints {
		ip, err := d.query(ctx, endpoint)
		if err != nil {
			slog.DebugContext(ctx, "public ip endpoint failed", "endpoint", endpoint, "error", err)
			continue
		}
		d.mu.Lock()
		d.cached, d.cachedAt = ip, d.now()
		d.mu.Unlock()
		return ip
	}

	slog.WarnContext(ctx, "public ip detection failed, using fallback", "fallback", Fallback)
	return Fallback
}

func (d *Detector) query(ctx context.Context, endpoint string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return "", err
	}
	if !addr.Is4() {
		return "", errNotIPv4
	}
	return addr.String(), nil
}

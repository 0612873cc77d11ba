// Package geoip implements the geoip port against an ip-api.com compatible
// HTTP endpoint, with results cached in the tiered cache.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/port/cache"
	"github.com/Strob0t/VPNForge/internal/port/geoip"
)

const (
	cachePrefix  = "geo:"
	maxBodyBytes = 64 << 10
	lookupFields = "status,message,country,city"
)

// Client resolves IP addresses over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	ttl        time.Duration
}

var _ geoip.Resolver = (*Client)(nil)

// New creates a Client. c may be nil to disable caching.
func New(cfg config.GeoIP, c cache.Cache) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/") + "/",
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache: c,
		ttl:   cfg.CacheTTL,
	}
}

// Lookup returns the location of ip. Private, loopback and unspecified
// addresses resolve to an empty Location without a request. Addresses the
// provider has no location for resolve to an empty Location that is cached
// like any other answer; only transport and response errors are returned.
func (c *Client) Lookup(ctx context.Context, ip string) (geoip.Location, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return geoip.Location{}, fmt.Errorf("geoip: invalid address %q", ip)
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return geoip.Location{}, nil
	}
	key := cachePrefix + addr.String()

	if loc, ok := c.cached(ctx, key); ok {
		return loc, nil
	}

	loc, err := c.fetch(ctx, addr.String())
	if err != nil {
		return geoip.Location{}, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(loc); err == nil {
			if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
				slog.WarnContext(ctx, "geoip cache set failed", "ip", ip, "error", err)
			}
		}
	}
	return loc, nil
}

func (c *Client) cached(ctx context.Context, key string) (geoip.Location, bool) {
	if c.cache == nil {
		return geoip.Location{}, false
	}
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return geoip.Location{}, false
	}
	var loc geoip.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return geoip.Location{}, false
	}
	return loc, true
}

func (c *Client) fetch(ctx context.Context, ip string) (geoip.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ip+"?fields="+lookupFields, http.NoBody)
	if err != nil {
		return geoip.Location{}, fmt.Errorf("geoip: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geoip.Location{}, fmt.Errorf("geoip: lookup %s: %w", ip, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return geoip.Location{}, fmt.Errorf("geoip: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return geoip.Location{}, fmt.Errorf("geoip: lookup %s: status %d", ip, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return geoip.Location{}, fmt.Errorf("geoip: lookup %s: malformed response", ip)
	}

	res := gjson.GetManyBytes(body, "status", "message", "country", "city")
	if res[0].String() != "success" {
		// The provider knows no location for ip; that answer is cached as a miss.
		slog.DebugContext(ctx, "geoip: no location", "ip", ip, "reason", res[1].String())
		return geoip.Location{}, nil
	}
	return geoip.Location{Country: res[2].String(), City: res[3].String()}, nil
}

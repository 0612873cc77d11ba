package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/VPNForge/internal/config"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c := New(config.GeoIP{URL: srv.URL + "/json", Timeout: time.Second, CacheTTL: time.Hour},
		&memCache{data: map[string][]byte{}})
	return c, &hits
}

func TestLookupSuccessIsCached(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/json/203.0.113.7") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","country":"Germany","city":"Berlin"}`))
	})
	ctx := context.Background()

	for range 2 {
		loc, err := c.Lookup(ctx, "203.0.113.7")
		if err != nil {
			t.Fatal(err)
		}
		if loc.Country != "Germany" || loc.City != "Berlin" {
			t.Fatalf("unexpected location %+v", loc)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected one upstream request, got %d", n)
	}
}

func TestLookupFailStatusIsCachedMiss(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	})
	ctx := context.Background()

	for range 3 {
		loc, err := c.Lookup(ctx, "203.0.113.8")
		if err != nil {
			t.Fatalf("provider miss must not be an error: %v", err)
		}
		if loc.Country != "" || loc.City != "" {
			t.Fatalf("miss must yield empty location, got %+v", loc)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected the miss to be cached after one request, got %d", n)
	}
}

func TestLookupHTTPErrorIsNotCached(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	for range 2 {
		if _, err := c.Lookup(context.Background(), "203.0.113.10"); err == nil {
			t.Fatal("expected error on 503")
		}
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("transport failures must be retried, got %d requests", n)
	}
}

func TestLookupHTTPError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	if _, err := c.Lookup(context.Background(), "203.0.113.9"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestLookupMalformedBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	if _, err := c.Lookup(context.Background(), "203.0.113.10"); err == nil {
		t.Fatal("expected error on malformed body")
	}
}

func TestLookupSkipsPrivateAndInvalid(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","country":"X"}`))
	})
	ctx := context.Background()

	for _, ip := range []string{"10.8.0.2", "127.0.0.1", "0.0.0.0", "fe80::1"} {
		loc, err := c.Lookup(ctx, ip)
		if err != nil || loc.Country != "" {
			t.Errorf("Lookup(%s) = %+v, %v", ip, loc, err)
		}
	}
	if _, err := c.Lookup(ctx, "not-an-ip"); err == nil {
		t.Error("expected error for invalid address")
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no upstream requests, got %d", hits.Load())
	}
}

package publicip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/VPNForge/internal/config"
)

func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestDetectUsesFirstValidEndpoint(t *testing.T) {
	bad := serve(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	garbage := serve(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) })
	v6 := serve(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("2001:db8::1\n")) })
	good := serve(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("203.0.113.5\n")) })

	d := New(config.PublicIP{Endpoints: []string{bad, garbage, v6, good}, Timeout: time.Second})
	if got := d.Detect(context.Background()); got != "203.0.113.5" {
		t.Fatalf("Detect = %s", got)
	}
}

func TestDetectFallbackIsBounded(t *testing.T) {
	release := make(chan struct{})
	slow := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	d := New(config.PublicIP{Endpoints: []string{slow, slow}, Timeout: 50 * time.Millisecond})
	start := time.Now()
	if got := d.Detect(context.Background()); got != Fallback {
		t.Fatalf("expected fallback, got %s", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("detection took %s, expected per-attempt timeout to apply", elapsed)
	}
}

func TestDetectOverride(t *testing.T) {
	d := New(config.PublicIP{Override: "198.51.100.1", Endpoints: []string{"http://127.0.0.1:1"}})
	if got := d.Detect(context.Background()); got != "198.51.100.1" {
		t.Fatalf("Detect = %s", got)
	}
}

func TestDetectCachesSuccess(t *testing.T) {
	var hits atomic.Int32
	url := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("203.0.113.6"))
	})
	d := New(config.PublicIP{Endpoints: []string{url}, Timeout: time.Second})
	now := time.Now()
	d.now = func() time.Time { return now }

	d.Detect(context.Background())
	d.Detect(context.Background())
	if hits.Load() != 1 {
		t.Fatalf("expected cached result, got %d requests", hits.Load())
	}

	now = now.Add(cacheFor + time.Second)
	d.Detect(context.Background())
	if hits.Load() != 2 {
		t.Fatalf("expected refresh after expiry, got %d requests", hits.Load())
	}
}

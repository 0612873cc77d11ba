package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testAuth(t *testing.T, key string) *APIKeyAuth {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewAPIKeyAuth(string(h))
}

func serveAuth(a *APIKeyAuth, req *http.Request) int {
	handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuth_Disabled(t *testing.T) {
	a := NewAPIKeyAuth("")
	if a.Enabled() {
		t.Fatal("empty hash must disable auth")
	}
	if code := serveAuth(a, httptest.NewRequest(http.MethodGet, "/api/v1/tenants", http.NoBody)); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}

func TestAuth_Enabled(t *testing.T) {
	a := testAuth(t, "s3cret-key")

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"no credentials", "/api/v1/tenants", "", "", http.StatusUnauthorized},
		{"public health", "/health", "", "", http.StatusOK},
		{"public metrics", "/metrics", "", "", http.StatusOK},
		{"bearer", "/api/v1/tenants", "Authorization", "Bearer s3cret-key", http.StatusOK},
		{"api key header", "/api/v1/tenants", "X-API-Key", "s3cret-key", http.StatusOK},
		{"wrong key", "/api/v1/tenants", "X-API-Key", "nope", http.StatusUnauthorized},
		{"basic scheme", "/api/v1/tenants", "Authorization", "Basic czNjcmV0", http.StatusUnauthorized},
		{"ws token", "/ws?token=s3cret-key", "", "", http.StatusOK},
		{"token ignored off ws", "/api/v1/tenants?token=s3cret-key", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if code := serveAuth(a, req); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestAuth_VerifiedKeyCached(t *testing.T) {
	a := testAuth(t, "s3cret-key")
	if !a.check("s3cret-key") {
		t.Fatal("expected key to verify")
	}
	if a.verified == nil {
		t.Fatal("expected digest to be remembered")
	}
	if a.check("other") {
		t.Fatal("cached digest must not admit other keys")
	}
}

func TestHashAPIKey(t *testing.T) {
	h, err := HashAPIKey("k")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("k")) != nil {
		t.Fatal("hash does not match key")
	}
}

func TestAuth_SetHashRotatesKey(t *testing.T) {
	a := testAuth(t, "old-key")
	if !a.check("old-key") {
		t.Fatal("expected old key to verify")
	}

	h, err := bcrypt.GenerateFromPassword([]byte("new-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a.SetHash(string(h))

	if a.check("old-key") {
		t.Error("rotated-out key must be rejected")
	}
	if !a.check("new-key") {
		t.Error("expected new key to verify")
	}

	a.SetHash("")
	if a.Enabled() {
		t.Error("empty hash must disable auth")
	}
}

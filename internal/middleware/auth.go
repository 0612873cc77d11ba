package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const headerAPIKey = "X-API-Key"

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// APIKeyAuth validates the admin API key against a bcrypt hash. The key is
// read from "Authorization: Bearer", X-API-Key or, for WebSocket upgrades on
// /ws, the token query parameter.
type APIKeyAuth struct {
	mu       sync.RWMutex
	hash     []byte
	verified []byte // sha256 of the last key that passed bcrypt
}

// NewAPIKeyAuth creates the authenticator. An empty hash disables
// authentication.
func NewAPIKeyAuth(hash string) *APIKeyAuth {
	return &APIKeyAuth{hash: []byte(hash)}
}

// SetHash replaces the accepted key hash, e.g. after a secret rotation.
func (a *APIKeyAuth) SetHash(hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hash = []byte(hash)
	a.verified = nil
}

// Enabled reports whether a key is required.
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.hash) > 0
}

// Handler returns the authentication middleware.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := extractKey(r)
		if key == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vpnforge"`)
			writeJSONError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		if !a.check(key) {
			writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// check compares key with the configured hash. bcrypt runs once per
// distinct key; repeated requests compare a sha256 digest instead.
func (a *APIKeyAuth) check(key string) bool {
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	hash, known := a.hash, a.verified
	a.mu.RUnlock()
	if known != nil && subtle.ConstantTimeCompare(known, digest[:]) == 1 {
		return true
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
		return false
	}
	a.mu.Lock()
	if string(a.hash) == string(hash) {
		a.verified = digest[:]
	}
	a.mu.Unlock()
	return true
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedClients caps the bucket map; idle buckets are swept when it fills.
const maxTrackedClients = 10000

// MutationLimiter throttles state-changing requests per client address.
// Every mutation may create containers or run PKI commands, so reads are
// never limited.
type MutationLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type tokenBucket struct {
	tokens  float64
	updated time.Time
}

// NewMutationLimiter allows burst mutations at once per client, refilled at
// rate per second. A non-positive rate disables limiting.
func NewMutationLimiter(rate float64, burst int) *MutationLimiter {
	return &MutationLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(max(burst, 1)),
		now:     time.Now,
	}
}

// Handler returns the limiting middleware.
func (l *MutationLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.rate <= 0 || !isMutation(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if wait, ok := l.take(clientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take consumes one token for client, or reports how long until one is free.
func (l *MutationLimiter) take(client string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweep(now)
		}
		b = &tokenBucket{tokens: l.burst, updated: now}
		l.clients[client] = b
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.updated).Seconds()*l.rate)
	b.updated = now
	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) / l.rate * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

// sweep drops buckets that have refilled completely.
func (l *MutationLimiter) sweep(now time.Time) {
	for k, b := range l.clients {
		if b.tokens+now.Sub(b.updated).Seconds()*l.rate >= l.burst {
			delete(l.clients, k)
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// clientIP uses RemoteAddr only; forwarding headers are caller-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

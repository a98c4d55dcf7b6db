package security

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter is a per-client token bucket used to shed abusive HTTP
// traffic before it reaches the persistent rate limiters
type ClientLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing perSecond requests with the
// given burst for every client key
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	return &ClientLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow checks if a request from key should be allowed
func (cl *ClientLimiter) Allow(key string) bool {
	cl.mu.Lock()
	v, ok := cl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	cl.mu.Unlock()

	return v.limiter.Allow()
}

// Sweep drops clients idle for longer than the idle window and returns how
// many were removed
func (cl *ClientLimiter) Sweep(now time.Time) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	removed := 0
	for key, v := range cl.visitors {
		if now.Sub(v.lastSeen) > cl.idle {
			delete(cl.visitors, key)
			removed++
		}
	}
	return removed
}

// GetClientIP extracts the client IP from the request. Forwarding headers
// are only honoured when the server runs behind a trusted proxy.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

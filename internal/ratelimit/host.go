package ratelimit

import (
	"context"
	"net/netip"
	"time"

	"usergate/internal/metrics"
)

// HostLimiter throttles by network address instead of by account. Addresses
// in the same /24 (IPv4) or /48 (IPv6) share one bucket.
type HostLimiter struct {
	limiter *Limiter
}

// NewHostLimiter wraps l so that all keys are mapped through AddrKey
func NewHostLimiter(l *Limiter) *HostLimiter {
	return &HostLimiter{limiter: l}
}

// Limiter returns the wrapped limiter
func (h *HostLimiter) Limiter() *Limiter { return h.limiter }

// Log records an attempt from addr
func (h *HostLimiter) Log(ctx context.Context, addr string) error {
	return h.limiter.Log(ctx, AddrKey(addr))
}

// Delay returns the wait time of the network addr belongs to
func (h *HostLimiter) Delay(ctx context.Context, addr string) (time.Duration, error) {
	return h.limiter.Delay(ctx, AddrKey(addr))
}

// Check combines the host delay with the delay of l for key. The larger one
// wins; when both are zero the attempt is allowed. l may be nil.
func (h *HostLimiter) Check(ctx context.Context, addr string, l *Limiter, key string) error {
	hostDelay, err := h.Delay(ctx, addr)
	if err != nil {
		return err
	}

	var d time.Duration
	if l != nil {
		if d, err = l.Delay(ctx, key); err != nil {
			return err
		}
	}

	switch {
	case d > 0 && d > hostDelay:
		metrics.RatelimitDecisions.WithLabelValues(l.name, "throttled").Inc()
		return &ThrottledError{Limiter: l.name, RetryAfter: d}
	case hostDelay > 0:
		metrics.RatelimitDecisions.WithLabelValues(h.limiter.name, "throttled").Inc()
		return &ThrottledError{Limiter: h.limiter.name, RetryAfter: hostDelay}
	}

	metrics.RatelimitDecisions.WithLabelValues(h.limiter.name, "allowed").Inc()
	return nil
}

// AddrKey maps an address to its bucket key: the /24 network for IPv4, the
// /48 network for IPv6 and the quoted input for anything unparsable
func AddrKey(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return `"` + addr + `"`
	}
	ip = ip.WithZone("")

	bits := 48
	if ip.Is4() {
		bits = 24
	}
	prefix, err := ip.Prefix(bits)
	if err != nil {
		return `"` + addr + `"`
	}
	return prefix.Addr().String()
}

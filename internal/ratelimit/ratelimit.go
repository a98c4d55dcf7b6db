package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"usergate/internal/metrics"
)

// maxDelay caps the computed delay of a single limiter
const maxDelay = 365 * 24 * time.Hour

// Event is a single logged attempt
type Event struct {
	Name      string
	Key       string
	Timestamp time.Time
	Expires   time.Time
}

// Store persists limiter events. Unexpired returns the events of (name, key)
// whose Expires is after now, ordered by Timestamp.
type Store interface {
	Log(ctx context.Context, event Event) error
	Unexpired(ctx context.Context, name, key string, now time.Time) ([]Event, error)
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Limiter computes an exponential backoff from the number of recent events.
// After limit events within interval the delay reaches interval.
type Limiter struct {
	name     string
	interval time.Duration
	limit    int
	base     float64
	store    Store
	now      func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. A limit below one is treated as one.
func New(name string, interval time.Duration, limit int, store Store, opts ...Option) *Limiter {
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{
		name:     name,
		interval: interval,
		limit:    limit,
		base:     math.Pow(interval.Seconds(), 1/float64(limit)),
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the limiter name used as event namespace
func (l *Limiter) Name() string { return l.name }

// Interval returns the event lifetime
func (l *Limiter) Interval() time.Duration { return l.interval }

// Limit returns the number of events after which the delay reaches interval
func (l *Limiter) Limit() int { return l.limit }

// Log records an attempt for key
func (l *Limiter) Log(ctx context.Context, key string) error {
	now := l.now().UTC()
	err := l.store.Log(ctx, Event{
		Name:      l.name,
		Key:       key,
		Timestamp: now,
		Expires:   now.Add(l.interval),
	})
	if err != nil {
		return fmt.Errorf("failed to log %s event: %w", l.name, err)
	}
	return nil
}

// Delay returns how long key has to wait before the next attempt
func (l *Limiter) Delay(ctx context.Context, key string) (time.Duration, error) {
	now := l.now().UTC()
	events, err := l.store.Unexpired(ctx, l.name, key, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s events: %w", l.name, err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	delay := l.backoff(len(events))
	if delay == 0 {
		return 0, nil
	}

	remaining := math.Ceil(events[0].Timestamp.Add(delay).Sub(now).Seconds())
	if remaining <= 0 {
		return 0, nil
	}
	return time.Duration(remaining) * time.Second, nil
}

// backoff returns ceil(base^n) seconds, zero below five seconds
func (l *Limiter) backoff(n int) time.Duration {
	// the epsilon keeps base^limit == interval from rounding up a second
	secs := math.Ceil(math.Pow(l.base, float64(n)) - 1e-9)
	if secs < 5 {
		return 0
	}
	if secs >= maxDelay.Seconds() {
		return maxDelay
	}
	return time.Duration(secs) * time.Second
}

// Check returns a *ThrottledError when key currently has to wait
func (l *Limiter) Check(ctx context.Context, key string) error {
	d, err := l.Delay(ctx, key)
	if err != nil {
		return err
	}
	if d > 0 {
		metrics.RatelimitDecisions.WithLabelValues(l.name, "throttled").Inc()
		return &ThrottledError{Limiter: l.name, RetryAfter: d}
	}
	metrics.RatelimitDecisions.WithLabelValues(l.name, "allowed").Inc()
	return nil
}

// ThrottledError reports that a limiter rejected an attempt
type ThrottledError struct {
	Limiter    string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limited by %s, retry in %s", e.Limiter, e.RetryAfter)
}

// Message is the user facing text for the throttled attempt
func (e *ThrottledError) Message() string {
	return fmt.Sprintf("Too many requests! Please wait at least %s before trying again.", FormatDelay(e.RetryAfter))
}

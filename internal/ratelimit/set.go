package ratelimit

import (
	"time"

	"usergate/internal/config"
)

// Limiter names, also used as config keys and event namespaces
const (
	NameHost          = "host"
	NameLogin         = "login"
	NameSignup        = "signup"
	NameSignupConfirm = "signup_confirm"
	NamePasswordReset = "passwordreset"
	NameMFA           = "mfa"
)

var defaults = map[string]config.LimiterConfig{
	NameHost:          {Interval: time.Hour, Limit: 25},
	NameLogin:         {Interval: time.Minute, Limit: 3},
	NameSignup:        {Interval: 24 * time.Minute, Limit: 3},
	NameSignupConfirm: {Interval: 10 * time.Minute, Limit: 3},
	NamePasswordReset: {Interval: time.Hour, Limit: 3},
	NameMFA:           {Interval: time.Minute, Limit: 4},
}

// Set holds the limiters shared by the services
type Set struct {
	Host          *HostLimiter
	Login         *Limiter
	Signup        *Limiter
	SignupConfirm *Limiter
	PasswordReset *Limiter
	MFA           *Limiter
}

// NewSet builds the limiters from the defaults and cfg.Limiters overrides
func NewSet(cfg *config.Config, store Store, opts ...Option) *Set {
	build := func(name string) *Limiter {
		lc := defaults[name]
		if cfg != nil {
			if o, ok := cfg.Limiters[name]; ok {
				lc = o
			}
		}
		return New(name, lc.Interval, lc.Limit, store, opts...)
	}

	return &Set{
		Host:          NewHostLimiter(build(NameHost)),
		Login:         build(NameLogin),
		Signup:        build(NameSignup),
		SignupConfirm: build(NameSignupConfirm),
		PasswordReset: build(NamePasswordReset),
		MFA:           build(NameMFA),
	}
}

// All returns every limiter of the set
func (s *Set) All() []*Limiter {
	return []*Limiter{s.Host.Limiter(), s.Login, s.Signup, s.SignupConfirm, s.PasswordReset, s.MFA}
}

// MaxInterval returns the longest interval of the set, the minimal TTL of a
// MemoryStore serving it
func (s *Set) MaxInterval() time.Duration {
	var longest time.Duration
	for _, l := range s.All() {
		if l.Interval() > longest {
			longest = l.Interval()
		}
	}
	return longest
}

// MaxInterval returns the longest limiter interval configured in cfg
func MaxInterval(cfg *config.Config) time.Duration {
	return NewSet(cfg, nil).MaxInterval()
}

package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/models"
	"usergate/internal/security"
	"usergate/internal/service"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	UserContextKey      ContextKey = "user"
	APIClientContextKey ContextKey = "api_client"

	RequestIDHeader = "X-Request-ID"
)

// Middleware holds dependencies for middleware functions
type Middleware struct {
	authService *service.AuthService
	cfg         *config.Config
	clients     *security.ClientLimiter
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(authService *service.AuthService, cfg *config.Config, clients *security.ClientLimiter) *Middleware {
	return &Middleware{
		authService: authService,
		cfg:         cfg,
		clients:     clients,
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Logging attaches a request scoped logger carrying a request id and logs
// every request with its status and duration
func Logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLog := log.With().Str("request_id", requestID).Logger()
			ctx := reqLog.WithContext(r.Context())

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.code).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// RateLimit is a coarse per address token bucket in front of the
// unauthenticated endpoints
func (m *Middleware) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.clients.Allow(m.remoteAddr(r)) {
			w.Header().Set("Retry-After", "1")
			respondWithError(w, r, http.StatusTooManyRequests, ErrTooManyRequests, "", nil)
			return
		}
		next(w, r)
	}
}

// RequireAuth requires a valid bearer session token
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="usergate"`)
			respondWithError(w, r, http.StatusUnauthorized, ErrUnauthorized, "", nil)
			return
		}

		user, err := m.authService.ValidateSession(r.Context(), token)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin requires a session of a member of the admin group
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		if !user.IsInGroup(m.cfg.AdminGroup) {
			respondWithError(w, r, http.StatusForbidden, ErrForbidden, "", nil)
			return
		}
		next(w, r)
	})
}

// RequireAPIClient authenticates a configured API client with HTTP basic
// auth and requires scope
func (m *Middleware) RequireAPIClient(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, secret, ok := r.BasicAuth()
		var client config.APIClient
		if ok && secret != "" {
			client, ok = m.cfg.APIClient(name)
		}
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(client.Secret)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="api"`)
			respondWithError(w, r, http.StatusUnauthorized, ErrUnauthorized, "", nil)
			return
		}
		if !client.HasScope(scope) {
			respondWithError(w, r, http.StatusForbidden, ErrForbidden, "", nil)
			return
		}

		ctx := context.WithValue(r.Context(), APIClientContextKey, client.Name)
		next(w, r.WithContext(ctx))
	}
}

func (m *Middleware) remoteAddr(r *http.Request) string {
	return security.GetClientIP(r, m.cfg.TrustProxy)
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"usergate/internal/config"
	"usergate/internal/security"
)

func TestLoggingSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := Logging(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		seen = w.Header().Get(RequestIDHeader)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	require.Contains(t, buf.String(), `"request_id":"`+seen+`"`)
	require.Contains(t, buf.String(), `"status":202`)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestRateLimitRejectsBurst(t *testing.T) {
	mw := NewMiddleware(nil, &config.Config{}, security.NewClientLimiter(0.001, 2))
	h := mw.RateLimit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		h(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "198.51.100.8:1234"
	rec := httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAPIClientStoresClientName(t *testing.T) {
	cfg := &config.Config{APIClients: []config.APIClient{{Name: "svc", Secret: "pw", Scopes: []string{ScopeGetUsers}}}}
	mw := NewMiddleware(nil, cfg, security.NewClientLimiter(1, 1))

	var client string
	h := mw.RequireAPIClient(ScopeGetUsers, func(w http.ResponseWriter, r *http.Request) {
		client, _ = r.Context().Value(APIClientContextKey).(string)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/getusers", nil)
	req.SetBasicAuth("svc", "pw")
	rec := httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "svc", client)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/getusers", nil)
	req.SetBasicAuth("svc", "")
	rec = httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUserFromContextEmpty(t *testing.T) {
	require.Nil(t, GetUserFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

package security

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong horse", hash))
	assert.False(t, CheckPassword("correct horse", ""))
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "+")

	assert.True(t, TokensEqual(a, a))
	assert.False(t, TokensEqual(a, b))
	assert.False(t, TokensEqual(a, ""))

	assert.Len(t, HashToken(a), 64)
	assert.Equal(t, HashToken(a), HashToken(a))
	assert.NotEqual(t, HashToken(a), HashToken(b))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashToken(""))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		forwarded  string
		realIP     string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "ipv6 remote addr", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "forwarded ignored without proxy", remote: "192.0.2.1:1234", forwarded: "198.51.100.7", want: "192.0.2.1"},
		{name: "forwarded first hop", remote: "10.0.0.1:1234", forwarded: "198.51.100.7, 10.0.0.1", trustProxy: true, want: "198.51.100.7"},
		{name: "real ip", remote: "10.0.0.1:1234", realIP: "198.51.100.8", trustProxy: true, want: "198.51.100.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := GetClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientLimiter(t *testing.T) {
	cl := NewClientLimiter(0.001, 2)

	assert.True(t, cl.Allow("a"))
	assert.True(t, cl.Allow("a"))
	assert.False(t, cl.Allow("a"))
	assert.True(t, cl.Allow("b"))

	assert.Equal(t, 0, cl.Sweep(time.Now()))
	assert.Equal(t, 2, cl.Sweep(time.Now().Add(time.Hour)))
}

func TestTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer("short", time.Hour)
	require.Error(t, err)

	ti, err := NewTokenIssuer(strings.Repeat("s", 32), time.Hour)
	require.NoError(t, err)

	token, expires, err := ti.Issue(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Loginname)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ti.Parse(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenIssuer(strings.Repeat("o", 32), time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	ti.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = ti.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuePending(t *testing.T) {
	ti, err := NewTokenIssuer(strings.Repeat("s", 32), time.Hour)
	require.NoError(t, err)

	token, expires, err := ti.IssuePending(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expires, 5*time.Second)

	claims, err := ti.Parse(token)
	require.NoError(t, err)
	assert.True(t, claims.MFAPending)

	token, _, err = ti.Issue(42, "alice")
	require.NoError(t, err)
	claims, err = ti.Parse(token)
	require.NoError(t, err)
	assert.False(t, claims.MFAPending)
}

func TestVerifyTOTP(t *testing.T) {
	key, err := NewTOTPKey("id.example.com", "alice")
	require.NoError(t, err)
	assert.Contains(t, key.URL(), "otpauth://totp/")
	assert.Contains(t, key.URL(), "issuer=id.example.com")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code, err := TOTPCode(key.Secret(), now)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	tests := []struct {
		name string
		at   time.Time
		code string
		want bool
	}{
		{name: "current period", at: now, code: code, want: true},
		{name: "surrounding spaces", at: now, code: " " + code + " ", want: true},
		{name: "previous period", at: now.Add(30 * time.Second), code: code, want: true},
		{name: "stale", at: now.Add(2 * time.Minute), code: code, want: false},
		{name: "empty", at: now, code: "", want: false},
		{name: "garbage", at: now, code: "abcdef", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyTOTP(key.Secret(), tt.code, tt.at))
		})
	}
	assert.False(t, VerifyTOTP("", code, now))
}

func TestRecoveryCode(t *testing.T) {
	a, err := GenerateRecoveryCode()
	require.NoError(t, err)
	b, err := GenerateRecoveryCode()
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, NormalizeRecoveryCode(strings.ToUpper(a[:8])+" "+a[8:]))
}

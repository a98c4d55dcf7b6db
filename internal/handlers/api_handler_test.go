package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func formBody(values url.Values) requestOption {
	return func(r *http.Request) {
		r.Body = nopBody(values.Encode())
		r.ContentLength = int64(len(values.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

func TestAPIRequiresClientAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/getusers", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Basic realm="api"`, rec.Header().Get("WWW-Authenticate"))

	rec = s.do(http.MethodGet, "/api/v1/getusers", nil, withBasic("service", "wrong"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/getusers", nil, withBasic("nobody", "s3cret"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/getgroups", nil, withBasic("limited", "limited"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/getusers", nil, withBasic("limited", "limited"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIGetUsers(t *testing.T) {
	s := newTestServer(t)
	alice := s.user("alice", "staff")
	s.user("bob")
	auth := withBasic("service", "s3cret")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{"alice", "bob"}},
		{"by loginname", "loginname=alice", []string{"alice"}},
		{"by email", "email=bob@example.com", []string{"bob"}},
		{"by group", "group=staff", []string{"alice"}},
		{"by id", "id=" + itoa(alice.UnixUID), []string{"alice"}},
		{"non numeric id", "id=abc", []string{}},
		{"unknown loginname", "loginname=carol", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, "/api/v1/getusers?"+tt.query, nil, auth)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var users []apiUser
			decodeInto(t, rec, &users)
			got := make([]string, 0, len(users))
			for _, u := range users {
				got = append(got, u.Loginname)
			}
			require.ElementsMatch(t, tt.want, got)
		})
	}

	rec := s.do(http.MethodGet, "/api/v1/getusers?loginname=alice", nil, auth)
	var users []apiUser
	decodeInto(t, rec, &users)
	require.Equal(t, alice.UnixUID, users[0].ID)
	require.Equal(t, "alice@example.com", users[0].Email)
	require.Contains(t, users[0].Groups, "staff")
}

func TestAPIRejectsBadFilters(t *testing.T) {
	s := newTestServer(t)
	auth := withBasic("service", "s3cret")

	for _, path := range []string{
		"/api/v1/getusers?loginname=a&email=b",
		"/api/v1/getusers?loginname=a&loginname=b",
		"/api/v1/getusers?shoesize=42",
		"/api/v1/getgroups?name=a&id=1",
		"/api/v1/getgroups?colour=red",
	} {
		rec := s.do(http.MethodGet, path, nil, auth)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestAPIGetGroups(t *testing.T) {
	s := newTestServer(t)
	s.user("alice", "staff")
	auth := withBasic("service", "s3cret")

	rec := s.do(http.MethodPost, "/api/v1/getgroups", nil, auth, formBody(url.Values{"name": {"staff"}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var groups []apiGroup
	decodeInto(t, rec, &groups)
	require.Len(t, groups, 1)
	require.Equal(t, []string{"alice"}, groups[0].Members)

	rec = s.do(http.MethodGet, "/api/v1/getgroups?member=nobody", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAPICheckPassword(t *testing.T) {
	s := newTestServer(t)
	s.user("alice")
	auth := withBasic("service", "s3cret")
	check := func(password string) requestOption {
		return formBody(url.Values{"loginname": {"alice"}, "password": {password}})
	}

	rec := s.do(http.MethodPost, "/api/v1/checkpassword", nil, auth, check(testPassword))
	require.Equal(t, http.StatusOK, rec.Code)
	var user apiUser
	decodeInto(t, rec, &user)
	require.Equal(t, "alice", user.Loginname)

	rec = s.do(http.MethodPost, "/api/v1/checkpassword", nil, auth, formBody(url.Values{"loginname": {"alice"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/checkpassword", nil, auth,
		formBody(url.Values{"loginname": {"alice"}, "password": {"x"}, "extra": {"1"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for range 2 {
		rec = s.do(http.MethodPost, "/api/v1/checkpassword", nil, auth, check("wrong"))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
	}

	rec = s.do(http.MethodPost, "/api/v1/checkpassword", nil, auth, check(testPassword))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func nopBody(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "usergate"

// pendingDuration caps the lifetime of a token waiting for a second factor
const pendingDuration = 5 * time.Minute

// ErrInvalidToken indicates the bearer token failed validation
var ErrInvalidToken = errors.New("invalid token")

// Claims are carried by session tokens
type Claims struct {
	Loginname string `json:"loginname"`
	// MFAPending marks a token that only proves the password. It is
	// exchanged for a session once the second factor is verified.
	MFAPending bool `json:"mfa_pending,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the numeric user id from the subject claim
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenIssuer signs and verifies HS256 session tokens
type TokenIssuer struct {
	secret   []byte
	duration time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates an issuer. Tokens are valid for duration.
func NewTokenIssuer(secret string, duration time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	if duration <= 0 {
		return nil, errors.New("session duration must be greater than zero")
	}
	return &TokenIssuer{secret: []byte(secret), duration: duration, now: time.Now}, nil
}

// Issue signs a session token for the user
func (ti *TokenIssuer) Issue(userID int64, loginname string) (string, time.Time, error) {
	return ti.issue(userID, loginname, false, ti.duration)
}

// IssuePending signs a short lived token for a user that still has to
// present a second factor
func (ti *TokenIssuer) IssuePending(userID int64, loginname string) (string, time.Time, error) {
	return ti.issue(userID, loginname, true, min(ti.duration, pendingDuration))
}

func (ti *TokenIssuer) issue(userID int64, loginname string, pending bool, d time.Duration) (string, time.Time, error) {
	now := ti.now().UTC()
	expires := now.Add(d)
	claims := Claims{
		Loginname:  loginname,
		MFAPending: pending,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the signature, issuer and expiry of a token
func (ti *TokenIssuer) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

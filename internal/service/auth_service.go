package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/security"
)

// Session is an issued bearer token. With MFARequired set the token only
// serves to complete the login with VerifyMFA.
type Session struct {
	Token       string       `json:"token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	MFARequired bool         `json:"mfa_required,omitempty"`
	User        *models.User `json:"-"`
}

// AuthService handles authentication business logic
type AuthService struct {
	common
	limits *ratelimit.Set
	issuer *security.TokenIssuer
}

// NewAuthService creates a new auth service
func NewAuthService(db *database.DB, cfg *config.Config, limits *ratelimit.Set, issuer *security.TokenIssuer, opts ...Option) *AuthService {
	return &AuthService{
		common: newCommon(db, cfg, opts),
		limits: limits,
		issuer: issuer,
	}
}

// verify returns the user when loginname and password match, nil otherwise
func (s *AuthService) verify(ctx context.Context, loginname, password string) (*models.User, error) {
	user, err := s.repos().Users.GetByLoginname(ctx, loginname)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !security.CheckPassword(password, user.PasswordHash) {
		return nil, nil
	}
	return user, nil
}

// Login authenticates a user and issues a session token. Failed attempts
// count against the login limiter of the login name and the host limiter.
func (s *AuthService) Login(ctx context.Context, remote, loginname, password string) (*Session, error) {
	if err := s.limits.Host.Check(ctx, remote, s.limits.Login, loginname); err != nil {
		return nil, err
	}

	user, err := s.verify(ctx, loginname, password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := s.limits.Login.Log(ctx, loginname); err != nil {
			return nil, err
		}
		if err := s.limits.Host.Log(ctx, remote); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}
	if !user.IsInGroup(s.cfg.SelfserviceGroup) {
		return nil, ErrNoSelfserviceAccess
	}

	methods, err := s.repos().MFA.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mfa methods: %w", err)
	}
	if methods.Enabled() {
		token, expires, err := s.issuer.IssuePending(user.ID, user.Loginname)
		if err != nil {
			return nil, fmt.Errorf("failed to issue session: %w", err)
		}
		zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Msg("Login awaiting second factor")
		return &Session{Token: token, ExpiresAt: expires, MFARequired: true, User: user}, nil
	}
	return s.issue(ctx, user)
}

// VerifyMFA completes a login that is waiting for a second factor. code is
// either a TOTP code or an unused recovery code, which is consumed. Failed
// attempts count against the mfa limiter of the login name.
func (s *AuthService) VerifyMFA(ctx context.Context, pendingToken, code string) (*Session, error) {
	user, err := s.sessionUser(ctx, pendingToken, true)
	if err != nil {
		return nil, err
	}
	if err := s.limits.MFA.Check(ctx, user.Loginname); err != nil {
		return nil, err
	}

	ok, err := s.verifySecondFactor(ctx, user.ID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.limits.MFA.Log(ctx, user.Loginname); err != nil {
			return nil, err
		}
		return nil, ErrInvalidMFACode
	}
	return s.issue(ctx, user)
}

func (s *AuthService) verifySecondFactor(ctx context.Context, userID int64, code string) (bool, error) {
	repos := s.repos()
	methods, err := repos.MFA.ListByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get mfa methods: %w", err)
	}
	for _, m := range methods.OfType(models.MFATOTP) {
		if security.VerifyTOTP(m.TOTPKey, code, s.clock()) {
			return true, nil
		}
	}

	code = security.NormalizeRecoveryCode(code)
	if code == "" {
		return false, nil
	}
	codes := methods.OfType(models.MFARecoveryCode)
	for _, m := range codes {
		if !security.CheckPassword(code, m.RecoveryHash) {
			continue
		}
		deleted, err := repos.MFA.Delete(ctx, userID, m.ID)
		if err != nil {
			return false, err
		}
		if deleted {
			zerolog.Ctx(ctx).Info().Int64("user_id", userID).Int("recovery_codes_left", len(codes)-1).Msg("Recovery code used")
		}
		return deleted, nil
	}
	return false, nil
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*Session, error) {
	token, expires, err := s.issuer.Issue(user.ID, user.Loginname)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Msg("Login")
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// ValidateSession checks a bearer token and returns the associated user. A
// token still waiting for its second factor is rejected.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	return s.sessionUser(ctx, token, false)
}

func (s *AuthService) sessionUser(ctx context.Context, token string, pending bool) (*models.User, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil || claims.MFAPending != pending {
		return nil, ErrSessionInvalid
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, ErrSessionInvalid
	}

	user, err := s.repos().Users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	// a deleted and recreated id must not inherit the session
	if user == nil || user.Loginname != claims.Loginname {
		return nil, ErrSessionInvalid
	}
	return user, nil
}

// CheckPassword verifies credentials on behalf of an API client. A mismatch
// returns nil and counts against the login limiter only.
func (s *AuthService) CheckPassword(ctx context.Context, loginname, password string) (*models.User, error) {
	loginname = normalizeLoginname(loginname)
	if err := s.limits.Login.Check(ctx, loginname); err != nil {
		return nil, err
	}
	user, err := s.verify(ctx, loginname, password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := s.limits.Login.Log(ctx, loginname); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return user, nil
}

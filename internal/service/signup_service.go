package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/metrics"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/validation"
)

// Login name availability as reported by CheckLoginname
const (
	StatusOK          = "ok"
	StatusInvalid     = "invalid"
	StatusExists      = "exists"
	StatusRatelimited = "ratelimited"
)

// SignupService runs the self signup flow: availability check, submission
// with mail confirmation and the final confirmation that creates the user
type SignupService struct {
	common
	dir    *DirectoryService
	limits *ratelimit.Set
	mailer Mailer
}

// NewSignupService creates a new signup service
func NewSignupService(db *database.DB, cfg *config.Config, dir *DirectoryService, limits *ratelimit.Set, mailer Mailer, opts ...Option) *SignupService {
	return &SignupService{
		common: newCommon(db, cfg, opts),
		dir:    dir,
		limits: limits,
		mailer: mailer,
	}
}

// SignupRequest is the submitted signup form. InviteToken is empty for
// direct signups.
type SignupRequest struct {
	Loginname   string `json:"loginname"`
	Displayname string `json:"displayname"`
	Mail        string `json:"mail"`
	Password1   string `json:"password1"`
	Password2   string `json:"password2"`
	InviteToken string `json:"-"`
}

func (s *SignupService) kind(signup *models.Signup) SignupKind {
	direct := &DirectSignup{dir: s.dir}
	if signup.IsInvite() {
		return &InviteSignup{direct: direct, common: &s.common}
	}
	return direct
}

// signupInvite resolves the invite a signup is started from. Without token
// self signup must be enabled.
func (s *SignupService) signupInvite(ctx context.Context, repos *repository.Repos, token string) (*models.Invite, error) {
	if token == "" {
		if !s.cfg.SelfSignup {
			return nil, ErrSignupDisabled
		}
		return nil, nil
	}
	inv, err := repos.Invites.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInviteNotFound
	}
	if err := loadCreator(ctx, repos, inv); err != nil {
		return nil, err
	}
	if !inv.Active(s.clock(), s.policy()) || !inv.AllowSignup {
		return nil, ErrAccessDenied
	}
	return inv, nil
}

// CheckLoginname reports whether loginname is available for a signup. Every
// check that is not throttled counts against the host limiter.
func (s *SignupService) CheckLoginname(ctx context.Context, remote, loginname, inviteToken string) (string, error) {
	repos := s.repos()
	if _, err := s.signupInvite(ctx, repos, inviteToken); err != nil {
		return "", err
	}

	delay, err := s.limits.Host.Delay(ctx, remote)
	if err != nil {
		return "", err
	}
	if delay > 0 {
		return StatusRatelimited, nil
	}
	if err := s.limits.Host.Log(ctx, remote); err != nil {
		return "", err
	}

	if validation.ValidateLoginname(loginname) != nil {
		return StatusInvalid, nil
	}
	existing, err := repos.Users.GetByLoginname(ctx, loginname)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return StatusExists, nil
	}
	return StatusOK, nil
}

// Submit validates and stores a pending signup and mails the confirmation
// link. When the mail cannot be sent the signup is kept and ErrMailNotSent is
// returned together with it.
func (s *SignupService) Submit(ctx context.Context, remote string, req SignupRequest) (*models.Signup, Result, error) {
	repos := s.repos()
	inv, err := s.signupInvite(ctx, repos, req.InviteToken)
	if err != nil {
		return nil, Result{}, err
	}

	if req.Password1 != req.Password2 {
		return nil, fail(msgPasswordsMismatch), nil
	}
	if err := s.limits.Host.Check(ctx, remote, s.limits.Signup, req.Mail); err != nil {
		return nil, Result{}, err
	}
	if err := s.limits.Host.Log(ctx, remote); err != nil {
		return nil, Result{}, err
	}

	token, err := security.GenerateToken()
	if err != nil {
		return nil, Result{}, err
	}
	signup := &models.Signup{
		Token:       token,
		Loginname:   req.Loginname,
		Displayname: req.Displayname,
		Mail:        req.Mail,
		CreatedAt:   s.clock(),
	}
	if inv != nil {
		signup.InviteID = &inv.ID
	}

	res, err := s.kind(signup).Validate(ctx, repos, signup, req.Password1)
	if err != nil || !res.Success {
		return nil, res, err
	}
	if signup.PasswordHash, err = security.HashPassword(req.Password1); err != nil {
		return nil, Result{}, err
	}
	if signup, err = repos.Signups.Create(ctx, signup); err != nil {
		return nil, Result{}, err
	}

	log := zerolog.Ctx(ctx)
	err = s.mailer.Send(ctx, signup.Mail, "Confirm your mail address", MailSignup, MailData{
		Organisation: s.cfg.OrganisationName,
		Displayname:  signup.Displayname,
		Loginname:    signup.Loginname,
		Link:         s.link("/signup/confirm/%d/%s", signup.ID, signup.Token),
	})
	if err != nil {
		log.Warn().Err(err).Int64("signup_id", signup.ID).Msg("Signup mail not sent")
		if !errors.Is(err, ErrMailNotSent) {
			err = errors.Join(ErrMailNotSent, err)
		}
		return signup, Result{}, err
	}

	if err := s.limits.Signup.Log(ctx, signup.Mail); err != nil {
		return nil, Result{}, err
	}
	log.Info().Int64("signup_id", signup.ID).Str("loginname", signup.Loginname).Bool("invite", signup.IsInvite()).Msg("Signup submitted")
	return signup, success(msgSuccess), nil
}

// Confirm completes a signup after the user followed the mail link and
// re-entered the password
func (s *SignupService) Confirm(ctx context.Context, remote string, id int64, token, password string) (*models.User, Result, error) {
	signup, err := s.repos().Signups.GetByID(ctx, id)
	if err != nil {
		return nil, Result{}, err
	}
	if signup == nil || !security.TokensEqual(signup.Token, token) || signup.Expired(s.clock()) || signup.Completed {
		return nil, fail(msgSignupInvalid), nil
	}
	if !signup.IsInvite() && !s.cfg.SelfSignup {
		return nil, Result{}, ErrSignupDisabled
	}

	if err := s.limits.Host.Check(ctx, remote, s.limits.SignupConfirm, token); err != nil {
		return nil, Result{}, err
	}
	if !security.CheckPassword(password, signup.PasswordHash) {
		if err := s.limits.Host.Log(ctx, remote); err != nil {
			return nil, Result{}, err
		}
		if err := s.limits.SignupConfirm.Log(ctx, token); err != nil {
			return nil, Result{}, err
		}
		return nil, fail(msgWrongPassword), nil
	}

	var user *models.User
	res, err := s.redeem(ctx, func(repos *repository.Repos) (Result, error) {
		var res Result
		var err error
		user, res, err = s.kind(signup).Finish(ctx, repos, signup, password)
		return res, err
	})
	if err != nil {
		return nil, Result{}, err
	}

	kind := "signup"
	if signup.IsInvite() {
		kind = "invite_signup"
	}
	metrics.Redemptions.WithLabelValues(kind, outcome(res)).Inc()
	if !res.Success {
		return nil, res, nil
	}

	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Str("loginname", user.Loginname).Str("kind", kind).Msg("Signup completed")
	return user, res, nil
}

// normalizeLoginname lowercases and trims a login name typed by a user
func normalizeLoginname(loginname string) string {
	return strings.ToLower(strings.TrimSpace(loginname))
}

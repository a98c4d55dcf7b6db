package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/validation"
)

const (
	msgResetRequested     = "We sent a mail to this user's mail address if you entered the correct mail and login name combination"
	msgTokenExpired       = "Token expired, please try again."
	msgPasswordRequired   = "You need to set a password, please try again."
	msgResetMismatch      = "Passwords do not match, please try again."
	msgResetInvalid       = "Password is not valid, please try again."
	msgNewPasswordSet     = "New password set"
	msgDisplaynameChanged = "Display name changed."
	msgDisplaynameBad     = "Display name is not valid."
	msgMailVerifySent     = "We sent you an email, please verify your mail address."
	msgMailBad            = "Mail address is not valid."
	msgNewMailSet         = "New mail set"
	msgPasswordChanged    = "Password changed"
	msgPasswordBad        = "Invalid password"
	msgLeaveDisabled      = "Leaving roles is disabled"
)

// SelfserviceService lets users manage their own account
type SelfserviceService struct {
	common
	limits *ratelimit.Set
	mailer Mailer
}

// NewSelfserviceService creates a new selfservice service
func NewSelfserviceService(db *database.DB, cfg *config.Config, limits *ratelimit.Set, mailer Mailer, opts ...Option) *SelfserviceService {
	return &SelfserviceService{common: newCommon(db, cfg, opts), limits: limits, mailer: mailer}
}

// ForgotPassword sends a password reset mail when loginname and mail belong
// to the same user. The result is the same whether or not they do.
func (s *SelfserviceService) ForgotPassword(ctx context.Context, remote, loginname, mail string) (Result, error) {
	loginname = normalizeLoginname(loginname)
	key := loginname + "/" + mail
	if err := s.limits.Host.Check(ctx, remote, s.limits.PasswordReset, key); err != nil {
		return Result{}, err
	}
	if err := s.limits.PasswordReset.Log(ctx, key); err != nil {
		return Result{}, err
	}
	if err := s.limits.Host.Log(ctx, remote); err != nil {
		return Result{}, err
	}

	user, err := s.repos().Users.GetByLoginname(ctx, loginname)
	if err != nil {
		return Result{}, err
	}
	if user != nil && user.Mail == mail {
		if err := s.SendPasswordReset(ctx, user, false); err != nil {
			if !errors.Is(err, ErrMailNotSent) {
				return Result{}, err
			}
			zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", user.ID).Msg("Password reset mail not sent")
		}
	}
	return success(msgResetRequested), nil
}

// SendPasswordReset issues a password token for user and mails the link.
// New users get the welcome mail instead of the reset mail.
func (s *SelfserviceService) SendPasswordReset(ctx context.Context, user *models.User, isNew bool) error {
	token, err := security.GenerateToken()
	if err != nil {
		return err
	}
	t := &models.PasswordToken{Token: token, Loginname: user.Loginname, CreatedAt: s.clock()}
	if err := s.repos().Tokens.CreatePasswordToken(ctx, t); err != nil {
		return err
	}

	subject, tmpl := "Password reset", MailPasswordReset
	if isNew {
		subject, tmpl = fmt.Sprintf("Welcome to the %s infrastructure", s.cfg.OrganisationName), MailNewUser
	}
	return s.mailer.Send(ctx, user.Mail, subject, tmpl, MailData{
		Organisation: s.cfg.OrganisationName,
		Displayname:  user.Displayname,
		Loginname:    user.Loginname,
		Link:         s.link("/self/token/password/%s", token),
	})
}

// ResetPassword redeems a password token
func (s *SelfserviceService) ResetPassword(ctx context.Context, token, password1, password2 string) (Result, error) {
	var res Result
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		t, err := repos.Tokens.GetPasswordToken(ctx, token)
		if err != nil {
			return err
		}
		if t == nil {
			res = fail(msgTokenExpired)
			return nil
		}
		if t.Expired(s.clock()) {
			res = fail(msgTokenExpired)
			return repos.Tokens.DeletePasswordToken(ctx, token)
		}

		switch {
		case password1 == "":
			res = fail(msgPasswordRequired)
			return nil
		case password1 != password2:
			res = fail(msgResetMismatch)
			return nil
		case validation.ValidatePassword(password1) != nil:
			res = fail(msgResetInvalid)
			return nil
		}

		user, err := repos.Users.GetByLoginname(ctx, t.Loginname)
		if err != nil {
			return err
		}
		if user == nil {
			res = fail(msgTokenExpired)
			return repos.Tokens.DeletePasswordToken(ctx, token)
		}
		hash, err := security.HashPassword(password1)
		if err != nil {
			return err
		}
		if err := repos.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		res = success(msgNewPasswordSet)
		return repos.Tokens.DeletePasswordToken(ctx, token)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// UpdateProfile changes the display name directly and starts a mail
// verification for a changed mail address. One result is returned per
// changed field.
func (s *SelfserviceService) UpdateProfile(ctx context.Context, user *models.User, displayname, mail string) ([]Result, error) {
	var results []Result
	if displayname != user.Displayname {
		if validation.ValidateDisplayname(displayname) != nil {
			results = append(results, fail(msgDisplaynameBad))
		} else {
			user.Displayname = displayname
			if err := s.repos().Users.Update(ctx, user); err != nil {
				return nil, err
			}
			results = append(results, success(msgDisplaynameChanged))
		}
	}
	if mail != user.Mail {
		err := s.SendMailVerification(ctx, user, mail)
		var verr validation.ValidationError
		switch {
		case errors.As(err, &verr):
			results = append(results, fail(msgMailBad))
		case err != nil:
			return results, err
		default:
			results = append(results, success(msgMailVerifySent))
		}
	}
	return results, nil
}

// SendMailVerification mails a confirmation link to newMail. The address is
// only changed once the link is followed.
func (s *SelfserviceService) SendMailVerification(ctx context.Context, user *models.User, newMail string) error {
	if err := validation.ValidateMail(newMail); err != nil {
		return err
	}
	token, err := security.GenerateToken()
	if err != nil {
		return err
	}
	t := &models.MailToken{Token: token, Loginname: user.Loginname, NewMail: newMail, CreatedAt: s.clock()}
	if err := s.repos().Tokens.CreateMailToken(ctx, t); err != nil {
		return err
	}
	return s.mailer.Send(ctx, newMail, "Mail verification", MailMailVerification, MailData{
		Organisation: s.cfg.OrganisationName,
		Displayname:  user.Displayname,
		Loginname:    user.Loginname,
		Link:         s.link("/self/token/mail/%s", token),
	})
}

// VerifyMail redeems a mail token. Only the user the token was issued for
// may redeem it.
func (s *SelfserviceService) VerifyMail(ctx context.Context, actor *models.User, token string) (Result, error) {
	var res Result
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		t, err := repos.Tokens.GetMailToken(ctx, token)
		if err != nil {
			return err
		}
		if t == nil {
			res = fail(msgTokenExpired)
			return nil
		}
		if t.Expired(s.clock()) {
			res = fail(msgTokenExpired)
			return repos.Tokens.DeleteMailToken(ctx, token)
		}
		if t.Loginname != actor.Loginname {
			return ErrAccessDenied
		}

		user, err := repos.Users.GetByID(ctx, actor.ID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		user.Mail = t.NewMail
		if err := repos.Users.Update(ctx, user); err != nil {
			return err
		}
		res = success(msgNewMailSet)
		return repos.Tokens.DeleteMailToken(ctx, token)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// ChangePassword sets a new password for user
func (s *SelfserviceService) ChangePassword(ctx context.Context, user *models.User, password1, password2 string) (Result, error) {
	if password1 != password2 {
		return fail(msgPasswordsMismatch), nil
	}
	if validation.ValidatePassword(password1) != nil {
		return fail(msgPasswordBad), nil
	}
	hash, err := security.HashPassword(password1)
	if err != nil {
		return Result{}, err
	}
	if err := s.repos().Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return Result{}, err
	}
	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Msg("Password changed")
	return success(msgPasswordChanged), nil
}

// LeaveRole removes one of the user's own roles
func (s *SelfserviceService) LeaveRole(ctx context.Context, user *models.User, roleID int64) (Result, error) {
	if !s.cfg.RoleSelfservice {
		return fail(msgLeaveDisabled), nil
	}
	var res Result
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		role, err := repos.Roles.GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if role == nil {
			return ErrRoleNotFound
		}
		if err := repos.Users.RemoveRole(ctx, user.ID, role.ID); err != nil {
			return err
		}
		if err := updateGroups(ctx, repos, user.ID); err != nil {
			return err
		}
		res = success(fmt.Sprintf("You left role %s", role.Name))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

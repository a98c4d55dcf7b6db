package service

import (
	"context"
	"errors"

	"usergate/internal/models"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/validation"
)

const (
	msgLoginnameInvalid   = "Login name is invalid"
	msgDisplaynameInvalid = "Display name is invalid"
	msgMailInvalid        = "Mail address is invalid"
	msgPasswordInvalid    = "Password is invalid"
	msgLoginnameExists    = "A user with this login name already exists"
	msgWrongPassword      = "Wrong password"
	msgSignupInvalid      = "Invalid signup link"
	msgPasswordsMismatch  = "Passwords do not match"
)

// SignupKind validates and completes one flavour of pending signup. Both
// methods run against the given repositories so that Finish can share the
// confirmation transaction.
type SignupKind interface {
	Validate(ctx context.Context, repos *repository.Repos, s *models.Signup, password string) (Result, error)
	Finish(ctx context.Context, repos *repository.Repos, s *models.Signup, password string) (*models.User, Result, error)
}

// DirectSignup is a signup without invite. Finish creates the user with the
// default roles.
type DirectSignup struct {
	dir *DirectoryService
}

// Validate checks the signup fields and that the login name is free
func (k *DirectSignup) Validate(ctx context.Context, repos *repository.Repos, s *models.Signup, password string) (Result, error) {
	if validation.ValidateLoginname(s.Loginname) != nil {
		return fail(msgLoginnameInvalid), nil
	}
	if validation.ValidateDisplayname(s.Displayname) != nil {
		return fail(msgDisplaynameInvalid), nil
	}
	if validation.ValidateMail(s.Mail) != nil {
		return fail(msgMailInvalid), nil
	}
	if validation.ValidatePassword(password) != nil {
		return fail(msgPasswordInvalid), nil
	}
	existing, err := repos.Users.GetByLoginname(ctx, s.Loginname)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return fail(msgLoginnameExists), nil
	}
	return success(msgSuccess), nil
}

// Finish creates the user, assigns the default roles and completes the signup
func (k *DirectSignup) Finish(ctx context.Context, repos *repository.Repos, s *models.Signup, password string) (*models.User, Result, error) {
	if !security.CheckPassword(password, s.PasswordHash) {
		return nil, fail(msgWrongPassword), nil
	}
	res, err := k.Validate(ctx, repos, s, password)
	if err != nil || !res.Success {
		return nil, res, err
	}

	user, err := k.dir.insertUser(ctx, repos, &models.User{
		Loginname:    s.Loginname,
		Displayname:  s.Displayname,
		Mail:         s.Mail,
		PasswordHash: s.PasswordHash,
	})
	if errors.Is(err, ErrLoginnameTaken) {
		return nil, fail(msgLoginnameExists), nil
	}
	if err != nil {
		return nil, Result{}, err
	}

	roles, err := k.dir.defaultRoles(ctx, repos)
	if err != nil {
		return nil, Result{}, err
	}
	for _, role := range roles {
		if err := repos.Users.AddRole(ctx, user.ID, role.ID); err != nil {
			return nil, Result{}, err
		}
	}
	if err := updateGroups(ctx, repos, user.ID); err != nil {
		return nil, Result{}, err
	}

	completed, err := repos.Signups.MarkCompleted(ctx, s.ID, user.ID)
	if err != nil {
		return nil, Result{}, err
	}
	if !completed {
		return nil, fail(msgSignupInvalid), nil
	}
	s.Completed = true
	s.UserID = &user.ID
	return user, success(msgSuccess), nil
}

// InviteSignup is a signup started from an invite link. It additionally
// requires the invite to be active and to allow signup, and grants the
// invite's roles on Finish.
type InviteSignup struct {
	direct *DirectSignup
	common *common
}

func (k *InviteSignup) invite(ctx context.Context, repos *repository.Repos, s *models.Signup) (*models.Invite, error) {
	if s.InviteID == nil {
		return nil, nil
	}
	inv, err := repos.Invites.GetByID(ctx, *s.InviteID)
	if err != nil || inv == nil {
		return nil, err
	}
	if err := loadCreator(ctx, repos, inv); err != nil {
		return nil, err
	}
	if !inv.Active(k.common.clock(), k.common.policy()) || !inv.AllowSignup {
		return nil, nil
	}
	return inv, nil
}

// Validate checks the invite and then the signup fields
func (k *InviteSignup) Validate(ctx context.Context, repos *repository.Repos, s *models.Signup, password string) (Result, error) {
	inv, err := k.invite(ctx, repos, s)
	if err != nil {
		return Result{}, err
	}
	if inv == nil {
		return fail(msgInviteInvalid), nil
	}
	return k.direct.Validate(ctx, repos, s, password)
}

// Finish redeems the invite, creates the user and grants the invite's roles
func (k *InviteSignup) Finish(ctx context.Context, repos *repository.Repos, s *models.Signup, password string) (*models.User, Result, error) {
	inv, err := k.invite(ctx, repos, s)
	if err != nil {
		return nil, Result{}, err
	}
	if inv == nil {
		return nil, fail(msgInviteInvalid), nil
	}
	marked, err := repos.Invites.MarkUsed(ctx, inv.ID)
	if err != nil {
		return nil, Result{}, err
	}
	if !marked {
		return nil, fail(msgInviteInvalid), nil
	}

	user, res, err := k.direct.Finish(ctx, repos, s, password)
	if err != nil || !res.Success {
		return nil, res, err
	}
	for _, role := range inv.Roles {
		if err := repos.Users.AddRole(ctx, user.ID, role.ID); err != nil {
			return nil, Result{}, err
		}
	}
	if err := updateGroups(ctx, repos, user.ID); err != nil {
		return nil, Result{}, err
	}
	return user, res, nil
}

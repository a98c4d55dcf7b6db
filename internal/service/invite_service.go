package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/metrics"
	"usergate/internal/models"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/validation"
)

const (
	msgInviteInvalid    = "Invite link is invalid"
	msgInviteNoRoles    = "Invite link does not grant any roles"
	msgInviteNoNewRoles = "Invite link does not grant any new roles"
	msgSuccess          = "Success"
)

// InviteService creates, lists and redeems invite links
type InviteService struct {
	common
}

// NewInviteService creates a new invite service
func NewInviteService(db *database.DB, cfg *config.Config, opts ...Option) *InviteService {
	return &InviteService{common: newCommon(db, cfg, opts)}
}

// InviteRequest describes a new invite
type InviteRequest struct {
	ValidUntil  time.Time `json:"valid_until"`
	SingleUse   bool      `json:"single_use"`
	AllowSignup bool      `json:"allow_signup"`
	RoleIDs     []int64   `json:"role_ids"`
}

// InviteACL reports whether actor may manage invites at all: admins,
// members of the signup group and moderators of any role
func (s *InviteService) InviteACL(ctx context.Context, actor *models.User) (bool, error) {
	if actor == nil {
		return false, nil
	}
	if actor.IsInGroup(s.cfg.AdminGroup) || actor.IsInGroup(s.cfg.SignupGroup) {
		return true, nil
	}
	roles, err := s.repos().Roles.List(ctx)
	if err != nil {
		return false, err
	}
	for i := range roles {
		if roles[i].ModeratedBy(actor) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InviteService) requireACL(ctx context.Context, actor *models.User) error {
	allowed, err := s.InviteACL(ctx, actor)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrAccessDenied
	}
	return nil
}

// canView: admins see everything, others their own invites and invites
// carrying a role they moderate
func (s *InviteService) canView(actor *models.User, inv *models.Invite) bool {
	if actor.IsInGroup(s.cfg.AdminGroup) {
		return true
	}
	if inv.CreatorID != nil && *inv.CreatorID == actor.ID {
		return true
	}
	for i := range inv.Roles {
		if inv.Roles[i].ModeratedBy(actor) {
			return true
		}
	}
	return false
}

// canReset: admins and the creator
func (s *InviteService) canReset(actor *models.User, inv *models.Invite) bool {
	if actor.IsInGroup(s.cfg.AdminGroup) {
		return true
	}
	return inv.CreatorID != nil && *inv.CreatorID == actor.ID
}

// Create stores a new invite created by actor
func (s *InviteService) Create(ctx context.Context, actor *models.User, req InviteRequest) (*models.Invite, error) {
	if err := s.requireACL(ctx, actor); err != nil {
		return nil, err
	}

	now := s.clock()
	if !req.ValidUntil.After(now) {
		return nil, validation.ValidationError{Field: "valid_until", Message: "valid until must be in the future"}
	}
	maxValid := now.Add(time.Duration(s.cfg.InviteMaxValidDays) * 24 * time.Hour)
	if req.ValidUntil.After(maxValid) {
		return nil, ErrInviteTooLong
	}

	token, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}

	var created *models.Invite
	err = s.inTx(ctx, func(repos *repository.Repos) error {
		ids := dedupe(req.RoleIDs)
		roles, err := repos.Roles.ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(roles) != len(ids) {
			return ErrUnknownRole
		}

		inv := &models.Invite{
			Token:       token,
			CreatedAt:   now,
			CreatorID:   &actor.ID,
			Creator:     actor,
			ValidUntil:  req.ValidUntil.UTC(),
			SingleUse:   req.SingleUse,
			AllowSignup: req.AllowSignup,
			Roles:       roles,
		}
		if !inv.Permitted(s.policy()) {
			return ErrInviteNotPermitted
		}
		if !inv.AllowSignup && len(inv.Roles) == 0 {
			return ErrInviteNoCapability
		}

		created, err = repos.Invites.Create(ctx, inv)
		return err
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Int64("invite_id", created.ID).
		Str("creator", actor.Loginname).
		Str("token", created.ShortToken()).
		Msg("Invite created")
	return created, nil
}

// List returns the invites visible to actor with their creators and
// redemption history resolved
func (s *InviteService) List(ctx context.Context, actor *models.User) ([]*models.Invite, error) {
	if err := s.requireACL(ctx, actor); err != nil {
		return nil, err
	}
	repos := s.repos()
	invites, err := repos.Invites.List(ctx)
	if err != nil {
		return nil, err
	}

	creators := make(map[int64]*models.User)
	visible := make([]*models.Invite, 0, len(invites))
	for _, inv := range invites {
		if !s.canView(actor, inv) {
			continue
		}
		if inv.CreatorID != nil {
			creator, seen := creators[*inv.CreatorID]
			if !seen {
				if creator, err = repos.Users.GetByID(ctx, *inv.CreatorID); err != nil {
					return nil, err
				}
				creators[*inv.CreatorID] = creator
			}
			inv.Creator = creator
		}
		if inv.Grants, err = repos.Invites.Grants(ctx, inv.ID); err != nil {
			return nil, err
		}
		if inv.Signups, err = repos.Signups.CompletedForInvite(ctx, inv.ID); err != nil {
			return nil, err
		}
		visible = append(visible, inv)
	}
	return visible, nil
}

// Disable blocks an invite visible to actor
func (s *InviteService) Disable(ctx context.Context, actor *models.User, id int64) error {
	return s.changeState(ctx, actor, id, s.canView, (*models.Invite).Disable)
}

// Reset re-enables an invite and clears its used flag. Only admins and the
// creator may reset.
func (s *InviteService) Reset(ctx context.Context, actor *models.User, id int64) error {
	return s.changeState(ctx, actor, id, s.canReset, (*models.Invite).Reset)
}

func (s *InviteService) changeState(ctx context.Context, actor *models.User, id int64,
	allowed func(*models.User, *models.Invite) bool, apply func(*models.Invite)) error {
	if err := s.requireACL(ctx, actor); err != nil {
		return err
	}
	return s.inTx(ctx, func(repos *repository.Repos) error {
		inv, err := repos.Invites.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil || !allowed(actor, inv) {
			return ErrInviteNotFound
		}
		apply(inv)
		return repos.Invites.SetState(ctx, inv)
	})
}

// Active reports whether inv can currently be redeemed
func (s *InviteService) Active(inv *models.Invite) bool {
	return inv.Active(s.clock(), s.policy())
}

// Lookup returns the invite behind token and whether it is currently active
func (s *InviteService) Lookup(ctx context.Context, token string) (*models.Invite, bool, error) {
	repos := s.repos()
	inv, err := repos.Invites.GetByToken(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if inv == nil {
		return nil, false, ErrInviteNotFound
	}
	if err := loadCreator(ctx, repos, inv); err != nil {
		return nil, false, err
	}
	return inv, inv.Active(s.clock(), s.policy()), nil
}

// Grant redeems an invite for an existing user: the invite's roles are
// added, the invite is marked used and the grant is recorded
func (s *InviteService) Grant(ctx context.Context, token string, userID int64) (Result, error) {
	res, err := s.redeem(ctx, func(repos *repository.Repos) (Result, error) {
		inv, err := repos.Invites.GetByToken(ctx, token)
		if err != nil {
			return Result{}, err
		}
		if inv == nil {
			return Result{}, ErrInviteNotFound
		}
		if err := loadCreator(ctx, repos, inv); err != nil {
			return Result{}, err
		}
		user, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		if user == nil {
			return Result{}, ErrUserNotFound
		}

		if !inv.Active(s.clock(), s.policy()) {
			return fail(msgInviteInvalid), nil
		}
		if len(inv.Roles) == 0 {
			return fail(msgInviteNoRoles), nil
		}
		var missing []models.Role
		for _, role := range inv.Roles {
			if !user.HasRole(role.ID) {
				missing = append(missing, role)
			}
		}
		if len(missing) == 0 {
			return fail(msgInviteNoNewRoles), nil
		}

		marked, err := repos.Invites.MarkUsed(ctx, inv.ID)
		if err != nil {
			return Result{}, err
		}
		if !marked {
			return fail(msgInviteInvalid), nil
		}
		for _, role := range missing {
			if err := repos.Users.AddRole(ctx, user.ID, role.ID); err != nil {
				return Result{}, err
			}
		}
		if err := updateGroups(ctx, repos, user.ID); err != nil {
			return Result{}, err
		}
		if _, err := repos.Invites.AddGrant(ctx, inv.ID, user.ID); err != nil {
			return Result{}, err
		}
		return success(msgSuccess), nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.Redemptions.WithLabelValues("grant", outcome(res)).Inc()
	zerolog.Ctx(ctx).Info().Int64("user_id", userID).Bool("success", res.Success).Str("message", res.Message).Msg("Invite grant")
	return res, nil
}

func outcome(res Result) string {
	if res.Success {
		return "success"
	}
	return "rejected"
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/credentials"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/validation"
)

// DirectoryService manages users, groups and roles and keeps the effective
// group sets in sync with role membership
type DirectoryService struct {
	common
}

// NewDirectoryService creates a new directory service
func NewDirectoryService(db *database.DB, cfg *config.Config, opts ...Option) *DirectoryService {
	return &DirectoryService{common: newCommon(db, cfg, opts)}
}

// UserRequest describes a user created by an administrator
type UserRequest struct {
	Loginname     string  `json:"loginname"`
	Displayname   string  `json:"displayname"`
	Mail          string  `json:"mail"`
	Password      string  `json:"password"`
	IsServiceUser bool    `json:"is_service_user"`
	RoleIDs       []int64 `json:"role_ids"`
}

// UserUpdate changes a user. Nil fields are left untouched.
type UserUpdate struct {
	Displayname *string  `json:"displayname"`
	Mail        *string  `json:"mail"`
	Password    *string  `json:"password"`
	RoleIDs     *[]int64 `json:"role_ids"`
}

// RoleRequest describes a new role
type RoleRequest struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	IsDefault        bool    `json:"is_default"`
	ModeratorGroupID *int64  `json:"moderator_group_id"`
	GroupIDs         []int64 `json:"group_ids"`
}

// UpdateGroups recomputes the effective groups of a user
func (s *DirectoryService) UpdateGroups(ctx context.Context, userID int64) error {
	return s.inTx(ctx, func(repos *repository.Repos) error {
		return updateGroups(ctx, repos, userID)
	})
}

// GetUser retrieves a user with groups and roles
func (s *DirectoryService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.repos().Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// GetUserByLoginname retrieves a user with groups and roles
func (s *DirectoryService) GetUserByLoginname(ctx context.Context, loginname string) (*models.User, error) {
	u, err := s.repos().Users.GetByLoginname(ctx, loginname)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ListUsers returns all users with their effective groups
func (s *DirectoryService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.repos().Users.List(ctx)
}

// ListGroups returns all groups
func (s *DirectoryService) ListGroups(ctx context.Context) ([]models.Group, error) {
	return s.repos().Groups.List(ctx)
}

// GroupMembers returns the login names of the effective members of a group
func (s *DirectoryService) GroupMembers(ctx context.Context, groupID int64) ([]string, error) {
	return s.repos().Groups.MemberLoginnames(ctx, groupID)
}

// ListRoles returns all roles with their groups
func (s *DirectoryService) ListRoles(ctx context.Context) ([]models.Role, error) {
	return s.repos().Roles.List(ctx)
}

// CreateUser creates a user with the given roles. Without a password a
// random one is set; the caller is expected to send a password reset mail.
func (s *DirectoryService) CreateUser(ctx context.Context, req UserRequest) (*models.User, error) {
	if err := validation.ValidateLoginname(req.Loginname); err != nil {
		return nil, err
	}
	if req.Displayname == "" {
		req.Displayname = req.Loginname
	}
	if err := validation.ValidateDisplayname(req.Displayname); err != nil {
		return nil, err
	}
	if err := validation.ValidateMail(req.Mail); err != nil {
		return nil, err
	}

	var hash string
	var err error
	if req.Password == "" {
		hash, err = randomPasswordHash()
	} else if err = validation.ValidatePassword(req.Password); err == nil {
		hash, err = security.HashPassword(req.Password)
	}
	if err != nil {
		return nil, err
	}

	var created *models.User
	err = s.inTx(ctx, func(repos *repository.Repos) error {
		roles, err := repos.Roles.ListByIDs(ctx, req.RoleIDs)
		if err != nil {
			return err
		}
		if len(roles) != len(dedupe(req.RoleIDs)) {
			return ErrUnknownRole
		}

		u := &models.User{
			Loginname:     req.Loginname,
			Displayname:   req.Displayname,
			Mail:          req.Mail,
			PasswordHash:  hash,
			IsServiceUser: req.IsServiceUser,
		}
		if created, err = s.insertUser(ctx, repos, u); err != nil {
			return err
		}
		for _, r := range roles {
			if err := repos.Users.AddRole(ctx, created.ID, r.ID); err != nil {
				return err
			}
		}
		return updateGroups(ctx, repos, created.ID)
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("loginname", created.Loginname).Int64("user_id", created.ID).Msg("User created")
	return created, nil
}

// insertUser allocates a uid and stores u, mapping a duplicate loginname to
// ErrLoginnameTaken
func (s *DirectoryService) insertUser(ctx context.Context, repos *repository.Repos, u *models.User) (*models.User, error) {
	existing, err := repos.Users.GetByLoginname(ctx, u.Loginname)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrLoginnameTaken
	}

	if u.UnixUID, err = repos.Users.NextUID(ctx, s.cfg.UIDMin); err != nil {
		return nil, err
	}
	created, err := repos.Users.Create(ctx, u)
	if err != nil {
		if s.db.IsUniqueViolation(err) {
			return nil, ErrLoginnameTaken
		}
		return nil, err
	}
	return created, nil
}

// UpdateUser applies an administrative change and recomputes groups
func (s *DirectoryService) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*models.User, error) {
	if upd.Displayname != nil {
		if err := validation.ValidateDisplayname(*upd.Displayname); err != nil {
			return nil, err
		}
	}
	if upd.Mail != nil {
		if err := validation.ValidateMail(*upd.Mail); err != nil {
			return nil, err
		}
	}
	var hash string
	if upd.Password != nil {
		if err := validation.ValidatePassword(*upd.Password); err != nil {
			return nil, err
		}
		var err error
		if hash, err = security.HashPassword(*upd.Password); err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
	}

	err := s.inTx(ctx, func(repos *repository.Repos) error {
		u, err := repos.Users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}

		if upd.Displayname != nil {
			u.Displayname = *upd.Displayname
		}
		if upd.Mail != nil {
			u.Mail = *upd.Mail
		}
		if hash != "" {
			u.PasswordHash = hash
		}
		if err := repos.Users.Update(ctx, u); err != nil {
			return err
		}

		if upd.RoleIDs != nil {
			want := dedupe(*upd.RoleIDs)
			roles, err := repos.Roles.ListByIDs(ctx, want)
			if err != nil {
				return err
			}
			if len(roles) != len(want) {
				return ErrUnknownRole
			}
			keep := make(map[int64]bool, len(want))
			for _, rid := range want {
				keep[rid] = true
				if err := repos.Users.AddRole(ctx, id, rid); err != nil {
					return err
				}
			}
			for _, r := range u.Roles {
				if !keep[r.ID] {
					if err := repos.Users.RemoveRole(ctx, id, r.ID); err != nil {
						return err
					}
				}
			}
		}
		return updateGroups(ctx, repos, id)
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser removes a user and all its membership edges
func (s *DirectoryService) DeleteUser(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		u, err := repos.Users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		return repos.Users.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("user_id", id).Msg("User deleted")
	return nil
}

// AddRole assigns a role to a user and recomputes its groups
func (s *DirectoryService) AddRole(ctx context.Context, userID, roleID int64) error {
	return s.changeRole(ctx, userID, roleID, true)
}

// RemoveRole removes a role from a user and recomputes its groups
func (s *DirectoryService) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return s.changeRole(ctx, userID, roleID, false)
}

func (s *DirectoryService) changeRole(ctx context.Context, userID, roleID int64, add bool) error {
	return s.inTx(ctx, func(repos *repository.Repos) error {
		u, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		role, err := repos.Roles.GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if role == nil {
			return ErrRoleNotFound
		}

		if add {
			err = repos.Users.AddRole(ctx, userID, roleID)
		} else {
			err = repos.Users.RemoveRole(ctx, userID, roleID)
		}
		if err != nil {
			return err
		}
		return updateGroups(ctx, repos, userID)
	})
}

// SetDirectGroups replaces the explicitly assigned groups of a user
func (s *DirectoryService) SetDirectGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	return s.inTx(ctx, func(repos *repository.Repos) error {
		u, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		ids := dedupe(groupIDs)
		groups, err := repos.Groups.ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(groups) != len(ids) {
			return ErrGroupNotFound
		}
		if err := repos.Users.SetDirectGroups(ctx, userID, ids); err != nil {
			return err
		}
		return updateGroups(ctx, repos, userID)
	})
}

// CreateGroup creates a group with the next free gid
func (s *DirectoryService) CreateGroup(ctx context.Context, name, description string) (*models.Group, error) {
	if err := validation.ValidateLoginname(name); err != nil {
		return nil, validation.ValidationError{Field: "name", Message: "group name may only contain a-z, 0-9, _ and -"}
	}

	var created *models.Group
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		existing, err := repos.Groups.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrGroupExists
		}
		gid, err := repos.Groups.NextGID(ctx, s.cfg.GIDMin)
		if err != nil {
			return err
		}
		created, err = repos.Groups.Create(ctx, &models.Group{UnixGID: gid, Name: name, Description: description})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteGroup removes a group and recomputes the groups of every user that
// held it directly or through a role
func (s *DirectoryService) DeleteGroup(ctx context.Context, id int64) error {
	var affected []int64
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		g, err := repos.Groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if g == nil {
			return ErrGroupNotFound
		}
		if affected, err = repos.Groups.AffectedUserIDs(ctx, id); err != nil {
			return err
		}
		if err := repos.Groups.Delete(ctx, id); err != nil {
			return err
		}
		return updateAll(ctx, repos, affected)
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("group_id", id).Int("affected_users", len(affected)).Msg("Group deleted")
	return nil
}

// CreateRole creates a role with its groups
func (s *DirectoryService) CreateRole(ctx context.Context, req RoleRequest) (*models.Role, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 32 {
		return nil, validation.ValidationError{Field: "name", Message: "role name must be 1-32 characters"}
	}

	var created *models.Role
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		existing, err := repos.Roles.GetByName(ctx, req.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrRoleExists
		}
		if req.ModeratorGroupID != nil {
			g, err := repos.Groups.GetByID(ctx, *req.ModeratorGroupID)
			if err != nil {
				return err
			}
			if g == nil {
				return ErrGroupNotFound
			}
		}
		ids := dedupe(req.GroupIDs)
		groups, err := repos.Groups.ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(groups) != len(ids) {
			return ErrGroupNotFound
		}

		created, err = repos.Roles.Create(ctx, &models.Role{
			Name:             req.Name,
			Description:      req.Description,
			IsDefault:        req.IsDefault,
			ModeratorGroupID: req.ModeratorGroupID,
		})
		if err != nil {
			return err
		}
		if err := repos.Roles.SetGroups(ctx, created.ID, ids); err != nil {
			return err
		}
		created.Groups = groups
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetRoleGroups replaces the groups of a role and recomputes the groups of
// every member
func (s *DirectoryService) SetRoleGroups(ctx context.Context, roleID int64, groupIDs []int64) error {
	return s.inTx(ctx, func(repos *repository.Repos) error {
		role, err := repos.Roles.GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if role == nil {
			return ErrRoleNotFound
		}
		ids := dedupe(groupIDs)
		groups, err := repos.Groups.ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(groups) != len(ids) {
			return ErrGroupNotFound
		}
		if err := repos.Roles.SetGroups(ctx, roleID, ids); err != nil {
			return err
		}

		members, err := repos.Roles.MemberIDs(ctx, roleID)
		if err != nil {
			return err
		}
		return updateAll(ctx, repos, members)
	})
}

// DeleteRole removes a role, takes it away from its members and invites and
// recomputes the members' groups
func (s *DirectoryService) DeleteRole(ctx context.Context, id int64) error {
	var members []int64
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		role, err := repos.Roles.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if role == nil {
			return ErrRoleNotFound
		}
		if members, err = repos.Roles.MemberIDs(ctx, id); err != nil {
			return err
		}
		if err := repos.Roles.Delete(ctx, id); err != nil {
			return err
		}
		return updateAll(ctx, repos, members)
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("role_id", id).Int("members", len(members)).Msg("Role deleted")
	return nil
}

// defaultRoles returns roles flagged is_default plus those named in config
func (s *DirectoryService) defaultRoles(ctx context.Context, repos *repository.Repos) ([]models.Role, error) {
	roles, err := repos.Roles.ListDefault(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range s.cfg.DefaultRoles {
		r, err := repos.Roles.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if r == nil {
			zerolog.Ctx(ctx).Warn().Str("role", name).Msg("Configured default role does not exist")
			continue
		}
		roles = append(roles, *r)
	}
	return roles, nil
}

// randomPasswordHash hashes a fresh random password nobody knows
func randomPasswordHash() (string, error) {
	password, err := credentials.GenerateInitialPassword()
	if err != nil {
		return "", err
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/repository"
)

const backupVersion = "1"

// BackupData is a portable snapshot of the directory. References use names
// so that a snapshot taken on one database backend restores on another.
type BackupData struct {
	Version      string        `json:"version"`
	ExportedAt   time.Time     `json:"exported_at"`
	DatabaseType string        `json:"database_type"`
	Groups       []GroupBackup `json:"groups"`
	Roles        []RoleBackup  `json:"roles"`
	Users        []UserBackup  `json:"users"`
	Mails        []MailBackup  `json:"mails,omitempty"`
}

// GroupBackup represents a group record for backup
type GroupBackup struct {
	UnixGID     int64  `json:"unix_gid"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleBackup represents a role and its group edges
type RoleBackup struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	IsDefault      bool     `json:"is_default"`
	ModeratorGroup string   `json:"moderator_group,omitempty"`
	Groups         []string `json:"groups"`
}

// UserBackup represents a user with its direct groups and roles
type UserBackup struct {
	UnixUID       int64     `json:"unix_uid"`
	Loginname     string    `json:"loginname"`
	Displayname   string    `json:"displayname"`
	Mail          string    `json:"mail"`
	PasswordHash  string    `json:"password_hash"`
	IsServiceUser bool      `json:"is_service_user"`
	CreatedAt     time.Time `json:"created_at"`
	Groups        []string  `json:"groups"`
	Roles         []string  `json:"roles"`
}

// MailBackup represents a mail alias
type MailBackup struct {
	Name                 string   `json:"name"`
	ReceiveAddresses     []string `json:"receive_addresses"`
	DestinationAddresses []string `json:"destination_addresses"`
}

// BackupReport counts the records an import created and skipped
type BackupReport struct {
	Groups  int `json:"groups"`
	Roles   int `json:"roles"`
	Users   int `json:"users"`
	Mails   int `json:"mails"`
	Skipped int `json:"skipped"`
}

// BackupService exports and restores the directory
type BackupService struct {
	common
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, cfg *config.Config, opts ...Option) *BackupService {
	return &BackupService{common: newCommon(db, cfg, opts)}
}

// Export writes a snapshot of groups, roles and users to w
func (s *BackupService) Export(ctx context.Context, w io.Writer) error {
	repos := s.repos()
	backup := &BackupData{
		Version:      backupVersion,
		ExportedAt:   s.clock(),
		DatabaseType: s.db.Dialect.DriverName(),
	}

	groups, err := repos.Groups.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to export groups: %w", err)
	}
	groupNames := make(map[int64]string, len(groups))
	for _, g := range groups {
		groupNames[g.ID] = g.Name
		backup.Groups = append(backup.Groups, GroupBackup{UnixGID: g.UnixGID, Name: g.Name, Description: g.Description})
	}

	roles, err := repos.Roles.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to export roles: %w", err)
	}
	for _, r := range roles {
		rb := RoleBackup{Name: r.Name, Description: r.Description, IsDefault: r.IsDefault, Groups: []string{}}
		if r.ModeratorGroupID != nil {
			rb.ModeratorGroup = groupNames[*r.ModeratorGroupID]
		}
		for _, g := range r.Groups {
			rb.Groups = append(rb.Groups, g.Name)
		}
		backup.Roles = append(backup.Roles, rb)
	}

	users, err := repos.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to export users: %w", err)
	}
	for _, u := range users {
		direct, err := repos.Users.DirectGroups(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("failed to export groups of user %s: %w", u.Loginname, err)
		}
		ub := UserBackup{
			UnixUID:       u.UnixUID,
			Loginname:     u.Loginname,
			Displayname:   u.Displayname,
			Mail:          u.Mail,
			PasswordHash:  u.PasswordHash,
			IsServiceUser: u.IsServiceUser,
			CreatedAt:     u.CreatedAt,
			Groups:        []string{},
			Roles:         []string{},
		}
		for _, g := range direct {
			ub.Groups = append(ub.Groups, g.Name)
		}
		for _, r := range u.Roles {
			ub.Roles = append(ub.Roles, r.Name)
		}
		backup.Users = append(backup.Users, ub)
	}

	mails, err := repos.Mails.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to export mail aliases: %w", err)
	}
	for _, m := range mails {
		backup.Mails = append(backup.Mails, MailBackup{
			Name:                 m.Name,
			ReceiveAddresses:     m.ReceiveAddresses,
			DestinationAddresses: m.DestinationAddresses,
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Int("groups", len(backup.Groups)).
		Int("roles", len(backup.Roles)).
		Int("users", len(backup.Users)).
		Int("mails", len(backup.Mails)).
		Msg("Directory exported")
	return nil
}

// Import merges a snapshot into the directory in one transaction. Records
// whose name already exists are skipped; effective groups are recomputed for
// every imported user.
func (s *BackupService) Import(ctx context.Context, r io.Reader) (*BackupReport, error) {
	var backup BackupData
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if backup.Version != backupVersion {
		return nil, fmt.Errorf("unsupported backup version %q", backup.Version)
	}

	report := &BackupReport{}
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		groupIDs, err := s.importGroups(ctx, repos, backup.Groups, report)
		if err != nil {
			return err
		}
		roleIDs, err := s.importRoles(ctx, repos, backup.Roles, groupIDs, report)
		if err != nil {
			return err
		}
		if err := s.importUsers(ctx, repos, backup.Users, groupIDs, roleIDs, report); err != nil {
			return err
		}
		return s.importMails(ctx, repos, backup.Mails, report)
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Int("groups", report.Groups).
		Int("roles", report.Roles).
		Int("users", report.Users).
		Int("mails", report.Mails).
		Int("skipped", report.Skipped).
		Msg("Directory imported")
	return report, nil
}

func (s *BackupService) importGroups(ctx context.Context, repos *repository.Repos, groups []GroupBackup, report *BackupReport) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, gb := range groups {
		existing, err := repos.Groups.GetByName(ctx, gb.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			ids[gb.Name] = existing.ID
			report.Skipped++
			continue
		}
		created, err := repos.Groups.Create(ctx, &models.Group{UnixGID: gb.UnixGID, Name: gb.Name, Description: gb.Description})
		if err != nil {
			return nil, fmt.Errorf("failed to import group %s: %w", gb.Name, err)
		}
		ids[gb.Name] = created.ID
		report.Groups++
	}
	return ids, nil
}

func (s *BackupService) importRoles(ctx context.Context, repos *repository.Repos, roles []RoleBackup, groupIDs map[string]int64, report *BackupReport) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, rb := range roles {
		existing, err := repos.Roles.GetByName(ctx, rb.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			ids[rb.Name] = existing.ID
			report.Skipped++
			continue
		}

		role := &models.Role{Name: rb.Name, Description: rb.Description, IsDefault: rb.IsDefault}
		if rb.ModeratorGroup != "" {
			id, ok := groupIDs[rb.ModeratorGroup]
			if !ok {
				return nil, fmt.Errorf("role %s: %w: %s", rb.Name, ErrGroupNotFound, rb.ModeratorGroup)
			}
			role.ModeratorGroupID = &id
		}
		members, err := resolveNames(rb.Groups, groupIDs, ErrGroupNotFound)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", rb.Name, err)
		}

		created, err := repos.Roles.Create(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("failed to import role %s: %w", rb.Name, err)
		}
		if err := repos.Roles.SetGroups(ctx, created.ID, members); err != nil {
			return nil, err
		}
		ids[rb.Name] = created.ID
		report.Roles++
	}
	return ids, nil
}

func (s *BackupService) importUsers(ctx context.Context, repos *repository.Repos, users []UserBackup, groupIDs, roleIDs map[string]int64, report *BackupReport) error {
	for _, ub := range users {
		existing, err := repos.Users.GetByLoginname(ctx, ub.Loginname)
		if err != nil {
			return err
		}
		if existing != nil {
			report.Skipped++
			continue
		}

		direct, err := resolveNames(ub.Groups, groupIDs, ErrGroupNotFound)
		if err != nil {
			return fmt.Errorf("user %s: %w", ub.Loginname, err)
		}
		roles, err := resolveNames(ub.Roles, roleIDs, ErrRoleNotFound)
		if err != nil {
			return fmt.Errorf("user %s: %w", ub.Loginname, err)
		}

		created, err := repos.Users.Create(ctx, &models.User{
			UnixUID:       ub.UnixUID,
			Loginname:     ub.Loginname,
			Displayname:   ub.Displayname,
			Mail:          ub.Mail,
			PasswordHash:  ub.PasswordHash,
			IsServiceUser: ub.IsServiceUser,
		})
		if err != nil {
			return fmt.Errorf("failed to import user %s: %w", ub.Loginname, err)
		}
		if err := repos.Users.SetDirectGroups(ctx, created.ID, direct); err != nil {
			return err
		}
		for _, roleID := range roles {
			if err := repos.Users.AddRole(ctx, created.ID, roleID); err != nil {
				return err
			}
		}
		if err := updateGroups(ctx, repos, created.ID); err != nil {
			return err
		}
		report.Users++
	}
	return nil
}

func (s *BackupService) importMails(ctx context.Context, repos *repository.Repos, mails []MailBackup, report *BackupReport) error {
	for _, mb := range mails {
		existing, err := repos.Mails.GetByName(ctx, mb.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			report.Skipped++
			continue
		}
		_, err = repos.Mails.Create(ctx, &models.Mail{
			Name:                 mb.Name,
			ReceiveAddresses:     mb.ReceiveAddresses,
			DestinationAddresses: mb.DestinationAddresses,
		})
		if err != nil {
			return fmt.Errorf("failed to import mail alias %s: %w", mb.Name, err)
		}
		report.Mails++
	}
	return nil
}

func resolveNames(names []string, ids map[string]int64, notFound error) ([]int64, error) {
	resolved := make([]int64, 0, len(names))
	for _, name := range names {
		id, ok := ids[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", notFound, name)
		}
		resolved = append(resolved, id)
	}
	return resolved, nil
}

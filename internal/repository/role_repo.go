package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usergate/internal/database"
	"usergate/internal/models"
)

// RoleRepository handles database operations for roles and role_groups edges
type RoleRepository struct {
	db database.Querier
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db database.Querier) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `r.id, r.name, r.description, r.is_default, r.moderator_group_id`

func scanRole(row interface{ Scan(...any) error }) (models.Role, error) {
	var role models.Role
	var moderator sql.NullInt64
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsDefault, &moderator); err != nil {
		return role, err
	}
	if moderator.Valid {
		id := moderator.Int64
		role.ModeratorGroupID = &id
	}
	return role, nil
}

// Create inserts a role without groups
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) (*models.Role, error) {
	query := `INSERT INTO roles (name, description, is_default, moderator_group_id) VALUES (?, ?, ?, ?)`
	id, err := r.db.ExecReturningID(ctx, query, role.Name, role.Description, role.IsDefault, role.ModeratorGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	created := *role
	created.ID = id
	return &created, nil
}

// GetByID retrieves a role with its groups
func (r *RoleRepository) GetByID(ctx context.Context, id int64) (*models.Role, error) {
	return r.getOne(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = ?`, id)
}

// GetByName retrieves a role with its groups
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	return r.getOne(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = ?`, name)
}

func (r *RoleRepository) getOne(ctx context.Context, query string, arg any) (*models.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	roles := []models.Role{role}
	if err := r.loadGroups(ctx, roles); err != nil {
		return nil, err
	}
	return &roles[0], nil
}

// List returns all roles with their groups ordered by name
func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	return r.list(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
}

// ListDefault returns the roles flagged as default for new users
func (r *RoleRepository) ListDefault(ctx context.Context) ([]models.Role, error) {
	return r.list(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.is_default = ? ORDER BY r.name`, true)
}

// ListByIDs returns the roles with the given IDs. Unknown IDs are ignored.
func (r *RoleRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.id IN (` + placeholders(len(ids)) + `) ORDER BY r.name`
	return r.list(ctx, query, int64Args(ids)...)
}

// ForUser returns the roles directly assigned to a user, with their groups
func (r *RoleRepository) ForUser(ctx context.Context, userID int64) ([]models.Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN role_members m ON m.role_id = r.id
		WHERE m.user_id = ?
		ORDER BY r.name
	`
	return r.list(ctx, query, userID)
}

// ForInvite returns the roles granted by an invite, with their groups
func (r *RoleRepository) ForInvite(ctx context.Context, inviteID int64) ([]models.Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN invite_roles ir ON ir.role_id = r.id
		WHERE ir.invite_id = ?
		ORDER BY r.name
	`
	return r.list(ctx, query, inviteID)
}

func (r *RoleRepository) list(ctx context.Context, query string, args ...any) ([]models.Role, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	var roles []models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	// close before loading groups, a Tx allows one open result set at a time
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	if err := r.loadGroups(ctx, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// loadGroups fills Groups of every role from role_groups
func (r *RoleRepository) loadGroups(ctx context.Context, roles []models.Role) error {
	if len(roles) == 0 {
		return nil
	}
	index := make(map[int64][]int, len(roles))
	ids := make([]int64, 0, len(roles))
	for i := range roles {
		if _, seen := index[roles[i].ID]; !seen {
			ids = append(ids, roles[i].ID)
		}
		index[roles[i].ID] = append(index[roles[i].ID], i)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT rg.role_id, g.id, g.unix_gid, g.name, g.description
		FROM role_groups rg
		JOIN directory_groups g ON g.id = rg.group_id
		WHERE rg.role_id IN (`+placeholders(len(ids))+`)
		ORDER BY g.name
	`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("failed to load role groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		var g models.Group
		if err := rows.Scan(&roleID, &g.ID, &g.UnixGID, &g.Name, &g.Description); err != nil {
			return fmt.Errorf("failed to scan role group: %w", err)
		}
		for _, i := range index[roleID] {
			roles[i].Groups = append(roles[i].Groups, g)
		}
	}
	return rows.Err()
}

// SetGroups replaces the groups granted by a role
func (r *RoleRepository) SetGroups(ctx context.Context, roleID int64, groupIDs []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM role_groups WHERE role_id = ?`, roleID); err != nil {
		return fmt.Errorf("failed to clear role groups: %w", err)
	}
	now := time.Now().UTC()
	for _, id := range groupIDs {
		query := `INSERT INTO role_groups (role_id, group_id, created_at) VALUES (?, ?, ?)`
		if _, err := r.db.ExecContext(ctx, query, roleID, id, now); err != nil {
			return fmt.Errorf("failed to add role group: %w", err)
		}
	}
	return nil
}

// MemberIDs returns the IDs of the users holding the role directly
func (r *RoleRepository) MemberIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM role_members WHERE role_id = ? ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the role's group, member and invite edges and then the role
func (r *RoleRepository) Delete(ctx context.Context, roleID int64) error {
	for _, query := range []string{
		`DELETE FROM role_groups WHERE role_id = ?`,
		`DELETE FROM role_members WHERE role_id = ?`,
		`DELETE FROM invite_roles WHERE role_id = ?`,
		`DELETE FROM roles WHERE id = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, query, roleID); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
	}
	return nil
}

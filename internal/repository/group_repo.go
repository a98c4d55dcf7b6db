package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"usergate/internal/database"
	"usergate/internal/models"
)

// GroupRepository handles database operations for directory groups
type GroupRepository struct {
	db database.Querier
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db database.Querier) *GroupRepository {
	return &GroupRepository{db: db}
}

// NextGID returns the next free unix gid, never below floor
func (r *GroupRepository) NextGID(ctx context.Context, floor int64) (int64, error) {
	var maxGID sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(unix_gid) FROM directory_groups`).Scan(&maxGID); err != nil {
		return 0, fmt.Errorf("failed to get max gid: %w", err)
	}
	if !maxGID.Valid || maxGID.Int64 < floor {
		return floor, nil
	}
	return maxGID.Int64 + 1, nil
}

// Create inserts a group. UnixGID must already be allocated.
func (r *GroupRepository) Create(ctx context.Context, g *models.Group) (*models.Group, error) {
	query := `INSERT INTO directory_groups (unix_gid, name, description) VALUES (?, ?, ?)`
	id, err := r.db.ExecReturningID(ctx, query, g.UnixGID, g.Name, g.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	created := *g
	created.ID = id
	return &created, nil
}

// GetByID retrieves a group by ID
func (r *GroupRepository) GetByID(ctx context.Context, id int64) (*models.Group, error) {
	return r.getOne(ctx, `SELECT id, unix_gid, name, description FROM directory_groups WHERE id = ?`, id)
}

// GetByName retrieves a group by name
func (r *GroupRepository) GetByName(ctx context.Context, name string) (*models.Group, error) {
	return r.getOne(ctx, `SELECT id, unix_gid, name, description FROM directory_groups WHERE name = ?`, name)
}

func (r *GroupRepository) getOne(ctx context.Context, query string, arg any) (*models.Group, error) {
	g := &models.Group{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&g.ID, &g.UnixGID, &g.Name, &g.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// List returns all groups ordered by name
func (r *GroupRepository) List(ctx context.Context) ([]models.Group, error) {
	return r.list(ctx, `SELECT id, unix_gid, name, description FROM directory_groups ORDER BY name`)
}

// ListByIDs returns the groups with the given IDs. Unknown IDs are ignored.
func (r *GroupRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, unix_gid, name, description FROM directory_groups WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY name`
	return r.list(ctx, query, int64Args(ids)...)
}

func (r *GroupRepository) list(ctx context.Context, query string, args ...any) ([]models.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.UnixGID, &g.Name, &g.Description); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// MemberLoginnames returns the login names of the effective members of a group
func (r *GroupRepository) MemberLoginnames(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.loginname
		FROM user_effective_groups ug
		JOIN users u ON u.id = ug.user_id
		WHERE ug.group_id = ?
		ORDER BY u.loginname
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AffectedUserIDs returns the users whose effective groups depend on the
// group, either directly or through one of their roles
func (r *GroupRepository) AffectedUserIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM user_direct_groups WHERE group_id = ?
		UNION
		SELECT rm.user_id
		FROM role_members rm
		JOIN role_groups rg ON rg.role_id = rm.role_id
		WHERE rg.group_id = ?
	`, groupID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list affected users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan affected user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the group's edges, clears it as moderator group of any role
// and then removes the group
func (r *GroupRepository) Delete(ctx context.Context, groupID int64) error {
	for _, query := range []string{
		`UPDATE roles SET moderator_group_id = NULL WHERE moderator_group_id = ?`,
		`DELETE FROM role_groups WHERE group_id = ?`,
		`DELETE FROM user_direct_groups WHERE group_id = ?`,
		`DELETE FROM user_effective_groups WHERE group_id = ?`,
		`DELETE FROM directory_groups WHERE id = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, query, groupID); err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
	}
	return nil
}

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

// UserRepository handles database operations for users and their membership edges
type UserRepository struct {
	db database.Querier
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.Querier) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, unix_uid, loginname, displayname, mail, password_hash, is_service_user, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID,
		&u.UnixUID,
		&u.Loginname,
		&u.Displayname,
		&u.Mail,
		&u.PasswordHash,
		&u.IsServiceUser,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// NextUID returns the next free unix uid, never below floor
func (r *UserRepository) NextUID(ctx context.Context, floor int64) (int64, error) {
	var maxUID sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(unix_uid) FROM users`).Scan(&maxUID); err != nil {
		return 0, fmt.Errorf("failed to get max uid: %w", err)
	}
	if !maxUID.Valid || maxUID.Int64 < floor {
		return floor, nil
	}
	return maxUID.Int64 + 1, nil
}

// Create inserts a new user. UnixUID must already be allocated.
func (r *UserRepository) Create(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (unix_uid, loginname, displayname, mail, password_hash, is_service_user, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, u.UnixUID, u.Loginname, u.Displayname, u.Mail, u.PasswordHash, u.IsServiceUser, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	created := *u
	created.ID = id
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

// GetByID retrieves a user with its effective groups and direct roles
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByLoginname retrieves a user with its effective groups and direct roles
func (r *UserRepository) GetByLoginname(ctx context.Context, loginname string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE loginname = ?`, loginname)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if u.Groups, err = r.EffectiveGroups(ctx, u.ID); err != nil {
		return nil, err
	}
	if u.Roles, err = NewRoleRepository(r.db).ForUser(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// List returns all users ordered by loginname with their effective groups
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY loginname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	byID := make(map[int64]*models.User)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	groupRows, err := r.db.QueryContext(ctx, `
		SELECT ug.user_id, g.id, g.unix_gid, g.name, g.description
		FROM user_effective_groups ug
		JOIN directory_groups g ON g.id = ug.group_id
		ORDER BY g.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	defer groupRows.Close()

	for groupRows.Next() {
		var userID int64
		var g models.Group
		if err := groupRows.Scan(&userID, &g.ID, &g.UnixGID, &g.Name, &g.Description); err != nil {
			return nil, fmt.Errorf("failed to scan user group: %w", err)
		}
		if u, ok := byID[userID]; ok {
			u.Groups = append(u.Groups, g)
		}
	}
	return users, groupRows.Err()
}

// Update writes the mutable profile fields
func (r *UserRepository) Update(ctx context.Context, u *models.User) error {
	query := `
		UPDATE users
		SET displayname = ?, mail = ?, password_hash = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := r.db.ExecContext(ctx, query, u.Displayname, u.Mail, u.PasswordHash, time.Now().UTC(), u.ID); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, passwordHash, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// Delete removes the user's membership edges and then the user
func (r *UserRepository) Delete(ctx context.Context, userID int64) error {
	for _, query := range []string{
		`DELETE FROM role_members WHERE user_id = ?`,
		`DELETE FROM user_direct_groups WHERE user_id = ?`,
		`DELETE FROM user_effective_groups WHERE user_id = ?`,
		`DELETE FROM invite_grants WHERE user_id = ?`,
		`DELETE FROM mfa_methods WHERE user_id = ?`,
		`UPDATE signups SET user_id = NULL WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
	}
	return nil
}

// EffectiveGroups returns the persisted effective groups of a user
func (r *UserRepository) EffectiveGroups(ctx context.Context, userID int64) ([]models.Group, error) {
	return r.groups(ctx, `
		SELECT g.id, g.unix_gid, g.name, g.description
		FROM user_effective_groups ug
		JOIN directory_groups g ON g.id = ug.group_id
		WHERE ug.user_id = ?
		ORDER BY g.name
	`, userID)
}

// DirectGroups returns the explicitly assigned groups of a user
func (r *UserRepository) DirectGroups(ctx context.Context, userID int64) ([]models.Group, error) {
	return r.groups(ctx, `
		SELECT g.id, g.unix_gid, g.name, g.description
		FROM user_direct_groups ug
		JOIN directory_groups g ON g.id = ug.group_id
		WHERE ug.user_id = ?
		ORDER BY g.name
	`, userID)
}

func (r *UserRepository) groups(ctx context.Context, query string, userID int64) ([]models.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user groups: %w", err)
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

// SetEffectiveGroups replaces the persisted effective group set
func (r *UserRepository) SetEffectiveGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	return r.replaceEdges(ctx, "user_effective_groups", userID, groupIDs)
}

// SetDirectGroups replaces the explicitly assigned groups
func (r *UserRepository) SetDirectGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	return r.replaceEdges(ctx, "user_direct_groups", userID, groupIDs)
}

func (r *UserRepository) replaceEdges(ctx context.Context, table string, userID int64, groupIDs []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, id := range groupIDs {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO `+table+` (user_id, group_id) VALUES (?, ?)`, userID, id); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// AddRole assigns a role directly. Assigning a held role is a no-op.
func (r *UserRepository) AddRole(ctx context.Context, userID, roleID int64) error {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_members WHERE role_id = ? AND user_id = ?`, roleID, userID).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check role membership: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO role_members (role_id, user_id) VALUES (?, ?)`, roleID, userID); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// RemoveRole removes a direct role assignment
func (r *UserRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM role_members WHERE role_id = ? AND user_id = ?`, roleID, userID); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

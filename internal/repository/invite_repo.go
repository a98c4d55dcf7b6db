package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/security"
)

// InviteRepository handles database operations for invites and their grants
type InviteRepository struct {
	db database.Querier
}

// NewInviteRepository creates a new invite repository
func NewInviteRepository(db database.Querier) *InviteRepository {
	return &InviteRepository{db: db}
}

const inviteColumns = `id, token, created_at, creator_id, valid_until, single_use, allow_signup, used, disabled`

func scanInvite(row interface{ Scan(...any) error }) (*models.Invite, error) {
	inv := &models.Invite{}
	var creator sql.NullInt64
	err := row.Scan(
		&inv.ID,
		&inv.Token,
		&inv.CreatedAt,
		&creator,
		&inv.ValidUntil,
		&inv.SingleUse,
		&inv.AllowSignup,
		&inv.Used,
		&inv.Disabled,
	)
	if err != nil {
		return nil, err
	}
	if creator.Valid {
		id := creator.Int64
		inv.CreatorID = &id
	}
	return inv, nil
}

// Create inserts an invite together with its roles
func (r *InviteRepository) Create(ctx context.Context, inv *models.Invite) (*models.Invite, error) {
	created := *inv
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO invites (token, token_hash, created_at, creator_id, valid_until, single_use, allow_signup, used, disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query,
		created.Token, security.HashToken(created.Token), created.CreatedAt, created.CreatorID, created.ValidUntil.UTC(),
		created.SingleUse, created.AllowSignup, created.Used, created.Disabled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}
	created.ID = id

	for _, role := range created.Roles {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO invite_roles (invite_id, role_id) VALUES (?, ?)`, id, role.ID); err != nil {
			return nil, fmt.Errorf("failed to add invite role: %w", err)
		}
	}
	return &created, nil
}

// GetByID retrieves an invite with its roles. Creator is not resolved.
func (r *InviteRepository) GetByID(ctx context.Context, id int64) (*models.Invite, error) {
	return r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id = ?`, id)
}

// GetByToken retrieves an invite with its roles by the digest of token and
// confirms the stored token in constant time. Creator is not resolved.
func (r *InviteRepository) GetByToken(ctx context.Context, token string) (*models.Invite, error) {
	inv, err := r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token_hash = ?`, security.HashToken(token))
	if err != nil || inv == nil {
		return nil, err
	}
	if !security.TokensEqual(inv.Token, token) {
		return nil, nil
	}
	return inv, nil
}

func (r *InviteRepository) getOne(ctx context.Context, query string, arg any) (*models.Invite, error) {
	inv, err := scanInvite(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	if inv.Roles, err = NewRoleRepository(r.db).ForInvite(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns all invites with their roles, newest first
func (r *InviteRepository) List(ctx context.Context) ([]*models.Invite, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invites ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}

	var invites []*models.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invites: %w", err)
	}

	roles := NewRoleRepository(r.db)
	for _, inv := range invites {
		if inv.Roles, err = roles.ForInvite(ctx, inv.ID); err != nil {
			return nil, err
		}
	}
	return invites, nil
}

// SetState writes the disabled and used flags
func (r *InviteRepository) SetState(ctx context.Context, inv *models.Invite) error {
	query := `UPDATE invites SET disabled = ?, used = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, inv.Disabled, inv.Used, inv.ID); err != nil {
		return fmt.Errorf("failed to update invite: %w", err)
	}
	return nil
}

// MarkUsed flips used only while the invite is enabled and not voided. It
// reports false when a concurrent redemption won.
func (r *InviteRepository) MarkUsed(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE invites SET used = ? WHERE id = ? AND disabled = ? AND (single_use = ? OR used = ?)`
	res, err := r.db.ExecContext(ctx, query, true, id, false, false, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark invite used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark invite used: %w", err)
	}
	return n == 1, nil
}

// AddGrant records a successful redemption by an existing user
func (r *InviteRepository) AddGrant(ctx context.Context, inviteID, userID int64) (*models.InviteGrant, error) {
	now := time.Now().UTC()
	query := `INSERT INTO invite_grants (invite_id, user_id, created_at) VALUES (?, ?, ?)`
	id, err := r.db.ExecReturningID(ctx, query, inviteID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record invite grant: %w", err)
	}
	return &models.InviteGrant{ID: id, InviteID: inviteID, UserID: userID, CreatedAt: now}, nil
}

// Grants returns the redemption history of an invite with the login names
// of the users that redeemed it
func (r *InviteRepository) Grants(ctx context.Context, inviteID int64) ([]models.InviteGrant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.invite_id, g.user_id, u.loginname, g.created_at
		FROM invite_grants g
		JOIN users u ON u.id = g.user_id
		WHERE g.invite_id = ?
		ORDER BY g.created_at, g.id
	`, inviteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invite grants: %w", err)
	}
	defer rows.Close()

	var grants []models.InviteGrant
	for rows.Next() {
		var g models.InviteGrant
		if err := rows.Scan(&g.ID, &g.InviteID, &g.UserID, &g.Loginname, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invite grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

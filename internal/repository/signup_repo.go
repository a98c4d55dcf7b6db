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

// SignupRepository handles database operations for pending signups
type SignupRepository struct {
	db database.Querier
}

// NewSignupRepository creates a new signup repository
func NewSignupRepository(db database.Querier) *SignupRepository {
	return &SignupRepository{db: db}
}

// Create stores a pending signup
func (r *SignupRepository) Create(ctx context.Context, s *models.Signup) (*models.Signup, error) {
	created := *s
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO signups (token, loginname, displayname, mail, password_hash, created_at, completed, invite_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query,
		created.Token, created.Loginname, created.Displayname, created.Mail,
		created.PasswordHash, created.CreatedAt, false, created.InviteID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signup: %w", err)
	}
	created.ID = id
	return &created, nil
}

const signupColumns = `id, token, loginname, displayname, mail, password_hash, created_at, completed, user_id, invite_id`

func scanSignup(row interface{ Scan(...any) error }) (*models.Signup, error) {
	s := &models.Signup{}
	var userID, inviteID sql.NullInt64
	err := row.Scan(
		&s.ID,
		&s.Token,
		&s.Loginname,
		&s.Displayname,
		&s.Mail,
		&s.PasswordHash,
		&s.CreatedAt,
		&s.Completed,
		&userID,
		&inviteID,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		v := userID.Int64
		s.UserID = &v
	}
	if inviteID.Valid {
		v := inviteID.Int64
		s.InviteID = &v
	}
	return s, nil
}

// GetByID retrieves a signup by ID
func (r *SignupRepository) GetByID(ctx context.Context, id int64) (*models.Signup, error) {
	s, err := scanSignup(r.db.QueryRowContext(ctx, `SELECT `+signupColumns+` FROM signups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signup: %w", err)
	}
	return s, nil
}

// CompletedForInvite returns the signups that created an account through
// the invite, oldest first
func (r *SignupRepository) CompletedForInvite(ctx context.Context, inviteID int64) ([]models.Signup, error) {
	query := `SELECT ` + signupColumns + ` FROM signups WHERE invite_id = ? AND completed = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, inviteID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list invite signups: %w", err)
	}
	defer rows.Close()

	var signups []models.Signup
	for rows.Next() {
		s, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signup: %w", err)
		}
		signups = append(signups, *s)
	}
	return signups, rows.Err()
}

// MarkCompleted links the created user and completes the signup. It
// reports false when the signup was already completed.
func (r *SignupRepository) MarkCompleted(ctx context.Context, id, userID int64) (bool, error) {
	query := `UPDATE signups SET completed = ?, user_id = ? WHERE id = ? AND completed = ?`
	res, err := r.db.ExecContext(ctx, query, true, userID, id, false)
	if err != nil {
		return false, fmt.Errorf("failed to complete signup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to complete signup: %w", err)
	}
	return n == 1, nil
}

// PurgeExpired deletes uncompleted signups created before cutoff
func (r *SignupRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signups WHERE completed = ? AND created_at < ?`, false, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge signups: %w", err)
	}
	return res.RowsAffected()
}

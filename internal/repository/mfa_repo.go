package repository

import (
	"context"
	"fmt"

	"usergate/internal/database"
	"usergate/internal/models"
)

// MFARepository handles the second factors of users
type MFARepository struct {
	db database.Querier
}

// NewMFARepository creates a new MFA repository
func NewMFARepository(db database.Querier) *MFARepository {
	return &MFARepository{db: db}
}

// ListByUser returns every method of a user, oldest first
func (r *MFARepository) ListByUser(ctx context.Context, userID int64) (models.MFAMethods, error) {
	query := `
		SELECT id, user_id, type, name, created_at, totp_key, recovery_hash
		FROM mfa_methods
		WHERE user_id = ?
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mfa methods: %w", err)
	}
	defer rows.Close()

	var methods models.MFAMethods
	for rows.Next() {
		var m models.MFAMethod
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Name, &m.CreatedAt, &m.TOTPKey, &m.RecoveryHash); err != nil {
			return nil, fmt.Errorf("failed to scan mfa method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// Create inserts a method
func (r *MFARepository) Create(ctx context.Context, m *models.MFAMethod) (*models.MFAMethod, error) {
	query := `INSERT INTO mfa_methods (user_id, type, name, created_at, totp_key, recovery_hash) VALUES (?, ?, ?, ?, ?, ?)`
	id, err := r.db.ExecReturningID(ctx, query, m.UserID, m.Type, m.Name, m.CreatedAt.UTC(), m.TOTPKey, m.RecoveryHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create mfa method: %w", err)
	}
	created := *m
	created.ID = id
	return &created, nil
}

// Delete removes one method of a user and reports whether it existed. A
// recovery code is consumed this way, so only one of two concurrent logins
// presenting the same code succeeds.
func (r *MFARepository) Delete(ctx context.Context, userID, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_methods WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete mfa method: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete mfa method: %w", err)
	}
	return n == 1, nil
}

// DeleteByType removes the methods of type t of a user
func (r *MFARepository) DeleteByType(ctx context.Context, userID int64, t models.MFAType) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_methods WHERE user_id = ? AND type = ?`, userID, t); err != nil {
		return fmt.Errorf("failed to delete mfa methods: %w", err)
	}
	return nil
}

// DeleteByUser removes every method of a user
func (r *MFARepository) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_methods WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete mfa methods: %w", err)
	}
	return nil
}

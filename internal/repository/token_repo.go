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

// TokenRepository handles password reset and mail verification tokens. Only
// the SHA-256 digest of a token is stored.
type TokenRepository struct {
	db database.Querier
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db database.Querier) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreatePasswordToken stores t after removing expired tokens and any earlier
// token of the same login name
func (r *TokenRepository) CreatePasswordToken(ctx context.Context, t *models.PasswordToken) error {
	cutoff := t.CreatedAt.Add(-models.TokenTTL).UTC()
	query := `DELETE FROM password_tokens WHERE created_at < ? OR loginname = ?`
	if _, err := r.db.ExecContext(ctx, query, cutoff, t.Loginname); err != nil {
		return fmt.Errorf("failed to clear password tokens: %w", err)
	}

	query = `INSERT INTO password_tokens (token_hash, loginname, created_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, security.HashToken(t.Token), t.Loginname, t.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to create password token: %w", err)
	}
	return nil
}

// GetPasswordToken retrieves a password token
func (r *TokenRepository) GetPasswordToken(ctx context.Context, token string) (*models.PasswordToken, error) {
	t := &models.PasswordToken{Token: token}
	query := `SELECT loginname, created_at FROM password_tokens WHERE token_hash = ?`
	err := r.db.QueryRowContext(ctx, query, security.HashToken(token)).Scan(&t.Loginname, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password token: %w", err)
	}
	return t, nil
}

// DeletePasswordToken removes a password token
func (r *TokenRepository) DeletePasswordToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM password_tokens WHERE token_hash = ?`, security.HashToken(token)); err != nil {
		return fmt.Errorf("failed to delete password token: %w", err)
	}
	return nil
}

// CreateMailToken stores t after removing expired tokens and any earlier
// token of the same login name
func (r *TokenRepository) CreateMailToken(ctx context.Context, t *models.MailToken) error {
	cutoff := t.CreatedAt.Add(-models.TokenTTL).UTC()
	query := `DELETE FROM mail_tokens WHERE created_at < ? OR loginname = ?`
	if _, err := r.db.ExecContext(ctx, query, cutoff, t.Loginname); err != nil {
		return fmt.Errorf("failed to clear mail tokens: %w", err)
	}

	query = `INSERT INTO mail_tokens (token_hash, loginname, newmail, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, security.HashToken(t.Token), t.Loginname, t.NewMail, t.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to create mail token: %w", err)
	}
	return nil
}

// GetMailToken retrieves a mail verification token
func (r *TokenRepository) GetMailToken(ctx context.Context, token string) (*models.MailToken, error) {
	t := &models.MailToken{Token: token}
	query := `SELECT loginname, newmail, created_at FROM mail_tokens WHERE token_hash = ?`
	err := r.db.QueryRowContext(ctx, query, security.HashToken(token)).Scan(&t.Loginname, &t.NewMail, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail token: %w", err)
	}
	return t, nil
}

// DeleteMailToken removes a mail verification token
func (r *TokenRepository) DeleteMailToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mail_tokens WHERE token_hash = ?`, security.HashToken(token)); err != nil {
		return fmt.Errorf("failed to delete mail token: %w", err)
	}
	return nil
}

// PurgeExpired deletes password and mail tokens created before cutoff
func (r *TokenRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"password_tokens", "mail_tokens"} {
		res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

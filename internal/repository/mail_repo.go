package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"usergate/internal/database"
	"usergate/internal/models"
)

// MailRepository handles mail forwarding aliases
type MailRepository struct {
	db database.Querier
}

// NewMailRepository creates a new mail repository
func NewMailRepository(db database.Querier) *MailRepository {
	return &MailRepository{db: db}
}

// List returns every alias ordered by name
func (r *MailRepository) List(ctx context.Context) ([]*models.Mail, error) {
	return r.find(ctx, `SELECT id, name FROM mail_aliases ORDER BY name`)
}

// GetByID retrieves an alias by ID
func (r *MailRepository) GetByID(ctx context.Context, id int64) (*models.Mail, error) {
	return r.getOne(ctx, `SELECT id, name FROM mail_aliases WHERE id = ?`, id)
}

// GetByName retrieves an alias by name
func (r *MailRepository) GetByName(ctx context.Context, name string) (*models.Mail, error) {
	return r.getOne(ctx, `SELECT id, name FROM mail_aliases WHERE name = ?`, name)
}

// FindByReceiveAddress returns the aliases receiving mail for address
func (r *MailRepository) FindByReceiveAddress(ctx context.Context, address string) ([]*models.Mail, error) {
	return r.find(ctx, `
		SELECT DISTINCT m.id, m.name
		FROM mail_aliases m
		JOIN mail_receive_addresses a ON a.mail_id = m.id
		WHERE a.address = ?
		ORDER BY m.name
	`, address)
}

// FindByDestinationAddress returns the aliases forwarding to address
func (r *MailRepository) FindByDestinationAddress(ctx context.Context, address string) ([]*models.Mail, error) {
	return r.find(ctx, `
		SELECT DISTINCT m.id, m.name
		FROM mail_aliases m
		JOIN mail_destination_addresses a ON a.mail_id = m.id
		WHERE a.address = ?
		ORDER BY m.name
	`, address)
}

// Create inserts an alias with its addresses
func (r *MailRepository) Create(ctx context.Context, m *models.Mail) (*models.Mail, error) {
	id, err := r.db.ExecReturningID(ctx, `INSERT INTO mail_aliases (name) VALUES (?)`, m.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail alias: %w", err)
	}
	created := *m
	created.ID = id
	if err := r.SetAddresses(ctx, id, m.ReceiveAddresses, m.DestinationAddresses); err != nil {
		return nil, err
	}
	return &created, nil
}

// SetAddresses replaces both address lists of an alias
func (r *MailRepository) SetAddresses(ctx context.Context, id int64, receive, destinations []string) error {
	for _, table := range []string{"mail_receive_addresses", "mail_destination_addresses"} {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE mail_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for _, address := range receive {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO mail_receive_addresses (mail_id, address) VALUES (?, ?)`, id, address); err != nil {
			return fmt.Errorf("failed to add receive address: %w", err)
		}
	}
	for _, address := range destinations {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO mail_destination_addresses (mail_id, address) VALUES (?, ?)`, id, address); err != nil {
			return fmt.Errorf("failed to add destination address: %w", err)
		}
	}
	return nil
}

// Delete removes an alias and its addresses
func (r *MailRepository) Delete(ctx context.Context, id int64) error {
	for _, query := range []string{
		`DELETE FROM mail_receive_addresses WHERE mail_id = ?`,
		`DELETE FROM mail_destination_addresses WHERE mail_id = ?`,
		`DELETE FROM mail_aliases WHERE id = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete mail alias: %w", err)
		}
	}
	return nil
}

func (r *MailRepository) getOne(ctx context.Context, query string, arg any) (*models.Mail, error) {
	m := &models.Mail{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&m.ID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail alias: %w", err)
	}
	if err := r.loadAddresses(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MailRepository) find(ctx context.Context, query string, args ...any) ([]*models.Mail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail aliases: %w", err)
	}
	var mails []*models.Mail
	for rows.Next() {
		m := &models.Mail{}
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan mail alias: %w", err)
		}
		mails = append(mails, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, m := range mails {
		if err := r.loadAddresses(ctx, m); err != nil {
			return nil, err
		}
	}
	return mails, nil
}

func (r *MailRepository) loadAddresses(ctx context.Context, m *models.Mail) error {
	var err error
	m.ReceiveAddresses, err = r.addresses(ctx, `SELECT address FROM mail_receive_addresses WHERE mail_id = ? ORDER BY address`, m.ID)
	if err != nil {
		return err
	}
	m.DestinationAddresses, err = r.addresses(ctx, `SELECT address FROM mail_destination_addresses WHERE mail_id = ? ORDER BY address`, m.ID)
	return err
}

func (r *MailRepository) addresses(ctx context.Context, query string, id int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load mail addresses: %w", err)
	}
	defer rows.Close()

	addresses := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan mail address: %w", err)
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

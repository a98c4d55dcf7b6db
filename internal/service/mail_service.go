package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/repository"
	"usergate/internal/validation"
)

// MailRequest holds the editable fields of a mail alias. The name is fixed
// once the alias exists.
type MailRequest struct {
	Name                 string   `json:"name"`
	ReceiveAddresses     []string `json:"receive_addresses"`
	DestinationAddresses []string `json:"destination_addresses"`
}

// MailService manages mail forwarding aliases for the mail server
type MailService struct {
	common
}

// NewMailService creates a new mail service
func NewMailService(db *database.DB, cfg *config.Config, opts ...Option) *MailService {
	return &MailService{common: newCommon(db, cfg, opts)}
}

// List returns every alias
func (s *MailService) List(ctx context.Context) ([]*models.Mail, error) {
	return s.repos().Mails.List(ctx)
}

// Get returns an alias by ID
func (s *MailService) Get(ctx context.Context, id int64) (*models.Mail, error) {
	m, err := s.repos().Mails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMailNotFound
	}
	return m, nil
}

// Find returns the aliases matching one filter. An empty key matches every
// alias; otherwise key is one of name, receive_address or
// destination_address.
func (s *MailService) Find(ctx context.Context, key, value string) ([]*models.Mail, error) {
	repos := s.repos()
	switch key {
	case "":
		return repos.Mails.List(ctx)
	case "name":
		m, err := repos.Mails.GetByName(ctx, value)
		if err != nil || m == nil {
			return nil, err
		}
		return []*models.Mail{m}, nil
	case "receive_address":
		return repos.Mails.FindByReceiveAddress(ctx, value)
	case "destination_address":
		return repos.Mails.FindByDestinationAddress(ctx, value)
	default:
		return nil, ErrInvalidFilter
	}
}

// Create adds an alias
func (s *MailService) Create(ctx context.Context, req MailRequest) (*models.Mail, error) {
	m, err := normalizeMail(req)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateMailAlias(m.Name); err != nil {
		return nil, err
	}

	var created *models.Mail
	err = s.inTx(ctx, func(repos *repository.Repos) error {
		existing, err := repos.Mails.GetByName(ctx, m.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrMailExists
		}
		created, err = repos.Mails.Create(ctx, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int64("mail_id", created.ID).Str("name", created.Name).Msg("Mail alias created")
	return created, nil
}

// Update replaces both address lists of an alias. req.Name is ignored.
func (s *MailService) Update(ctx context.Context, id int64, req MailRequest) (*models.Mail, error) {
	m, err := normalizeMail(req)
	if err != nil {
		return nil, err
	}

	var updated *models.Mail
	err = s.inTx(ctx, func(repos *repository.Repos) error {
		existing, err := repos.Mails.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrMailNotFound
		}
		if err := repos.Mails.SetAddresses(ctx, id, m.ReceiveAddresses, m.DestinationAddresses); err != nil {
			return err
		}
		updated, err = repos.Mails.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int64("mail_id", id).Msg("Mail alias updated")
	return updated, nil
}

// Delete removes an alias
func (s *MailService) Delete(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		existing, err := repos.Mails.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrMailNotFound
		}
		return repos.Mails.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Int64("mail_id", id).Msg("Mail alias deleted")
	return nil
}

// normalizeMail trims the name and addresses, drops blank and repeated
// addresses and checks each remaining one
func normalizeMail(req MailRequest) (*models.Mail, error) {
	receive, err := normalizeAddresses("receive_addresses", req.ReceiveAddresses)
	if err != nil {
		return nil, err
	}
	destinations, err := normalizeAddresses("destination_addresses", req.DestinationAddresses)
	if err != nil {
		return nil, err
	}
	return &models.Mail{
		Name:                 strings.TrimSpace(req.Name),
		ReceiveAddresses:     receive,
		DestinationAddresses: destinations,
	}, nil
}

func normalizeAddresses(field string, addresses []string) ([]string, error) {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" || slices.Contains(out, a) {
			continue
		}
		if err := validation.ValidateMail(a); err != nil {
			return nil, validation.ValidationError{Field: field, Message: fmt.Sprintf("invalid mail address %q", a)}
		}
		out = append(out, a)
	}
	return out, nil
}

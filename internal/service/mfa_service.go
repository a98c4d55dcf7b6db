package service

import (
	"context"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/repository"
	"usergate/internal/security"
	"usergate/internal/validation"
)

const maxMFANameLength = 128

// TOTPSetup is a freshly generated authenticator secret that is not stored
// until a code for it is confirmed with AddTOTP
type TOTPSetup struct {
	Key string `json:"key"`
	URI string `json:"uri"`
}

// MFAService manages the second factors of users
type MFAService struct {
	common
}

// NewMFAService creates a new MFA service
func NewMFAService(db *database.DB, cfg *config.Config, opts ...Option) *MFAService {
	return &MFAService{common: newCommon(db, cfg, opts)}
}

// Methods returns the second factors of user
func (s *MFAService) Methods(ctx context.Context, user *models.User) (models.MFAMethods, error) {
	return s.repos().MFA.ListByUser(ctx, user.ID)
}

// GenerateRecoveryCodes replaces the recovery codes of user and returns the
// new codes. Only their hashes are stored, so they are shown once.
func (s *MFAService) GenerateRecoveryCodes(ctx context.Context, user *models.User) ([]string, error) {
	codes := make([]string, 0, models.RecoveryCodeCount)
	now := s.clock()
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		if err := repos.MFA.DeleteByType(ctx, user.ID, models.MFARecoveryCode); err != nil {
			return err
		}
		for range models.RecoveryCodeCount {
			code, err := security.GenerateRecoveryCode()
			if err != nil {
				return err
			}
			hash, err := security.HashPassword(code)
			if err != nil {
				return fmt.Errorf("failed to hash recovery code: %w", err)
			}
			m := &models.MFAMethod{UserID: user.ID, Type: models.MFARecoveryCode, CreatedAt: now, RecoveryHash: hash}
			if _, err := repos.MFA.Create(ctx, m); err != nil {
				return err
			}
			codes = append(codes, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Msg("Recovery codes generated")
	return codes, nil
}

// SetupTOTP generates an authenticator secret for user. Recovery codes must
// exist first so that losing the authenticator does not lock the user out.
func (s *MFAService) SetupTOTP(ctx context.Context, user *models.User) (*TOTPSetup, error) {
	if err := s.requireRecoveryCodes(ctx, s.repos(), user.ID); err != nil {
		return nil, err
	}
	key, err := security.NewTOTPKey(s.issuerName(), user.Loginname)
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{Key: key.Secret(), URI: key.URL()}, nil
}

// AddTOTP stores the authenticator secret key under name once code proves
// the user configured it
func (s *MFAService) AddTOTP(ctx context.Context, user *models.User, name, key, code string) (*models.MFAMethod, error) {
	if utf8.RuneCountInString(name) > maxMFANameLength {
		return nil, validation.ValidationError{Field: "name", Message: "name must be at most 128 characters"}
	}
	if !security.VerifyTOTP(key, code, s.clock()) {
		return nil, validation.ValidationError{Field: "code", Message: "code is invalid"}
	}

	var created *models.MFAMethod
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		if err := s.requireRecoveryCodes(ctx, repos, user.ID); err != nil {
			return err
		}
		var err error
		created, err = repos.MFA.Create(ctx, &models.MFAMethod{
			UserID:    user.ID,
			Type:      models.MFATOTP,
			Name:      name,
			CreatedAt: s.clock(),
			TOTPKey:   key,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Int64("method_id", created.ID).Msg("Authenticator added")
	return created, nil
}

// DeleteTOTP removes one authenticator of user
func (s *MFAService) DeleteTOTP(ctx context.Context, user *models.User, id int64) error {
	repos := s.repos()
	methods, err := repos.MFA.ListByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	found := false
	for _, m := range methods.OfType(models.MFATOTP) {
		found = found || m.ID == id
	}
	if !found {
		return ErrMFAMethodNotFound
	}

	deleted, err := repos.MFA.Delete(ctx, user.ID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrMFAMethodNotFound
	}
	zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Int64("method_id", id).Msg("Authenticator removed")
	return nil
}

// Disable removes every second factor of the user. Admins use it to recover
// an account whose authenticator and recovery codes are lost.
func (s *MFAService) Disable(ctx context.Context, userID int64) error {
	err := s.inTx(ctx, func(repos *repository.Repos) error {
		user, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		return repos.MFA.DeleteByUser(ctx, userID)
	})
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Int64("user_id", userID).Msg("Second factors disabled")
	return nil
}

func (s *MFAService) requireRecoveryCodes(ctx context.Context, repos *repository.Repos, userID int64) error {
	methods, err := repos.MFA.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(methods.OfType(models.MFARecoveryCode)) == 0 {
		return ErrRecoveryCodesRequired
	}
	return nil
}

// issuerName labels the account in authenticator apps with the host of the
// public base URL
func (s *MFAService) issuerName() string {
	if u, err := url.Parse(s.cfg.AppBaseURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "usergate"
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/repository"
)

// common is embedded by every service
type common struct {
	db  *database.DB
	cfg *config.Config
	now func() time.Time
}

// Option configures a service
type Option func(*common)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *common) {
		c.now = now
	}
}

func newCommon(db *database.DB, cfg *config.Config, opts []Option) common {
	c := common{db: db, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *common) clock() time.Time {
	return c.now().UTC()
}

func (c *common) repos() *repository.Repos {
	return repository.New(c.db)
}

func (c *common) policy() models.InvitePolicy {
	return models.InvitePolicy{AdminGroup: c.cfg.AdminGroup, SignupGroup: c.cfg.SignupGroup}
}

func (c *common) link(format string, args ...any) string {
	return c.cfg.AppBaseURL + fmt.Sprintf(format, args...)
}

// inTx runs fn with repositories bound to one transaction
func (c *common) inTx(ctx context.Context, fn func(repos *repository.Repos) error) error {
	return c.db.WithTx(ctx, func(tx *database.Tx) error {
		return fn(repository.New(tx))
	})
}

// redeem runs fn in a transaction that is rolled back when fn rejects, so a
// refused redemption leaves no partial writes behind
func (c *common) redeem(ctx context.Context, fn func(repos *repository.Repos) (Result, error)) (Result, error) {
	var res Result
	err := c.inTx(ctx, func(repos *repository.Repos) error {
		var err error
		if res, err = fn(repos); err != nil {
			return err
		}
		if !res.Success {
			return errRejected
		}
		return nil
	})
	if errors.Is(err, errRejected) {
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// loadCreator resolves Creator from CreatorID. A dangling id leaves it nil.
func loadCreator(ctx context.Context, repos *repository.Repos, inv *models.Invite) error {
	if inv.CreatorID == nil {
		return nil
	}
	creator, err := repos.Users.GetByID(ctx, *inv.CreatorID)
	if err != nil {
		return err
	}
	inv.Creator = creator
	return nil
}

// updateGroups writes the effective group set of a user: the union of its
// direct groups and the groups of all its roles
func updateGroups(ctx context.Context, repos *repository.Repos, userID int64) error {
	direct, err := repos.Users.DirectGroups(ctx, userID)
	if err != nil {
		return err
	}
	roles, err := repos.Roles.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	effective := models.EffectiveGroups(direct, roles)
	if err := repos.Users.SetEffectiveGroups(ctx, userID, models.GroupIDs(effective)); err != nil {
		return fmt.Errorf("failed to update groups of user %d: %w", userID, err)
	}
	return nil
}

func updateAll(ctx context.Context, repos *repository.Repos, userIDs []int64) error {
	for _, id := range userIDs {
		if err := updateGroups(ctx, repos, id); err != nil {
			return err
		}
	}
	return nil
}

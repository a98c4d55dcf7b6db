package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"usergate/internal/service"
)

type InviteCmd struct {
	Create  InviteCreateCmd  `cmd:"" help:"Create an invite link"`
	List    InviteListCmd    `cmd:"" help:"List the invites visible to a user"`
	Disable InviteDisableCmd `cmd:"" help:"Disable an invite"`
}

type InviteCreateCmd struct {
	As          string        `help:"Login name of the invite creator" required:""`
	ValidFor    time.Duration `help:"Validity of the link" default:"24h"`
	SingleUse   bool          `help:"The link can be redeemed once"`
	AllowSignup bool          `help:"The link allows creating an account"`
	Role        []string      `help:"Role granted by the link (repeatable)"`
}

func (c *InviteCreateCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	creator, err := e.directory.GetUserByLoginname(e.ctx, c.As)
	if err != nil {
		return err
	}
	roleIDs, err := e.roleIDs(c.Role)
	if err != nil {
		return err
	}

	invites := service.NewInviteService(e.db, e.cfg)
	inv, err := invites.Create(e.ctx, creator, service.InviteRequest{
		ValidUntil:  time.Now().Add(c.ValidFor),
		SingleUse:   c.SingleUse,
		AllowSignup: c.AllowSignup,
		RoleIDs:     roleIDs,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s/invite/%s/use\n", e.cfg.AppBaseURL, inv.Token)
	return nil
}

type InviteListCmd struct {
	As string `help:"Login name of the viewer" required:""`
}

func (c *InviteListCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	viewer, err := e.directory.GetUserByLoginname(e.ctx, c.As)
	if err != nil {
		return err
	}
	invites := service.NewInviteService(e.db, e.cfg)
	list, err := invites.List(e.ctx, viewer)
	if err != nil {
		return err
	}

	w := e.table()
	fmt.Fprintln(w, "ID\tTOKEN\tVALID UNTIL\tACTIVE\tSIGNUP\tROLES")
	for _, inv := range list {
		roles := make([]string, 0, len(inv.Roles))
		for _, r := range inv.Roles {
			roles = append(roles, r.Name)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%s\n", inv.ID, inv.ShortToken(),
			inv.ValidUntil.Format(time.RFC3339), invites.Active(inv), inv.AllowSignup, strings.Join(roles, ","))
	}
	return w.Flush()
}

type InviteDisableCmd struct {
	ID int64  `arg:"" help:"Invite id"`
	As string `help:"Login name of the acting user" required:""`
}

func (c *InviteDisableCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	actor, err := e.directory.GetUserByLoginname(e.ctx, c.As)
	if err != nil {
		return err
	}
	if err := service.NewInviteService(e.db, e.cfg).Disable(e.ctx, actor, c.ID); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Invite %d disabled\n", c.ID)
	return nil
}

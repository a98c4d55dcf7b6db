package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"usergate/internal/ratelimit"
	"usergate/internal/service"
)

type UserCmd struct {
	Create UserCreateCmd `cmd:"" help:"Create a user"`
	List   UserListCmd   `cmd:"" help:"List users"`
	Delete UserDeleteCmd `cmd:"" help:"Delete a user"`
	Import UserImportCmd `cmd:"" help:"Create users from a loginname,mail,roleid;roleid CSV file"`

	DisableMFA UserDisableMFACmd `cmd:"" name:"disable-mfa" help:"Remove every second factor of a user"`
}

type UserCreateCmd struct {
	Loginname   string   `arg:"" help:"Login name"`
	Mail        string   `help:"Mail address" required:""`
	Displayname string   `help:"Display name (defaults to the login name)"`
	Password    string   `help:"Initial password; without one a welcome mail with a password link is sent" env:"USERGATE_PASSWORD"`
	Service     bool     `help:"Create a service user"`
	Role        []string `help:"Role to assign (repeatable)"`
}

func (c *UserCreateCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	roleIDs, err := e.roleIDs(c.Role)
	if err != nil {
		return err
	}
	user, err := e.directory.CreateUser(e.ctx, service.UserRequest{
		Loginname:     c.Loginname,
		Displayname:   c.Displayname,
		Mail:          c.Mail,
		Password:      c.Password,
		IsServiceUser: c.Service,
		RoleIDs:       roleIDs,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Created user %s (uid %d)\n", user.Loginname, user.UnixUID)

	if c.Password != "" || c.Service {
		return nil
	}
	mailer, err := service.NewEmailService(e.ctx, e.cfg.AWSRegion, e.cfg.SESFromEmail, e.cfg.SESFromName, *zerolog.Ctx(e.ctx))
	if err != nil {
		return err
	}
	limits := ratelimit.NewSet(e.cfg, ratelimit.NewMemoryStore(16, ratelimit.MaxInterval(e.cfg)))
	self := service.NewSelfserviceService(e.db, e.cfg, limits, mailer)
	if err := self.SendPasswordReset(e.ctx, user, true); err != nil {
		if errors.Is(err, service.ErrMailNotSent) {
			fmt.Fprintln(e.out, "Warning: welcome mail could not be sent")
			return nil
		}
		return err
	}
	fmt.Fprintln(e.out, "Welcome mail sent")
	return nil
}

type UserListCmd struct{}

func (c *UserListCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	users, err := e.directory.ListUsers(e.ctx)
	if err != nil {
		return err
	}
	w := e.table()
	fmt.Fprintln(w, "ID\tUID\tLOGINNAME\tMAIL\tGROUPS")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", u.ID, u.UnixUID, u.Loginname, u.Mail, strings.Join(u.GroupNames(), ","))
	}
	return w.Flush()
}

type UserDeleteCmd struct {
	Loginname string `arg:"" help:"Login name of the user to delete"`
}

func (c *UserDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	user, err := e.directory.GetUserByLoginname(e.ctx, c.Loginname)
	if err != nil {
		return err
	}
	if err := e.directory.DeleteUser(e.ctx, user.ID); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted user %s\n", user.Loginname)
	return nil
}

type UserDisableMFACmd struct {
	Loginname string `arg:"" help:"Login name of the locked out user"`
}

func (c *UserDisableMFACmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	user, err := e.directory.GetUserByLoginname(e.ctx, c.Loginname)
	if err != nil {
		return err
	}
	if err := service.NewMFAService(e.db, e.cfg).Disable(e.ctx, user.ID); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Disabled second factors of %s\n", user.Loginname)
	return nil
}

type UserImportCmd struct {
	File string `arg:"" help:"CSV file" type:"existingfile"`
}

func (c *UserImportCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := e.directory.ImportCSV(e.ctx, f)
	if err != nil {
		return err
	}
	for _, skipped := range report.Skipped {
		fmt.Fprintf(e.out, "line %d skipped: %s\n", skipped.Line, skipped.Reason)
	}
	fmt.Fprintf(e.out, "Created %d users, skipped %d lines\n", len(report.Created), len(report.Skipped))
	return nil
}

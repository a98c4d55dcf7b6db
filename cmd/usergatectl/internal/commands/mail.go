package commands

import (
	"context"
	"fmt"
	"strings"

	"usergate/internal/service"
)

type MailCmd struct {
	Create MailCreateCmd `cmd:"" help:"Create a mail alias"`
	List   MailListCmd   `cmd:"" help:"List mail aliases"`
	Delete MailDeleteCmd `cmd:"" help:"Delete a mail alias"`
}

type MailCreateCmd struct {
	Name        string   `arg:"" help:"Alias name"`
	Receive     []string `help:"Address the alias receives mail for (repeatable)"`
	Destination []string `help:"Address the mail is forwarded to (repeatable)"`
}

func (c *MailCreateCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	m, err := service.NewMailService(e.db, e.cfg).Create(e.ctx, service.MailRequest{
		Name:                 c.Name,
		ReceiveAddresses:     c.Receive,
		DestinationAddresses: c.Destination,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Created mail alias %s\n", m.Name)
	return nil
}

type MailListCmd struct{}

func (c *MailListCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	mails, err := service.NewMailService(e.db, e.cfg).List(e.ctx)
	if err != nil {
		return err
	}
	w := e.table()
	fmt.Fprintln(w, "NAME\tRECEIVE\tDESTINATION")
	for _, m := range mails {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, strings.Join(m.ReceiveAddresses, ","), strings.Join(m.DestinationAddresses, ","))
	}
	return w.Flush()
}

type MailDeleteCmd struct {
	Name string `arg:"" help:"Alias name"`
}

func (c *MailDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	mails := service.NewMailService(e.db, e.cfg)
	found, err := mails.Find(e.ctx, "name", c.Name)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("%w: %s", service.ErrMailNotFound, c.Name)
	}
	if err := mails.Delete(e.ctx, found[0].ID); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted mail alias %s\n", c.Name)
	return nil
}

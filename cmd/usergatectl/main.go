package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"usergate/cmd/usergatectl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		User    commands.UserCmd    `cmd:"" help:"Manage users"`
		Group   commands.GroupCmd   `cmd:"" help:"Manage groups"`
		Role    commands.RoleCmd    `cmd:"" help:"Manage roles"`
		Invite  commands.InviteCmd  `cmd:"" help:"Manage invite links"`
		Mail    commands.MailCmd    `cmd:"" help:"Manage mail forwarding aliases"`
		Cleanup commands.CleanupCmd `cmd:"" help:"Purge expired signups, tokens and rate limit events"`
		Export  commands.ExportCmd  `cmd:"" help:"Export the directory to JSON"`
		Import  commands.ImportCmd  `cmd:"" help:"Merge a JSON export into the directory"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("usergatectl"),
		kong.Description("Administer the usergate directory."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}

package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"usergate/internal/ratelimit"
	"usergate/internal/repository"
	"usergate/internal/service"
)

type CleanupCmd struct{}

func (c *CleanupCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	var events ratelimit.Store = repository.NewRatelimitRepository(e.db)
	purged, err := service.NewCleanupService(e.db, e.cfg, events).RunOnce(e.ctx)
	if err != nil {
		return err
	}

	kinds := make([]string, 0, len(purged))
	for kind := range purged {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(e.out, "%s: %d purged\n", kind, purged[kind])
	}
	return nil
}

type ExportCmd struct {
	Output string `short:"o" help:"Output file path (default: usergate_YYYYMMDD_HHMMSS.json)"`
}

func (c *ExportCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	output := c.Output
	if output == "" {
		output = fmt.Sprintf("usergate_%s.json", time.Now().Format("20060102_150405"))
	}
	if dir := filepath.Dir(output); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := service.NewBackupService(e.db, e.cfg).Export(e.ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Directory exported to %s\n", output)
	return nil
}

type ImportCmd struct {
	Input string `arg:"" help:"JSON export to merge" type:"existingfile"`
}

func (c *ImportCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := service.NewBackupService(e.db, e.cfg).Import(e.ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Imported %d groups, %d roles, %d users; skipped %d existing records\n",
		report.Groups, report.Roles, report.Users, report.Skipped)
	return nil
}

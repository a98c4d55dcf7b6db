package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/logger"
	"usergate/internal/service"
)

type Globals struct {
	Debug   bool
	Version string
}

// env is the opened directory shared by all commands
type env struct {
	cfg       *config.Config
	db        *database.DB
	ctx       context.Context
	directory *service.DirectoryService
	out       io.Writer
}

// open loads the configuration, connects to the database and applies
// pending migrations
func open(ctx context.Context, globals *Globals) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.Setup(globals.Debug || cfg.Debug, cfg.LogFile)
	if !globals.Debug {
		log = log.Level(zerolog.WarnLevel)
	}
	ctx = log.WithContext(ctx)

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &env{
		cfg:       cfg,
		db:        db,
		ctx:       ctx,
		directory: service.NewDirectoryService(db, cfg),
		out:       os.Stdout,
	}, nil
}

func (e *env) Close() error {
	return e.db.Close()
}

func (e *env) table() *tabwriter.Writer {
	return tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
}

// roleIDs resolves role names
func (e *env) roleIDs(names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	roles, err := e.directory.ListRoles(e.ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(roles))
	for _, r := range roles {
		byName[r.Name] = r.ID
	}
	return resolve(names, byName, service.ErrRoleNotFound)
}

// groupIDs resolves group names
func (e *env) groupIDs(names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	groups, err := e.directory.ListGroups(e.ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(groups))
	for _, g := range groups {
		byName[g.Name] = g.ID
	}
	return resolve(names, byName, service.ErrGroupNotFound)
}

func resolve(names []string, byName map[string]int64, notFound error) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", notFound, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

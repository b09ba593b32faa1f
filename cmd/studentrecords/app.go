package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/yigit/studentrecords/internal/app/services"
	"github.com/yigit/studentrecords/internal/bootstrap"
	"github.com/yigit/studentrecords/internal/config"
	"github.com/yigit/studentrecords/internal/db"
)

// runner carries what every command needs
type runner struct {
	out io.Writer
}

func newApp(out io.Writer) *cli.App {
	r := &runner{out: out}
	return &cli.App{
		Name:      "studentrecords",
		Usage:     "manage students, courses, exam results and scholarships",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of the YAML configuration file",
				Value:   bootstrap.DefaultConfigPath,
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format: table, json or yaml",
				Value:   formatTable,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply the database migrations (postgres backend)",
				Action: r.migrate,
			},
			{
				Name:   "demo",
				Usage:  "store the demo data set and list the students",
				Action: r.demo,
			},
			studentCommands(r),
			examCommands(r),
			courseCommands(r),
			scholarshipCommands(r),
		},
	}
}

// withService builds the dependencies for one command and closes them after
func (r *runner) withService(c *cli.Context, fn func(ctx context.Context, deps *bootstrap.Dependencies) error) (err error) {
	deps, err := bootstrap.Setup(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, deps.Close())
	}()
	return fn(c.Context, deps)
}

// inTransaction runs work in one transaction of a freshly built service
func (r *runner) inTransaction(c *cli.Context, work services.Work) error {
	return r.withService(c, func(ctx context.Context, deps *bootstrap.Dependencies) error {
		return deps.Persistence.RunInTransaction(ctx, work)
	})
}

func (r *runner) printer(c *cli.Context) (*printer, error) {
	return newPrinter(r.out, c.String("output"))
}

func (r *runner) migrate(c *cli.Context) error {
	cfg, lgr, err := bootstrap.LoadConfigAndSetupLogger(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != config.BackendPostgres {
		return fmt.Errorf("migrations only apply to the %s backend, configured backend is %s",
			config.BackendPostgres, cfg.Storage.Backend)
	}

	database, err := db.NewPostgresDB(c.Context, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return bootstrap.RunMigrations(c.Context, database, lgr)
}

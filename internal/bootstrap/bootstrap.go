package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/uber-go/tally/v4"
	"go.uber.org/multierr"

	appMigrations "github.com/yigit/studentrecords/internal/app/migrations"
	appRepos "github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/app/repositories/memory"
	"github.com/yigit/studentrecords/internal/app/repositories/postgres"
	appServices "github.com/yigit/studentrecords/internal/app/services"
	"github.com/yigit/studentrecords/internal/config"
	"github.com/yigit/studentrecords/internal/db"
	"github.com/yigit/studentrecords/internal/pkg/logger"
	"github.com/yigit/studentrecords/internal/pkg/metrics"
)

// DefaultConfigPath is used when no config file is given
const DefaultConfigPath = "configs/config.yaml"

// Dependencies holds all the application dependencies
type Dependencies struct {
	Config        *config.Config
	Store         appRepos.Store
	Persistence   *appServices.PersistenceService
	MetricsScope  tally.Scope
	metricsCloser io.Closer
	Logger        zerolog.Logger
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger(configPath string) (*config.Config, zerolog.Logger, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	prettyLog := strings.ToLower(cfg.Logging.Format) == "text"

	lgr := logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: prettyLog,
	})
	lgr.Debug().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupStore opens the configured storage backend. For PostgreSQL it runs
// the embedded migrations first when database.migrate_on_start is set.
func SetupStore(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (appRepos.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		opts := []memory.Option{memory.WithTxTimeout(cfg.TxTimeout())}
		if cfg.Storage.SnapshotPath != "" {
			opts = append(opts, memory.WithSnapshotFile(cfg.Storage.SnapshotPath))
		}
		store, err := memory.NewStore(opts...)
		if err != nil {
			lgr.Error().Err(err).Msg("Failed to open memory store")
			return nil, err
		}
		lgr.Debug().Str("snapshot", cfg.Storage.SnapshotPath).Msg("Memory store ready")
		return store, nil

	case config.BackendPostgres:
		lgr.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.DBName).Msg("Establishing database connection...")
		database, err := db.NewPostgresDB(ctx, cfg)
		if err != nil {
			lgr.Error().Err(err).Msg("Failed to connect to database")
			return nil, err
		}

		if cfg.Database.MigrateOnStart {
			if err := RunMigrations(ctx, database, lgr); err != nil {
				database.Close()
				return nil, err
			}
		}
		return postgres.NewStore(database), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// RunMigrations applies the embedded schema migrations
func RunMigrations(ctx context.Context, database *db.PostgresDB, lgr zerolog.Logger) error {
	lgr.Info().Msg("Running database migrations...")
	migrator := appMigrations.NewMigrator(database.Pool, appMigrations.Embedded())
	applied, err := migrator.Migrate(ctx)
	if err != nil {
		lgr.Error().Err(err).Msg("Database migration error")
		return fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Int("applied", applied).Msg("Database migrations successfully applied.")
	return nil
}

// BuildDependencies wires the persistence service on top of store
func BuildDependencies(cfg *config.Config, store appRepos.Store, lgr zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Store: store, Logger: lgr}

	deps.MetricsScope, deps.metricsCloser = metrics.InitMetricScope(metrics.Config{
		Enabled:        cfg.Metrics.Enabled,
		Prefix:         cfg.Metrics.Prefix,
		ReportInterval: cfg.MetricsReportInterval(),
	}, lgr)

	persistence, err := appServices.NewPersistenceService(store,
		appServices.WithUniqueRegistrationNumbers(cfg.Persistence.UniqueRegistrationNumbers),
		appServices.WithMetricsScope(deps.MetricsScope),
		appServices.WithLogger(lgr.With().Str("component", "persistence").Logger()),
	)
	if err != nil {
		_ = deps.metricsCloser.Close()
		return nil, fmt.Errorf("failed to create persistence service: %w", err)
	}
	deps.Persistence = persistence
	return deps, nil
}

// Setup loads the configuration and builds every dependency
func Setup(ctx context.Context, configPath string) (*Dependencies, error) {
	cfg, lgr, err := LoadConfigAndSetupLogger(configPath)
	if err != nil {
		return nil, err
	}
	store, err := SetupStore(ctx, cfg, lgr)
	if err != nil {
		return nil, err
	}
	deps, err := BuildDependencies(cfg, store, lgr)
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	return deps, nil
}

// Close flushes metrics and closes the store
func (d *Dependencies) Close() error {
	var err error
	if d.metricsCloser != nil {
		err = multierr.Append(err, d.metricsCloser.Close())
	}
	if d.Store != nil {
		err = multierr.Append(err, d.Store.Close())
	}
	return err
}

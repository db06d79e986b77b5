package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/sanitrack/internal/config"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/logging"
	"github.com/lox/sanitrack/internal/store"
)

type CLI struct {
	EnvFile     kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	Config      string                   `help:"Path to YAML config file." type:"path" env:"SANITRACK_CONFIG"`
	DatabaseURL string                   `help:"Database DSN, overrides storage.dsn. postgres:// URLs select the postgres driver." env:"DATABASE_URL"`
	LogLevel    string                   `help:"Log level, overrides log_level." env:"LOG_LEVEL"`

	Serve        ServeCmd        `cmd:"" default:"1" help:"Run the HTTP API and background jobs."`
	Migrate      MigrateCmd      `cmd:"" help:"Apply database migrations and exit."`
	Seed         SeedCmd         `cmd:"" help:"Insert the demo facilities."`
	Report       ReportCmd       `cmd:"" help:"Print every facility with its grade."`
	Nearby       NearbyCmd       `cmd:"" help:"List facilities near a coordinate."`
	SyncRegistry SyncRegistryCmd `cmd:"" name:"sync-registry" help:"Import the municipal facility registry once."`
	GrantRole    GrantRoleCmd    `cmd:"" name:"grant-role" help:"Grant a role to a user."`
}

// App carries what every command needs once flags are parsed.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Grades *grading.Table
}

// OpenStore connects to the configured database and applies migrations.
func (a *App) OpenStore() (*store.Store, error) {
	st, err := store.Open(a.Config.Storage.Driver, a.Config.Storage.DSN, a.Grades)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("sanitrack"),
		kong.Description("Public toilet cleanliness tracking."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)
	if cli.DatabaseURL != "" {
		cfg.Storage.DSN = cli.DatabaseURL
		if strings.HasPrefix(cli.DatabaseURL, "postgres://") || strings.HasPrefix(cli.DatabaseURL, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	app := &App{
		Config: cfg,
		Logger: logging.NewLogger(cfg.LogLevel),
		Grades: grading.Default(),
	}
	slog.SetDefault(app.Logger)

	kctx.FatalIfErrorf(kctx.Run(app))
}

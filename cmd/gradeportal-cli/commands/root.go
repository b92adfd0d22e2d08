package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"gradeportal-backend/internal/components/chrono"
	"gradeportal-backend/internal/components/configutil"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/districts"
	"gradeportal-backend/internal/notify"
	"gradeportal-backend/internal/portal"
	"gradeportal-backend/internal/scrape"
	"gradeportal-backend/internal/snapshot"
	"gradeportal-backend/internal/watch"
	"gradeportal-backend/pkg/migrations"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type Config struct {
	// Districts adds to or overrides the builtin districts by name.
	Districts []districts.Config `json:"districts"`
	Accounts  []watch.Account    `json:"accounts"`
	// Database is a sqlite file or a libsql server url.
	Database string `json:"database"`
	// Smtp enables change mail, accounts without notify addresses are
	// never mailed.
	Smtp          *notify.SmtpConfig `json:"smtp"`
	MaxRetries    *uint64            `json:"max_retries"`
	RetryInterval string             `json:"retry_interval"`
	Concurrency   int                `json:"concurrency"`
	Schedule      string             `json:"schedule"`
	RoundTimeout  string             `json:"round_timeout"`
	// DumpDir keeps every http exchange with the portals when set.
	DumpDir string `json:"dump_dir"`
}

func defaultConfig() Config {
	return Config{
		Database:      "data/snapshots.db",
		RetryInterval: "1s",
		Concurrency:   4,
		Schedule:      "0 7,15,19 * * *",
		RoundTimeout:  "10m",
	}
}

var (
	configPath string
	verbose    bool

	config      Config
	tel         telemetry.API
	telSetup    telemetry.Telemetry
	hasTelSetup bool
)

var rootCmd = &cobra.Command{
	Use:   "gradeportal-cli",
	Short: "gradeportal-cli scrapes school district grade portals and keeps track of grade changes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		err := godotenv.Load()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		fileConfig, err := configutil.ReadConfig[Config](configPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		config, err = withDefaults(fileConfig)
		if err != nil {
			return err
		}

		telSetup, err = telemetry.SetupFromEnv(cmd.Context(), "gradeportal-cli")
		if err == nil {
			hasTelSetup = true
		} else if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to setup telemetry", "err", err)
		}

		otelApi, err := telemetry.NewOtelAPI("gradeportal-cli", telemetry.SlogAPI{})
		if err != nil {
			slog.Warn("failed to create otel metrics", "err", err)
			tel = telemetry.SlogAPI{}
			return nil
		}
		tel = otelApi
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if !hasTelSetup {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := telSetup.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to shutdown telemetry", "err", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "gradeportal.json5", "The json5 configuration file, <name>.local.json5 overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug reports.")
}

// withDefaults fills every field the file leaves unset from defaultConfig.
func withDefaults(file Config) (Config, error) {
	err := mergo.Merge(&file, defaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("merge config defaults: %w", err)
	}
	return file, nil
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func registry() (districts.Registry, error) {
	return districts.NewRegistry(append(slices.Clone(districts.Builtin), config.Districts...)...)
}

func findDistrict(name string) (portal.District, error) {
	r, err := registry()
	if err != nil {
		return portal.District{}, err
	}
	d, ok := r.Find(name)
	if !ok {
		return portal.District{}, fmt.Errorf("unknown district '%s', see the districts command", name)
	}
	return d, nil
}

func newScraper() (scrape.Scraper, error) {
	interval, err := time.ParseDuration(config.RetryInterval)
	if err != nil {
		return scrape.Scraper{}, fmt.Errorf("retry_interval: %w", err)
	}
	retry := scrape.DefaultRetryPolicy()
	if config.MaxRetries != nil {
		retry.MaxRetries = *config.MaxRetries
	}
	retry.InitialInterval = interval

	return scrape.NewScraper(scrape.Options{
		Retry:        retry,
		NewTransport: scrape.RestyTransports(tel, config.DumpDir),
		Concurrency:  config.Concurrency,
	}, tel), nil
}

func openStore(ctx context.Context) (snapshot.Store, func(), error) {
	db, err := migrations.OpenAndMigrateDB(ctx, snapshot.Schema, config.Database)
	if err != nil {
		return snapshot.Store{}, nil, err
	}
	store := snapshot.NewStore(db, chrono.NewStandardTime(), tel)
	return store, func() { db.Close() }, nil
}

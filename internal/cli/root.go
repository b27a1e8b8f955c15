// Package cli implements the qaboard command line: serve runs the API with
// its notification relay, migrate prepares the schema and relay drains the
// notification outbox by hand.
package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-qa-backend/internal/config"
	"github.com/tbourn/go-qa-backend/internal/repo"
	"github.com/tbourn/go-qa-backend/internal/sysutil"
	"gorm.io/gorm"
)

// app is the state shared by subcommands once the root pre-run has loaded
// configuration.
type app struct {
	version string
	envFile string
	cfg     config.Config
	log     zerolog.Logger
}

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:           "qaboard",
		Short:         "Q&A board backend",
		Long:          "qaboard serves the Q&A board API: questions, answers, votes, acceptance and notifications.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment (missing file is ignored)")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newRelayCmd(a))
	return root
}

// init seeds the environment from the dotenv file, loads configuration and
// sets up logging. Variables already present in the environment win.
func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = sysutil.SetupLogger(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
	})
	return nil
}

// openDB opens the configured database and applies migrations.
func (a *app) openDB() (*gorm.DB, error) {
	db, err := repo.Open(a.cfg.DB.Driver, a.cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

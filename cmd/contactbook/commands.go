package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/R3E-Network/contactbook/internal/app/runtime"
	"github.com/R3E-Network/contactbook/internal/config"
	"github.com/R3E-Network/contactbook/internal/platform/migrations"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API",
		Action: runServe,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(cmd, func(cfg *config.Config) error {
						db, err := runtime.OpenDatabase(cfg.Database)
						if err != nil {
							return err
						}
						defer db.Close()
						if err := migrations.Up(db); err != nil {
							return err
						}
						return printVersion(db)
					})
				},
			},
			{
				Name:  "down",
				Usage: "Roll back every migration",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(cmd, func(cfg *config.Config) error {
						db, err := runtime.OpenDatabase(cfg.Database)
						if err != nil {
							return err
						}
						defer db.Close()
						return migrations.Down(db)
					})
				},
			},
			{
				Name:  "version",
				Usage: "Print the applied schema version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDatabase(cmd, func(cfg *config.Config) error {
						db, err := runtime.OpenDatabase(cfg.Database)
						if err != nil {
							return err
						}
						defer db.Close()
						return printVersion(db)
					})
				},
			},
		},
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	application, err := runtime.NewApplication(cfg)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)
	if err := application.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if path := cmd.String(configFlag); path != "" {
		_ = godotenv.Load()
		return config.LoadFromPath(path, true)
	}
	return config.Load()
}

func withDatabase(cmd *cli.Command, fn func(cfg *config.Config) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	return fn(cfg)
}

func printVersion(db *sql.DB) error {
	version, dirty, err := migrations.Version(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

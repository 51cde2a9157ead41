package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/draftline/takeoff-engine/costing"
	"github.com/draftline/takeoff-engine/repository"
	"github.com/draftline/takeoff-engine/server"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "takeoffd",
		Short:        "Drawing takeoff calibration and measurement service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	return root
}

func setupRepository(cfg *Config) (*repository.Repository, error) {
	repo := repository.New(costing.NewCalculator())
	if err := repo.ConnectDB(cfg.DatabaseDSN); err != nil {
		return nil, err
	}
	return repo, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)

			repo, err := setupRepository(cfg)
			if err != nil {
				return err
			}
			if err := repo.Migrate(); err != nil {
				return err
			}

			ws := server.NewWebServer(repo, cfg.HTTPAddr, logrus.StandardLogger())
			ws.Start()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigc
			logrus.Infof("caught signal %q, shutting down", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ws.Shutdown(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			repo, err := setupRepository(cfg)
			if err != nil {
				return err
			}
			if err := repo.Migrate(); err != nil {
				return err
			}
			logrus.Info("database migration completed")
			if seed {
				return repo.Seed()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert demo data after migrating")
	return cmd
}

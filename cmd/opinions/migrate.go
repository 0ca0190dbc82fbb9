package main

import (
	"github.com/spf13/cobra"

	"nuclight.org/opinions/internal/logger"
	"nuclight.org/opinions/internal/storage"
)

func newMigrateCmd(flags *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, false)

			db, err := storage.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return err
			}
			log.Info("database migrated", "driver", db.Driver())
			return nil
		},
	}
}

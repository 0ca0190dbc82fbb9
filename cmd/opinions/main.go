package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nuclight.org/opinions/internal/config"
)

type storageFlags struct {
	driver      string
	path        string
	databaseURL string
}

// apply overrides the loaded configuration with the flags set on cmd.
func (f *storageFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("db-driver") {
		cfg.DBDriver = f.driver
	}
	if cmd.Flags().Changed("db-path") {
		cfg.DBPath = f.path
	}
	if cmd.Flags().Changed("database-url") {
		cfg.DatabaseURL = f.databaseURL
	}
}

func (f *storageFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.driver, "db-driver", config.DriverSQLite, "database driver: sqlite, postgres or bbolt")
	cmd.PersistentFlags().StringVar(&f.path, "db-path", "", "database file for sqlite and bbolt")
	cmd.PersistentFlags().StringVar(&f.databaseURL, "database-url", "", "postgres connection string")
}

func newRootCmd() *cobra.Command {
	var flags storageFlags

	rootCmd := &cobra.Command{
		Use:           "opinions",
		Short:         "Telegram bot collecting free-form answers to a question",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(rootCmd)

	serveCmd := newServeCmd(&flags)
	rootCmd.AddCommand(serveCmd, newMigrateCmd(&flags))
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}

func loadConfig(cmd *cobra.Command, flags *storageFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flags.apply(cmd, cfg)
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nuclight.org/opinions/internal/bot"
	"nuclight.org/opinions/internal/config"
	"nuclight.org/opinions/internal/lock"
	"nuclight.org/opinions/internal/logger"
	"nuclight.org/opinions/internal/poll"
	"nuclight.org/opinions/internal/server"
	"nuclight.org/opinions/internal/storage"
)

func newServeCmd(flags *storageFlags) *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "address of the health, status and webhook endpoints")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}
	log := logger.New(cfg.LogLevel, cfg.SentryDSN != "")

	log.Info("config loaded",
		"db_driver", cfg.DBDriver,
		"http_addr", cfg.HTTPAddr,
		"webhook", cfg.WebhookURL != "",
		"min_render_interval", cfg.MinRenderInterval,
	)

	db, err := storage.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database initialized", "driver", db.Driver())

	b, err := bot.New(bot.Options{
		Token:         cfg.TelegramToken,
		WebhookURL:    cfg.WebhookURL,
		WebhookSecret: cfg.WebhookSecret,
	}, log)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	records := poll.NewRecords(db.Polls)
	locker := lock.NewLocker(db.Leases, cfg.LockLeaseTTL, log)
	syncer := poll.NewSyncer(records, locker, b.Display(), poll.SyncConfig{
		MinRenderInterval: cfg.MinRenderInterval,
		MaxControls:       cfg.MaxControls,
	}, log)
	pollService := poll.NewService(records, syncer, log)

	b.RegisterHandlers(pollService)
	srv := server.New(pollService, b.WebhookHandler(), log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		b.Start(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		b.Stop()
		return nil
	})
	g.Go(func() error {
		storage.PurgeLeases(ctx, db.Leases, cfg.LockLeaseTTL, log)
		return nil
	})

	err = g.Wait()
	log.Info("shut down")
	return err
}

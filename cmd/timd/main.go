package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sherzodv/tim/internal/gateway"
	"github.com/sherzodv/tim/internal/server"
	"github.com/sherzodv/tim/pkg/config"
	"github.com/sherzodv/tim/pkg/hub"
	"github.com/sherzodv/tim/pkg/logging"
	"github.com/sherzodv/tim/pkg/session"
	"github.com/sherzodv/tim/pkg/store"
	"github.com/sherzodv/tim/pkg/timeline"
)

func main() {
	var (
		configName string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "timd",
		Short:         "tim space server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.ParseLevel(logLevel))
			slog.SetDefault(logger)
			return run(logger, configName)
		},
	}
	root.Flags().StringVar(&configName, "config", "config", "config file name (without extension)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	if err := root.Execute(); err != nil {
		slog.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configName string) error {
	cfg, err := config.Load(logger, configName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := openStore(logger, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := session.NewRegistry(logger, st)
	if err != nil {
		return err
	}
	log := timeline.NewLog(st)
	h := hub.New(logger, cfg.Hub.BufferSize)
	gw := gateway.New(logger, sessions, log, h)

	app := server.NewApp(logger, ctx, cfg, gw, h)
	if err := app.Run(); err != nil {
		return err
	}
	logger.Info("Application shut down successfully.")
	return nil
}

func openStore(logger *slog.Logger, cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Path == "" {
		logger.Warn("No storage path configured, running with in-memory store")
		return store.NewMemory(), nil
	}
	logger.Info("Opening event store", slog.String("path", cfg.Storage.Path))
	return store.OpenBadger(cfg.Storage.Path)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"meshbot/internal/channels/telegram"
	"meshbot/internal/config"
	"meshbot/internal/logging"
	"meshbot/internal/mesh"
	"meshbot/internal/metrics"
	"meshbot/internal/session"
)

var (
	configFile string
	initStore  bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "meshbot",
		Short:        "Telegram front end for the MES school portal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML config (default: ./meshbot.yaml if present)")
	cmd.Flags().BoolVar(&initStore, "init-store", false, "create an empty session store file and exit")
	return cmd
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if initStore {
		if err := session.Seed(cfg.Storage.SessionFile); err != nil {
			return err
		}
		fmt.Printf("created empty session store at %s\n", cfg.Storage.SessionFile)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Storage.LogDir); err != nil {
		return err
	}
	defer logging.Close()
	logger := logging.NewComponentLogger("Main")
	logger.Info("meshbot starting")

	// The session store must load cleanly; an unreadable or corrupt store is
	// fatal rather than silently starting empty.
	sessions, err := session.Open(cfg.Storage.SessionFile)
	if err != nil {
		return err
	}
	logger.Info("session store loaded: %d chats", sessions.Len())

	failures, err := logging.OpenFailureLog(cfg.Storage.LogDir)
	if err != nil {
		return err
	}
	defer failures.Close()

	portal := mesh.New(mesh.Config{
		FamilyBaseURL: cfg.Portal.FamilyBaseURL,
		CoreBaseURL:   cfg.Portal.CoreBaseURL,
		Timeout:       cfg.Portal.Timeout,
	}, sessions, failures, logging.NewComponentLogger("Portal"))

	gateway, err := telegram.NewGateway(telegram.Config{
		Token:         cfg.Telegram.Token,
		UpdateTimeout: cfg.Telegram.UpdateTimeout,
		ReplyTimeout:  cfg.Telegram.ReplyTimeout,
	}, portal, logging.NewComponentLogger("Telegram"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go metrics.Serve(ctx, cfg.Metrics.Addr, logging.NewComponentLogger("Metrics"))

	if err := gateway.Run(ctx); err != nil {
		return err
	}
	logger.Info("meshbot stopped")
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

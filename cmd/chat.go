package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hospital-query/internal/cli"
	"hospital-query/internal/session"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions in an interactive terminal loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
}

func runChat(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr, false)

	svc, err := newQueryService(cfg, logger, nil)
	if err != nil {
		return err
	}
	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}

	sess, err := session.New(uuid.NewString(), svc, backendFactory(cfg), sessionOptions(ledger, logger)...)
	if err != nil {
		return err
	}
	if cfg.APIKey != "" {
		if err := sess.Configure(cfg.APIKey); err != nil {
			logger.Warn("configured api key not accepted", "err", err)
		}
	}

	term := cli.NewTerminal()
	defer term.Close()

	repl, err := cli.New(term, os.Stdout, sess, cli.WithLogger(logger))
	if err != nil {
		return err
	}
	return repl.Run(ctx)
}

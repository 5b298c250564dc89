package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hospital-query/internal/metrics"
	"hospital-query/internal/session"
	"hospital-query/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		addr         string
		secureCookie bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser chat UI and JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, secureCookie)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :7860)")
	cmd.Flags().BoolVar(&secureCookie, "secure-cookie", false, "mark the session cookie Secure")
	return cmd
}

func runServe(ctx context.Context, addr string, secureCookie bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	logger := newLogger(cfg, os.Stderr, false)

	m := metrics.New()
	svc, err := newQueryService(cfg, logger, m)
	if err != nil {
		return err
	}
	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}

	factory := backendFactory(cfg)
	store, err := session.NewStore(func(id string) (*session.Session, error) {
		s, err := session.New(id, svc, factory, sessionOptions(ledger, logger)...)
		if err != nil {
			return nil, err
		}
		// A key from the environment or config file pre-opens every session.
		if cfg.APIKey != "" {
			if err := s.Configure(cfg.APIKey); err != nil {
				logger.Warn("configured api key not accepted", "err", err)
			}
		}
		m.RecordSessionCreated()
		return s, nil
	}, logger, storeOptions(cfg)...)
	if err != nil {
		return err
	}
	store.OnEvict(m.RecordSessionEvicted)
	go store.Run(ctx, 0)

	srv, err := web.NewServer(store,
		web.WithLogger(logger),
		web.WithMetrics(m.Handler(), m.Middleware),
		web.WithSecureCookie(secureCookie),
	)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

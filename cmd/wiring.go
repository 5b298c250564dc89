package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"hospital-query/internal/config"
	"hospital-query/internal/integrations/openai"
	"hospital-query/internal/repository"
	"hospital-query/internal/session"
	"hospital-query/internal/usecase"
)

// loadConfig reads configuration and applies CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger installs the process-wide slog logger. json selects the JSON
// handler used in Lambda (CloudWatch); otherwise text.
func newLogger(cfg *config.Config, w io.Writer, json bool) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func newQueryService(cfg *config.Config, logger *slog.Logger, observer usecase.Observer) (*usecase.QueryService, error) {
	opts := []usecase.Option{usecase.WithLogger(logger)}
	if observer != nil {
		opts = append(opts, usecase.WithObserver(observer))
	}
	svc, err := usecase.NewQueryService(cfg.QueryConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create query service: %w", err)
	}
	return svc, nil
}

// backendFactory builds one OpenAI-compatible client per API key.
func backendFactory(cfg *config.Config) session.BackendFactory {
	return func(apiKey string) (usecase.LLMClient, error) {
		c, err := openai.NewClient(apiKey,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// newLedger returns nil when no usage table is configured.
func newLedger(ctx context.Context, cfg *config.Config) (session.Ledger, error) {
	if cfg.Usage.Table == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	ledger, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Usage.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage ledger: %w", err)
	}
	return ledger, nil
}

func storeOptions(cfg *config.Config) []session.StoreOption {
	return []session.StoreOption{
		session.WithIdleTimeout(cfg.Sessions.IdleTimeout),
		session.WithMaxSessions(cfg.Sessions.Max),
	}
}

// sessionOptions attaches the ledger only when one exists, keeping a nil
// *repository.Client out of the interface.
func sessionOptions(ledger session.Ledger, logger *slog.Logger) []session.Option {
	opts := []session.Option{session.WithLogger(logger)}
	if ledger != nil {
		opts = append(opts, session.WithLedger(ledger))
	}
	return opts
}

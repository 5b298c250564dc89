package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"hospital-query/handler"
	"hospital-query/internal/integrations/paramstore"
	"hospital-query/internal/session"
)

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function behind API Gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLambda(cmd.Context())
		},
	}
}

func runLambda(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ---- Configuration ----
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout, true)
	if cfg.ParamPrefix == "" {
		return errors.New("HQ_PARAM_PREFIX (param_prefix) is required in lambda mode")
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return fmt.Errorf("failed to create SSM client: %w", err)
	}
	cred, err := paramstore.NewCredential(ssmClient, paramstore.TokenParameterName(cfg.ParamPrefix))
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}

	// ---- Handler ----
	svc, err := newQueryService(cfg, logger, nil)
	if err != nil {
		return err
	}
	factory := backendFactory(cfg)
	store, err := session.NewStore(func(id string) (*session.Session, error) {
		return session.New(id, svc, factory, sessionOptions(ledger, logger)...)
	}, logger, storeOptions(cfg)...)
	if err != nil {
		return err
	}
	// Warm containers outlive single requests; keep the session map bounded.
	go store.Run(ctx, 0)

	h, err := handler.NewHandler(store, cred, handler.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	lambda.Start(h.Handle)
	return nil
}

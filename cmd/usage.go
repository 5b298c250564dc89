package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hospital-query/internal/domain"
)

// usageReader is the read side of the usage ledger.
type usageReader interface {
	GetSessionMeta(ctx context.Context, sessionID string) (domain.SessionMeta, error)
	ListUsage(ctx context.Context, sessionID string, limit int) ([]domain.UsageRecord, error)
}

func newUsageCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "usage <session-id>",
		Short: "Show recorded token usage for a session from the usage ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd.Context(), args[0], limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent queries to show (0 for all)")
	return cmd
}

func runUsage(ctx context.Context, sessionID string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	newLogger(cfg, os.Stderr, false)

	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}
	reader, ok := ledger.(usageReader)
	if !ok {
		return errors.New("no usage ledger configured (set usage.table or HQ_USAGE_TABLE)")
	}
	return printUsage(ctx, os.Stdout, reader, sessionID, limit)
}

func printUsage(ctx context.Context, w io.Writer, r usageReader, sessionID string, limit int) error {
	meta, err := r.GetSessionMeta(ctx, sessionID)
	if err != nil {
		return err
	}
	records, err := r.ListUsage(ctx, sessionID, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Session: %s\n", sessionID)
	fmt.Fprintf(w, "Total tokens used: %d\n", meta.TotalTokens)
	fmt.Fprintf(w, "Queries: %d\n", meta.Queries)
	if len(records) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED AT\tOUTCOME\tTOKENS")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", rec.RecordedAt, rec.Outcome, rec.Tokens)
	}
	return tw.Flush()
}

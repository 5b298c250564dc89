package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// lambdaRuntimeEnv is set by the Lambda runtime, which starts the
// bootstrap binary without arguments.
const lambdaRuntimeEnv = "AWS_LAMBDA_RUNTIME_API"

var (
	cfgFile   string
	modelFlag string
	logLevel  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hospital-query",
		Short: "Content-moderated hospital query assistant",
		Long: "hospital-query answers questions about hospital services, appointments and general " +
			"medical information. Every query is sanitized and moderated before it reaches the assistant.",
		// With no subcommand: Lambda mode inside the Lambda runtime, the
		// interactive loop everywhere else.
		RunE: func(cmd *cobra.Command, args []string) error {
			if inLambda() {
				return runLambda(cmd.Context())
			}
			return runChat(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/hospital-query/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLambdaCmd())
	rootCmd.AddCommand(newUsageCmd())
	return rootCmd
}

func inLambda() bool {
	return os.Getenv(lambdaRuntimeEnv) != ""
}

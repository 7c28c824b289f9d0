package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shpitdev/gemini-record-pipeline/internal/version"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/redact"
)

type cli struct {
	configPath string
	envFile    string
	verbose    bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "enricher",
		Short: "Enrich text records with Gemini and write the results as CSV",
		Long: `enricher reads field-prefixed text records, sends each record's text to Gemini over a
chat session and writes one CSV row per record.

Environment:
  GEMINI_API_KEY      Gemini API key (without it every row carries "Error (config)")
  GEMINI_MODEL        Model name (default gemini-1.5-flash)
  GEMINI_BASE_URL     Optional base URL override (proxies/testing)
  MAX_RETRIES         Extra attempts for transient failures (default 0)
  REQUEST_TIMEOUT     Per-request timeout, e.g. 30s (default none)
  RATE_LIMIT_RPS      Request rate limit, 0 disables (default 0)
  FAIL_FAST           Stop after the first failed record
  SESSION_ISOLATION   shared or per_record (default shared)
  TRANSLATE_LANGUAGE  Target language of the email translation (default kannada)
  WITH_STATUS         Append status/error columns

Variables are also read from a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if c.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "dotenv file to load (default .env, if present)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(c.emailsCmd())
	root.AddCommand(c.reviewsCmd())
	root.AddCommand(c.runCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Current)
		},
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "enricher: %s\n", redact.Secrets(err.Error()))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/gemini-record-pipeline/internal/app"
	"github.com/shpitdev/gemini-record-pipeline/internal/config"
	"github.com/shpitdev/gemini-record-pipeline/internal/enrich"
	"github.com/shpitdev/gemini-record-pipeline/internal/session"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

type runFlags struct {
	input      string
	output     string
	model      string
	baseURL    string
	isolation  string
	language   string
	maxRetries int
	timeout    time.Duration
	rps        float64
	failFast   bool
	withStatus bool
	dryRun     bool
}

func (f *runFlags) register(cmd *cobra.Command, defaultInput, defaultOutput string) {
	fs := cmd.Flags()
	fs.StringVarP(&f.input, "input", "i", defaultInput, "Input text file")
	fs.StringVarP(&f.output, "output", "o", defaultOutput, "Output CSV file")
	fs.StringVar(&f.model, "model", "", "Gemini model name (env: GEMINI_MODEL)")
	fs.StringVar(&f.baseURL, "base-url", "", "Gemini API base URL override (env: GEMINI_BASE_URL)")
	fs.StringVar(&f.isolation, "isolation", "", "Session isolation: shared or per_record (env: SESSION_ISOLATION)")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "Extra attempts per request for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&f.timeout, "request-timeout", 0, "Per-request timeout, 0 disables (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&f.rps, "rate-limit-rps", 0, "Request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.BoolVar(&f.failFast, "fail-fast", false, "Stop after the first failed record (env: FAIL_FAST)")
	fs.BoolVar(&f.withStatus, "with-status", false, "Append status and error columns (env: WITH_STATUS)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Echo prompts back instead of calling Gemini")
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("model") {
		cfg.Model = f.model
	}
	if fs.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if fs.Changed("isolation") {
		cfg.Isolation = f.isolation
	}
	if fs.Changed("language") {
		cfg.Language = f.language
	}
	if fs.Changed("max-retries") {
		cfg.MaxRetries = f.maxRetries
	}
	if fs.Changed("request-timeout") {
		cfg.RequestTimeout = f.timeout
	}
	if fs.Changed("rate-limit-rps") {
		cfg.RateLimitRPS = f.rps
	}
	if fs.Changed("fail-fast") {
		cfg.FailFast = f.failFast
	}
	if fs.Changed("with-status") {
		cfg.WithStatus = f.withStatus
	}
}

func (c *cli) emailsCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "emails",
		Short: "Summarize and translate emails",
		Long: `Reads From:/To:/Body: blocks terminated by "end" (any case), summarizes each body and
translates the summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, f, config.Emails, func(cfg config.Config) (schema.Schema, enrich.Task, error) {
				return schema.Email(), enrich.EmailTask(cfg.Language), nil
			})
		},
	}
	f.register(cmd, "emails.txt", "processed_emails.csv")
	cmd.Flags().StringVar(&f.language, "language", "", "Translation target language (env: TRANSLATE_LANGUAGE, default kannada)")
	return cmd
}

func (c *cli) reviewsCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Guess product, sentiment and a reply for product reviews",
		Long:  `Reads Product:/Review: blocks terminated by "END", then asks for the product, the sentiment and a short reply.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, f, config.Reviews, func(config.Config) (schema.Schema, enrich.Task, error) {
				return schema.Review(), enrich.ReviewTask(), nil
			})
		},
	}
	f.register(cmd, "reviews.txt", "processed_reviews.csv")
	return cmd
}

func (c *cli) runCmd() *cobra.Command {
	f := &runFlags{}
	var schemaRef, taskRef string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a custom schema and task",
		Long: `Runs any record format and prompt chain. --schema and --task take either a built-in name
(email, review) or a YAML file path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, f, "custom", func(cfg config.Config) (schema.Schema, enrich.Task, error) {
				s, err := resolveSchema(schemaRef)
				if err != nil {
					return schema.Schema{}, enrich.Task{}, err
				}
				t, err := resolveTask(taskRef, cfg.Language)
				if err != nil {
					return schema.Schema{}, enrich.Task{}, err
				}
				return s, t, nil
			})
		},
	}
	f.register(cmd, "", "")
	cmd.Flags().StringVar(&schemaRef, "schema", "", "Built-in schema name or YAML file (required)")
	cmd.Flags().StringVar(&taskRef, "task", "", "Built-in task name or YAML file (required)")
	cmd.Flags().StringVar(&f.language, "language", "", "Translation target language for the email task")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func resolveSchema(ref string) (schema.Schema, error) {
	if s, ok := schema.Builtin(ref); ok {
		return s, nil
	}
	return schema.Load(ref)
}

func resolveTask(ref, language string) (enrich.Task, error) {
	switch ref {
	case "email", "emails":
		return enrich.EmailTask(language), nil
	case "review", "reviews":
		return enrich.ReviewTask(), nil
	}
	return enrich.LoadTask(ref)
}

type jobDef func(config.Config) (schema.Schema, enrich.Task, error)

func (c *cli) execute(cmd *cobra.Command, f *runFlags, pipelineName string, def jobDef) error {
	cfg, err := config.Load(pipelineName, config.Sources{ConfigPath: c.configPath, EnvFile: c.envFile})
	if err != nil {
		return err
	}
	f.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	s, task, err := def(cfg)
	if err != nil {
		return err
	}
	job := app.Job{
		InputPath:  f.input,
		OutputPath: f.output,
		Schema:     s,
		Task:       task,
		Options:    cfg.PipelineOptions(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess := c.openSession(ctx, cfg, f.dryRun)
	sum, err := app.Run(ctx, job, sess, c.logger)
	if err != nil {
		return err
	}
	if !f.dryRun {
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dry run: %d records, %d rows ok, %d rows with errors, written=%t\n",
		sum.Records, sum.OK, sum.Errors, sum.Written)
	return nil
}

func (c *cli) openSession(ctx context.Context, cfg config.Config, dryRun bool) session.Session {
	if dryRun {
		c.logger.Info("dry run: prompts are echoed back", zap.String("model", cfg.Model))
		return &session.Echo{}
	}
	if err := cfg.CheckCredentials(); err != nil {
		c.logger.Warn("no credentials; every row will carry an Error (config) marker", zap.Error(err))
		return session.Broken{Err: err}
	}
	return app.OpenSession(ctx, cfg.Gemini(), c.logger)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/gemini-record-pipeline/internal/enrich"
	"github.com/shpitdev/gemini-record-pipeline/internal/pipeline"
	"github.com/shpitdev/gemini-record-pipeline/internal/session"
	"github.com/shpitdev/gemini-record-pipeline/internal/session/gemini"
	localio "github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

// Job is one file-to-file run.
type Job struct {
	InputPath  string
	OutputPath string
	Schema     schema.Schema
	Task       enrich.Task
	Options    pipeline.Options
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Records  int
	OK       int
	Errors   int
	Written  bool
	Duration time.Duration
}

// OpenSession connects to Gemini. When the client cannot be built the error is logged and a
// session that fails every request with that error is returned, so the run still emits one
// row per record.
func OpenSession(ctx context.Context, cfg gemini.Config, logger *zap.Logger) session.Session {
	s, err := gemini.New(ctx, cfg)
	if err != nil {
		logger.Error("gemini session unavailable; every request will fail",
			zap.String("model", cfg.Model),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return session.Broken{Err: err}
	}
	return s
}

// Run reads job.InputPath, enriches every record through sess and writes job.OutputPath.
//
// Input and output I/O problems are logged and never returned: an unreadable input yields
// zero records and an empty result is not written. The returned error is non-nil only for an
// invalid task, a fail-fast stop or cancellation.
func Run(ctx context.Context, job Job, sess session.Session, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sum := Summary{RunID: uuid.NewString()}
	logger = logger.With(zap.String("run", sum.RunID))
	runStart := time.Now()

	opts := job.Options
	opts.Logger = logger
	e, err := enrich.New(job.Task, job.Schema, opts.Runner())
	if err != nil {
		return sum, fmt.Errorf("task %q: %w", job.Task.Name, err)
	}

	logger.Info("run start",
		zap.String("task", job.Task.Name),
		zap.String("schema", job.Schema.Name),
		zap.String("input", job.InputPath),
		zap.String("output", job.OutputPath),
		zap.String("isolation", string(opts.Isolation)),
		zap.Int("maxRetries", opts.MaxRetries),
		zap.Duration("requestTimeout", opts.RequestTimeout),
		zap.Float64("rateLimitRPS", opts.RateLimitRPS),
		zap.Bool("failFast", opts.FailFast),
	)

	readStart := time.Now()
	recs, err := localio.ReadRecordsFile(job.InputPath, job.Schema)
	if err != nil {
		logger.Error("read input failed; continuing with zero records", zap.String("error", redact.Secrets(err.Error())))
	}
	sum.Records = len(recs)
	logger.Info("records loaded", zap.Int("records", len(recs)), zap.Duration("duration", time.Since(readStart).Round(time.Millisecond)))
	if len(recs) == 0 {
		logger.Warn("no records to process; output not written")
		sum.Duration = time.Since(runStart)
		return sum, nil
	}

	enrichStart := time.Now()
	traced := session.NewTraced(sess, logger)
	rows, runErr := pipeline.EnrichRecords(ctx, recs, e, traced, opts)
	sum.OK, sum.Errors = pipeline.CountStatuses(rows)
	logger.Info("enrichment complete",
		zap.Int("produced", len(rows)),
		zap.Int("ok", sum.OK),
		zap.Int("error", sum.Errors),
		zap.Int("requests", traced.Turns()),
		zap.Duration("duration", time.Since(enrichStart).Round(time.Millisecond)),
	)
	if runErr != nil {
		logger.Warn("run stopped early", zap.Int("rows", len(rows)), zap.String("error", redact.Secrets(runErr.Error())))
	}

	sum.Written = writeRows(job.OutputPath, rows, logger)
	sum.Duration = time.Since(runStart)
	logger.Info("run complete",
		zap.Bool("written", sum.Written),
		zap.Duration("totalDuration", sum.Duration.Round(time.Millisecond)),
	)
	return sum, runErr
}

func writeRows(path string, rows []pipeline.Row, logger *zap.Logger) bool {
	start := time.Now()
	err := pipeline.WriteCSVFile(path, rows)
	switch {
	case errors.Is(err, localio.ErrNoRows):
		logger.Warn("no rows to write; output not written")
		return false
	case err != nil:
		logger.Error("write output failed", zap.String("output", path), zap.String("error", redact.Secrets(err.Error())))
		return false
	}
	logger.Info("output written",
		zap.String("output", path),
		zap.Int("rows", len(rows)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return true
}

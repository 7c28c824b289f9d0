package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/gemini-record-pipeline/internal/enrich"
	"github.com/shpitdev/gemini-record-pipeline/internal/session"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/record"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/worker"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Row is one output line: the task's columns in order plus the record's overall status.
type Row struct {
	Header []string
	Values []string
	Status string
	Error  string
	// Line is the input line number where the record ended.
	Line int
}

// Get returns the value of the named column.
func (r Row) Get(col string) (string, bool) {
	for i, h := range r.Header {
		if h == col && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return "", false
}

// Options controls a run. Retry, timeout and rate-limit settings apply to each request.
type Options struct {
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool

	Isolation session.Isolation

	// WithStatus appends "status" and "error" columns to every row.
	WithStatus bool

	Logger *zap.Logger
}

// Runner returns the per-request runner for opts, or nil when every knob is off.
func (o Options) Runner() *worker.Runner {
	if o.MaxRetries <= 0 && o.RequestTimeout <= 0 && o.RateLimitRPS <= 0 {
		return nil
	}
	return worker.NewRunner(worker.Options{
		MaxRetries:        o.MaxRetries,
		RequestTimeout:    o.RequestTimeout,
		RateLimitRPS:      o.RateLimitRPS,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		BackoffJitterFrac: 0.2,
	})
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// EnrichRecords enriches every record in order and returns one row per record.
//
// Enrichment failures are recorded per row and do not fail the run. With FailFast the run
// stops after the first failed record and the rows produced so far are returned with the
// error. Cancellation of ctx also returns the rows produced so far.
func EnrichRecords(ctx context.Context, recs []record.Record, e *enrich.Enricher, sess session.Session, opts Options) ([]Row, error) {
	rows := make([]Row, 0, len(recs))
	err := EnrichRecordsStream(ctx, recs, e, sess, opts, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// EnrichRecordsStream is EnrichRecords with each row handed to onRow as soon as it is ready.
// An onRow error stops the run.
func EnrichRecordsStream(
	ctx context.Context,
	recs []record.Record,
	e *enrich.Enricher,
	sess session.Session,
	opts Options,
	onRow func(Row) error,
) error {
	logger := opts.logger()
	mgr := session.NewManager(sess, opts.Isolation)
	steps := e.Steps()

	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}

	start := time.Now()
	completed := 0
	_, err := worker.ProcessAllWithCallback(ctx, recs,
		func(ctx context.Context, rec record.Record) (enrich.Enriched, error) {
			s, err := mgr.ForRecord(ctx)
			if err != nil {
				out := e.Fail(rec, err)
				return out, out.Err(steps)
			}
			out := e.Enrich(ctx, s, rec)
			return out, out.Err(steps)
		},
		func(res worker.Result[record.Record, enrich.Enriched]) error {
			completed++
			row := toRow(e, res.Output, res.Err, opts.WithStatus)
			fields := []zap.Field{
				zap.Int("line", row.Line),
				zap.String("status", row.Status),
				zap.Int("completed", completed),
				zap.Int("total", len(recs)),
				zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
			}
			if res.Err != nil {
				logger.Warn("record enriched", append(fields,
					zap.String("kind", string(core.KindOf(res.Err))),
					zap.String("error", row.Error))...)
			} else {
				logger.Info("record enriched", fields...)
			}
			if onRow == nil {
				return nil
			}
			return onRow(row)
		},
		worker.Options{FailurePolicy: policy},
	)
	return err
}

func toRow(e *enrich.Enricher, en enrich.Enriched, err error, withStatus bool) Row {
	header, values := e.Row(en)
	row := Row{Header: header, Values: values, Status: StatusOK, Line: en.Record.Line}
	if err != nil {
		row.Status = StatusError
		row.Error = redact.Secrets(err.Error())
	}
	if withStatus {
		row.Header = append(row.Header, "status", "error")
		row.Values = append(row.Values, row.Status, row.Error)
	}
	return row
}

// CountStatuses tallies rows by status.
func CountStatuses(rows []Row) (okRows int, errorRows int) {
	for _, row := range rows {
		if row.Status == StatusOK {
			okRows++
			continue
		}
		errorRows++
	}
	return okRows, errorRows
}

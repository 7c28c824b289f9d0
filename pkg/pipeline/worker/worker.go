package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

type FailurePolicy int

const (
	FailurePolicyPartialOutput FailurePolicy = iota
	FailurePolicyFailFast
)

// Options controls the sequential runner. The zero value processes every item once with no
// timeout, no retries and no rate limit.
type Options struct {
	// MaxRetries is the number of extra attempts for transient failures.
	MaxRetries int
	// RequestTimeout bounds one attempt. Set to <=0 to disable.
	RequestTimeout time.Duration

	// RateLimitRPS limits attempts per second. Set to <=0 to disable.
	RateLimitRPS float64

	FailurePolicy FailurePolicy

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// ProcessAll runs the processor over all input items in order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor core.ProcessFunc[In, Out],
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items, one at a time and in input
// order, and invokes onResult after each item. A callback error stops the run.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor core.ProcessFunc[In, Out],
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	runner := NewRunner(opts)

	out := make([]Result[In, Out], 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := Do(ctx, runner, func(reqCtx context.Context) (Out, error) {
			return processor.Process(reqCtx, item)
		})
		r := Result[In, Out]{Index: i, Input: item, Output: res, Err: err}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out = append(out, r)
		if onResult != nil {
			if cbErr := onResult(r); cbErr != nil {
				return nil, cbErr
			}
		}
		if err != nil && runner.opts.FailurePolicy == FailurePolicyFailFast {
			return nil, err
		}
	}
	return out, nil
}

// Runner applies the rate limit, per-attempt timeout and transient-error retries to calls.
// A Runner is not safe for concurrent use.
type Runner struct {
	opts    Options
	limiter *rate.Limiter
}

func NewRunner(opts Options) *Runner {
	opts = opts.withDefaults()
	r := &Runner{opts: opts}
	if opts.RateLimitRPS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}
	return r
}

// Do calls fn until it succeeds, fails permanently or exhausts the retry budget. A nil
// Runner calls fn once.
func Do[Out any](ctx context.Context, r *Runner, fn func(context.Context) (Out, error)) (Out, error) {
	if r == nil {
		return fn(ctx)
	}
	opts := r.opts
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastOut, err
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return lastOut, err
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		}
		result, err := fn(reqCtx)
		lastOut = result
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return lastOut, ctx.Err()
		}
		maxRetries := MaxExtraRetries(opts.MaxRetries, err)
		if !core.IsTransient(err) || attempt >= maxRetries {
			return lastOut, err
		}

		sleep := backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return lastOut, ctx.Err()
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

// MaxExtraRetries returns the retry budget for err: defaultRetries, lowered when err carries
// its own cap.
func MaxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}

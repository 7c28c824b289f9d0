package core

import (
	"context"
	"errors"
	"net"
)

// Processor transforms one input item into one output item.
type Processor[In any, Out any] interface {
	Process(ctx context.Context, in In) (Out, error)
}

// ProcessFunc adapts a function to the Processor interface.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

func (f ProcessFunc[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is a transient error that caps how many extra retries it may consume,
// regardless of the worker's configured MaxRetries.
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil {
		return 0
	}
	return e.ExtraRetries
}

// ErrorKind classifies why a derived field could not be produced.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindConfig     ErrorKind = "config"
	KindTransient  ErrorKind = "transient"
	KindService    ErrorKind = "service"
	KindInput      ErrorKind = "input"
	KindDependency ErrorKind = "dependency"
)

// KindError tags an error with an ErrorKind.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e == nil || e.Err == nil {
		return string(e.kind()) + " error"
	}
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *KindError) kind() ErrorKind {
	if e == nil || e.Kind == KindNone {
		return KindService
	}
	return e.Kind
}

// KindOf reports the ErrorKind carried by err. Untagged errors are treated as service
// failures unless they look transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.kind()
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindService
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Outcome is the tagged result for one derived value: either Value, or a non-empty Kind with
// the failure message.
type Outcome struct {
	Value   string
	Kind    ErrorKind
	Message string
}

// Success wraps a successful value.
func Success(v string) Outcome {
	return Outcome{Value: v}
}

// Failure builds a failed outcome from err, using kind when err carries no tag of its own.
func Failure(kind ErrorKind, err error) Outcome {
	o := Outcome{Kind: kind}
	if err != nil {
		o.Message = err.Error()
		var ke *KindError
		if errors.As(err, &ke) {
			o.Kind = ke.kind()
		}
	}
	if o.Kind == KindNone {
		o.Kind = KindService
	}
	return o
}

// OK reports whether the outcome holds a value.
func (o Outcome) OK() bool {
	return o.Kind == KindNone
}

// Marker is the text written in place of a failed value.
func (o Outcome) Marker() string {
	if o.OK() {
		return o.Value
	}
	return "Error (" + string(o.Kind) + ")"
}

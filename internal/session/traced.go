package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/redact"
)

// Traced logs every request and response passing through a session.
type Traced struct {
	next   Session
	logger *zap.Logger

	turns  int
	resets int
}

func NewTraced(next Session, logger *zap.Logger) *Traced {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traced{next: next, logger: logger}
}

func (t *Traced) Send(ctx context.Context, prompt string) (string, error) {
	t.turns++
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("session request",
		zap.Int("turn", t.turns),
		zap.Int("promptBytes", len(prompt)),
		zap.String("deadlineIn", deadlineIn),
	)

	start := time.Now()
	out, err := t.next.Send(ctx, prompt)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		t.logger.Warn("session response",
			zap.Int("turn", t.turns),
			zap.Duration("duration", elapsed),
			zap.String("status", "error"),
			zap.String("kind", string(core.KindOf(err))),
			zap.Bool("retryable", core.IsTransient(err)),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return out, err
	}

	t.logger.Debug("session response",
		zap.Int("turn", t.turns),
		zap.Duration("duration", elapsed),
		zap.String("status", "ok"),
		zap.Int("responseBytes", len(out)),
	)
	return out, nil
}

func (t *Traced) Reset(ctx context.Context) error {
	t.resets++
	err := t.next.Reset(ctx)
	if err != nil {
		t.logger.Warn("session reset failed", zap.Int("reset", t.resets), zap.String("error", redact.Secrets(err.Error())))
		return err
	}
	t.logger.Debug("session reset", zap.Int("reset", t.resets), zap.Int("turnsBefore", t.turns))
	return nil
}

// Turns reports how many sends passed through the session.
func (t *Traced) Turns() int {
	return t.turns
}

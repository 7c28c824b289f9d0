// Package session holds the conversational handle that enrichment prompts are sent through.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
)

// Session is a stateful conversation with a text-generation service. Later sends may see the
// context of earlier ones until Reset is called.
type Session interface {
	Send(ctx context.Context, prompt string) (string, error)
	Reset(ctx context.Context) error
}

// Isolation selects how much conversational context records share.
type Isolation string

const (
	// IsolationShared keeps one conversation for the whole run.
	IsolationShared Isolation = "shared"
	// IsolationPerRecord starts every record with an empty conversation.
	IsolationPerRecord Isolation = "per_record"
)

// ParseIsolation parses an isolation mode. Empty means shared.
func ParseIsolation(raw string) (Isolation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "shared", "run":
		return IsolationShared, nil
	case "per_record", "per-record", "record":
		return IsolationPerRecord, nil
	default:
		return "", fmt.Errorf("invalid session isolation %q (want shared or per_record)", raw)
	}
}

// Manager owns the run's session and applies the isolation policy between records.
type Manager struct {
	sess      Session
	isolation Isolation
	records   int
}

func NewManager(s Session, isolation Isolation) *Manager {
	if isolation == "" {
		isolation = IsolationShared
	}
	return &Manager{sess: s, isolation: isolation}
}

// ForRecord returns the session to use for the next record, resetting it first when records
// are isolated. The first record always starts from the session as created.
func (m *Manager) ForRecord(ctx context.Context) (Session, error) {
	m.records++
	if m.isolation == IsolationPerRecord && m.records > 1 {
		if err := m.sess.Reset(ctx); err != nil {
			return m.sess, fmt.Errorf("reset session: %w", err)
		}
	}
	return m.sess, nil
}

// Broken is a session whose every call fails with a configuration error. It stands in for a
// client that could not be constructed so the run still produces one row per record.
type Broken struct {
	Err error
}

func (b Broken) Send(context.Context, string) (string, error) {
	return "", b.err()
}

func (b Broken) Reset(context.Context) error {
	return nil
}

func (b Broken) err() error {
	err := b.Err
	if err == nil {
		err = errors.New("session not configured")
	}
	var ke *core.KindError
	if errors.As(err, &ke) {
		return err
	}
	return &core.KindError{Kind: core.KindConfig, Err: err}
}

// Echo replies with the prompt it was sent. It records every prompt since the last Reset.
type Echo struct {
	Prefix string

	history []string
}

func (e *Echo) Send(_ context.Context, prompt string) (string, error) {
	e.history = append(e.history, prompt)
	return e.Prefix + prompt, nil
}

func (e *Echo) Reset(context.Context) error {
	e.history = nil
	return nil
}

// History returns the prompts sent since the last Reset.
func (e *Echo) History() []string {
	out := make([]string, len(e.history))
	copy(out, e.history)
	return out
}

package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shpitdev/gemini-record-pipeline/internal/session"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/record"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/worker"
)

// Enricher runs a task's steps over records of one schema.
type Enricher struct {
	task   Task
	schema schema.Schema
	steps  []compiledStep
	runner *worker.Runner
}

// New validates task against s. runner may be nil, in which case each prompt is sent once.
func New(task Task, s schema.Schema, runner *worker.Runner) (*Enricher, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	steps, err := compileSteps(task, s)
	if err != nil {
		return nil, err
	}
	return &Enricher{task: task, schema: s, steps: steps, runner: runner}, nil
}

// Steps returns the task's steps in send order.
func (e *Enricher) Steps() []Step {
	out := make([]Step, len(e.steps))
	for i, s := range e.steps {
		out[i] = s.Step
	}
	return out
}

// Enrich sends the task's prompts for rec through sess, in step order. It never fails: every
// problem is captured as a failed outcome on the affected step.
func (e *Enricher) Enrich(ctx context.Context, sess session.Session, rec record.Record) Enriched {
	out := Enriched{
		Record:  rec,
		Values:  rec.Values(e.schema),
		Outputs: make(map[string]core.Outcome, len(e.steps)),
	}

	if missing := rec.Missing(e.schema); len(missing) > 0 {
		err := fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
		for _, st := range e.steps {
			out.Outputs[st.Name] = core.Failure(core.KindInput, err)
		}
		return out
	}

	data := make(map[string]string, len(out.Values)+len(e.task.Vars)+len(e.steps))
	for k, v := range e.task.Vars {
		data[k] = v
	}
	for k, v := range out.Values {
		data[k] = v
	}

	for _, st := range e.steps {
		if dep, failed := firstFailedDependency(out.Outputs, st.DependsOn); failed {
			out.Outputs[st.Name] = core.Failure(core.KindDependency, fmt.Errorf("depends on failed step %q", dep))
			continue
		}

		var prompt strings.Builder
		if err := st.tmpl.Execute(&prompt, data); err != nil {
			out.Outputs[st.Name] = core.Failure(core.KindConfig, fmt.Errorf("render prompt: %w", err))
			continue
		}

		reply, err := worker.Do(ctx, e.runner, func(reqCtx context.Context) (string, error) {
			return sess.Send(reqCtx, prompt.String())
		})
		if err != nil {
			out.Outputs[st.Name] = core.Failure(kindOf(err), err)
			continue
		}
		if st.Trim {
			reply = strings.TrimSpace(reply)
		}
		out.Outputs[st.Name] = core.Success(reply)
		data[st.Name] = reply
	}
	return out
}

// Fail marks every step of rec as failed with err, for records that could not be attempted.
func (e *Enricher) Fail(rec record.Record, err error) Enriched {
	out := Enriched{
		Record:  rec,
		Values:  rec.Values(e.schema),
		Outputs: make(map[string]core.Outcome, len(e.steps)),
	}
	for _, st := range e.steps {
		out.Outputs[st.Name] = core.Failure(kindOf(err), err)
	}
	return out
}

func kindOf(err error) core.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return core.KindTransient
	}
	return core.KindOf(err)
}

func firstFailedDependency(outputs map[string]core.Outcome, deps []string) (string, bool) {
	for _, d := range deps {
		if o, ok := outputs[d]; ok && !o.OK() {
			return d, true
		}
	}
	return "", false
}

// Row lays an enriched record out in the task's column order. Failed steps are written as
// their error marker.
func (e *Enricher) Row(en Enriched) (header []string, values []string) {
	header = make([]string, 0, len(e.task.Columns))
	values = make([]string, 0, len(e.task.Columns))
	for _, c := range e.task.Columns {
		header = append(header, c.Header)
		if c.Field != "" {
			values = append(values, en.Values[c.Field])
			continue
		}
		values = append(values, en.Outputs[c.Step].Marker())
	}
	return header, values
}

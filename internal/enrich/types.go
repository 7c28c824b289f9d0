package enrich

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/record"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

// Step is one prompt sent per record. Its reply is stored under Name.
type Step struct {
	Name string `yaml:"name"`
	// Prompt is a text/template rendered over the record fields, earlier step outputs and
	// task vars, all keyed by name.
	Prompt string `yaml:"prompt"`
	// DependsOn names earlier steps whose outputs the prompt uses. If any of them failed the
	// step is not sent.
	DependsOn []string `yaml:"depends_on"`
	// Trim strips surrounding whitespace from the reply.
	Trim bool `yaml:"trim"`
}

// Column is one output CSV column, sourced from either a record field or a step.
type Column struct {
	Header string `yaml:"header"`
	Field  string `yaml:"field"`
	Step   string `yaml:"step"`
}

// Task describes how records of one schema are enriched and laid out.
type Task struct {
	Name    string            `yaml:"name"`
	Steps   []Step            `yaml:"steps"`
	Columns []Column          `yaml:"columns"`
	Vars    map[string]string `yaml:"vars"`
}

// Enriched is one record with its derived outcomes.
type Enriched struct {
	Record record.Record
	// Values holds the record's fields with schema defaults applied.
	Values map[string]string
	// Outputs holds one outcome per step name.
	Outputs map[string]core.Outcome
}

// Failed reports whether any step failed.
func (e Enriched) Failed() bool {
	for _, o := range e.Outputs {
		if !o.OK() {
			return true
		}
	}
	return false
}

// Err summarizes the failed steps, in the given step order, as one error. It returns nil when
// every step succeeded.
func (e Enriched) Err(steps []Step) error {
	var parts []string
	var first core.ErrorKind
	for _, s := range steps {
		o, ok := e.Outputs[s.Name]
		if !ok || o.OK() {
			continue
		}
		if first == core.KindNone {
			first = o.Kind
		}
		msg := o.Message
		if msg == "" {
			msg = string(o.Kind)
		}
		parts = append(parts, s.Name+": "+msg)
	}
	if len(parts) == 0 {
		return nil
	}
	return &core.KindError{Kind: first, Err: fmt.Errorf("%s", strings.Join(parts, "; "))}
}

type compiledStep struct {
	Step
	tmpl *template.Template
}

func compileSteps(task Task, s schema.Schema) ([]compiledStep, error) {
	if len(task.Steps) == 0 {
		return nil, fmt.Errorf("task %q: at least one step is required", task.Name)
	}
	known := make(map[string]struct{}, len(s.Fields)+len(task.Steps))
	for _, f := range s.Fields {
		known[f.Name] = struct{}{}
	}

	out := make([]compiledStep, 0, len(task.Steps))
	for _, st := range task.Steps {
		if strings.TrimSpace(st.Name) == "" {
			return nil, fmt.Errorf("task %q: step name is required", task.Name)
		}
		if _, dup := known[st.Name]; dup {
			return nil, fmt.Errorf("task %q: step %q collides with a field or earlier step", task.Name, st.Name)
		}
		for _, dep := range st.DependsOn {
			if !hasStep(out, dep) {
				return nil, fmt.Errorf("task %q: step %q depends on unknown or later step %q", task.Name, st.Name, dep)
			}
		}
		tmpl, err := template.New(st.Name).Option("missingkey=error").Parse(st.Prompt)
		if err != nil {
			return nil, fmt.Errorf("task %q: step %q prompt: %w", task.Name, st.Name, err)
		}
		known[st.Name] = struct{}{}
		out = append(out, compiledStep{Step: st, tmpl: tmpl})
	}

	for _, c := range task.Columns {
		switch {
		case c.Field != "" && c.Step != "":
			return nil, fmt.Errorf("task %q: column %q sets both field and step", task.Name, c.Header)
		case c.Field != "":
			if _, ok := s.Field(c.Field); !ok {
				return nil, fmt.Errorf("task %q: column %q references unknown field %q", task.Name, c.Header, c.Field)
			}
		case c.Step != "":
			if !hasStep(out, c.Step) {
				return nil, fmt.Errorf("task %q: column %q references unknown step %q", task.Name, c.Header, c.Step)
			}
		default:
			return nil, fmt.Errorf("task %q: column %q needs a field or step", task.Name, c.Header)
		}
	}
	return out, nil
}

func hasStep(steps []compiledStep, name string) bool {
	for _, s := range steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

package schema_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

func TestIsTerminator(t *testing.T) {
	tests := []struct {
		name   string
		schema schema.Schema
		line   string
		want   bool
	}{
		{name: "email lower", schema: schema.Email(), line: "end", want: true},
		{name: "email upper", schema: schema.Email(), line: "END", want: true},
		{name: "email mixed", schema: schema.Email(), line: "End", want: true},
		{name: "email prefix only", schema: schema.Email(), line: "ending", want: false},
		{name: "review exact", schema: schema.Review(), line: "END", want: true},
		{name: "review lower", schema: schema.Review(), line: "end", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.schema.IsTerminator(tt.line); got != tt.want {
				t.Fatalf("IsTerminator(%q)=%v want=%v", tt.line, got, tt.want)
			}
		})
	}
}

func TestBuiltin(t *testing.T) {
	for _, name := range []string{"email", "Emails", " review ", "reviews"} {
		s, ok := schema.Builtin(name)
		if !ok {
			t.Fatalf("expected builtin schema for %q", name)
		}
		if err := s.Validate(); err != nil {
			t.Fatalf("builtin %q invalid: %v", name, err)
		}
	}
	if _, ok := schema.Builtin("invoice"); ok {
		t.Fatalf("unexpected builtin for invoice")
	}
}

func TestParse(t *testing.T) {
	in := `
name: ticket
terminator: "---"
keep_unterminated: true
fields:
  - name: id
    prefix: "ID:"
    required: true
  - name: text
    prefix: " Text: "
    default: "(empty)"
`
	got, err := schema.Parse([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := schema.Schema{
		Name: "ticket",
		Fields: []schema.Field{
			{Name: "id", Prefix: "ID:", Required: true},
			{Name: "text", Prefix: "Text:", Default: "(empty)"},
		},
		Terminator:       "---",
		KeepUnterminated: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{name: "no fields", in: "name: x\nterminator: END\n", wantErr: "at least one field"},
		{name: "no terminator", in: "name: x\nfields: [{name: a, prefix: 'A:'}]\n", wantErr: "terminator is required"},
		{name: "dup name", in: "name: x\nterminator: END\nfields: [{name: a, prefix: 'A:'}, {name: a, prefix: 'B:'}]\n", wantErr: "duplicate field"},
		{name: "dup prefix", in: "name: x\nterminator: END\nfields: [{name: a, prefix: 'A:'}, {name: b, prefix: 'A:'}]\n", wantErr: "duplicate prefix"},
		{name: "missing prefix", in: "name: x\nterminator: END\nfields: [{name: a}]\n", wantErr: "prefix is required"},
		{name: "bad yaml", in: "fields: [", wantErr: "parse schema yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Parse([]byte(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte("name: x\nterminator: END\nfields: [{name: a, prefix: 'A:'}]\n"), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	s, err := schema.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f, ok := s.Field("a"); !ok || f.Prefix != "A:" {
		t.Fatalf("unexpected field: %#v", f)
	}

	if _, err := schema.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

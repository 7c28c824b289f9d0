package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field describes one prefixed line in a record block.
type Field struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`

	// Required fields must be present for the record to be enriched.
	Required bool `yaml:"required"`
	// Default is substituted when the field is absent. It does not satisfy Required.
	Default string `yaml:"default"`
}

// Schema is the record contract shared by the parser and the enricher.
type Schema struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`

	// Terminator is the sentinel line closing a record block.
	Terminator string `yaml:"terminator"`
	// FoldTerminator matches Terminator case-insensitively.
	FoldTerminator bool `yaml:"fold_terminator"`
	// KeepUnterminated keeps a trailing block that reaches EOF without a terminator.
	KeepUnterminated bool `yaml:"keep_unterminated"`
}

// Email is the schema of the emails.txt input format.
func Email() Schema {
	return Schema{
		Name: "email",
		Fields: []Field{
			{Name: "from", Prefix: "From:", Required: true, Default: "Unknown"},
			{Name: "to", Prefix: "To:", Required: true, Default: "Unknown"},
			{Name: "body", Prefix: "Body:", Default: "No body text"},
		},
		Terminator:     "end",
		FoldTerminator: true,
	}
}

// Review is the schema of the reviews.txt input format.
func Review() Schema {
	return Schema{
		Name: "review",
		Fields: []Field{
			{Name: "Product", Prefix: "Product:", Required: true},
			{Name: "Review", Prefix: "Review:", Required: true},
		},
		Terminator: "END",
	}
}

// Builtin returns a built-in schema by name.
func Builtin(name string) (Schema, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "email", "emails":
		return Email(), true
	case "review", "reviews":
		return Review(), true
	default:
		return Schema{}, false
	}
}

// Field returns the field named name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsTerminator reports whether a trimmed line closes a record block.
func (s Schema) IsTerminator(line string) bool {
	if s.FoldTerminator {
		return strings.EqualFold(line, s.Terminator)
	}
	return line == s.Terminator
}

// Validate checks that the schema can drive the parser unambiguously.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q: at least one field is required", s.Name)
	}
	if strings.TrimSpace(s.Terminator) == "" {
		return fmt.Errorf("schema %q: terminator is required", s.Name)
	}
	names := make(map[string]struct{}, len(s.Fields))
	prefixes := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema %q: field[%d] name is required", s.Name, i)
		}
		if strings.TrimSpace(f.Prefix) == "" {
			return fmt.Errorf("schema %q: field %q prefix is required", s.Name, f.Name)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		if _, dup := prefixes[f.Prefix]; dup {
			return fmt.Errorf("schema %q: duplicate prefix %q", s.Name, f.Prefix)
		}
		names[f.Name] = struct{}{}
		prefixes[f.Prefix] = struct{}{}
	}
	return nil
}

// Parse decodes and validates a YAML schema document.
func Parse(b []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema yaml: %w", err)
	}
	for i := range s.Fields {
		s.Fields[i].Name = strings.TrimSpace(s.Fields[i].Name)
		s.Fields[i].Prefix = strings.TrimSpace(s.Fields[i].Prefix)
	}
	s.Terminator = strings.TrimSpace(s.Terminator)
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Load reads a YAML schema from path.
func Load(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(b)
}

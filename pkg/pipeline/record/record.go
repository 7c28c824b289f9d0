// Package record turns field-prefixed text blocks into ordered records.
package record

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

// Record is one parsed block. Fields only holds values present in the input.
type Record struct {
	Fields map[string]string
	// Line is the 1-based line number where the block ended.
	Line int
}

// Get returns the raw value of a field.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Value returns the field value, falling back to the schema default when absent.
func (r Record) Value(s schema.Schema, name string) string {
	if v, ok := r.Fields[name]; ok {
		return v
	}
	if f, ok := s.Field(name); ok {
		return f.Default
	}
	return ""
}

// Values returns every schema field resolved through Value, keyed by field name.
func (r Record) Values(s schema.Schema) map[string]string {
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = r.Value(s, f.Name)
	}
	return out
}

// Missing lists required schema fields absent from the record, in schema order.
func (r Record) Missing(s schema.Schema) []string {
	var out []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if _, ok := r.Fields[f.Name]; !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// Parse reads r line by line and returns the records delimited by the schema's terminator.
//
// Lines end at "\n", "\r\n" or a lone "\r" and have no length limit. They are trimmed
// before matching. Prefix matching is case-sensitive; the first matching field wins and a
// repeated field overwrites the earlier value. Unrecognized lines are ignored, and empty
// blocks are not emitted.
func Parse(r io.Reader, s schema.Schema) ([]Record, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var out []Record
	cur := map[string]string{}
	lineNo := 0
	for {
		raw, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", lineNo+1, err)
		}
		lineNo++
		line := strings.TrimSpace(raw)
		if s.IsTerminator(line) {
			if len(cur) > 0 {
				out = append(out, Record{Fields: cur, Line: lineNo})
			}
			cur = map[string]string{}
			continue
		}
		for _, f := range s.Fields {
			if strings.HasPrefix(line, f.Prefix) {
				cur[f.Name] = strings.TrimSpace(strings.TrimPrefix(line, f.Prefix))
				break
			}
		}
	}
	if s.KeepUnterminated && len(cur) > 0 {
		out = append(out, Record{Fields: cur, Line: lineNo})
	}
	return out, nil
}

// readLine returns the next line without its terminator. A final line without a newline is
// returned with a nil error; io.EOF is only reported once the input is exhausted.
func readLine(br *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			if b.Len() == 0 {
				return "", io.EOF
			}
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch c {
		case '\n':
			return b.String(), nil
		case '\r':
			if next, err := br.Peek(1); err == nil && next[0] == '\n' {
				_, _ = br.ReadByte()
			}
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

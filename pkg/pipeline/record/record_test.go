package record_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/record"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

const emailsTxt = `From: alice@example.com
To: bob@example.com
Body: Lunch moved to 1pm.
end

   From: carol@example.com
To: dave@example.com
Body:   Quarterly numbers attached.
END
`

func parse(t *testing.T, in string, s schema.Schema) []record.Record {
	t.Helper()
	recs, err := record.Parse(strings.NewReader(in), s)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return recs
}

func TestParse_Emails(t *testing.T) {
	recs := parse(t, emailsTxt, schema.Email())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	want := map[string]string{
		"from": "alice@example.com",
		"to":   "bob@example.com",
		"body": "Lunch moved to 1pm.",
	}
	if diff := cmp.Diff(want, recs[0].Fields); diff != "" {
		t.Fatalf("record 0 mismatch (-want +got):\n%s", diff)
	}
	if recs[0].Line != 4 || recs[1].Line != 9 {
		t.Fatalf("unexpected lines: %d %d", recs[0].Line, recs[1].Line)
	}
	if got := recs[1].Fields["body"]; got != "Quarterly numbers attached." {
		t.Fatalf("body=%q", got)
	}
}

func TestParse_TerminatorCasePerPipeline(t *testing.T) {
	t.Run("email folds case", func(t *testing.T) {
		recs := parse(t, "From: a\nTo: b\nBody: hello\nEND\n", schema.Email())
		if len(recs) != 1 || recs[0].Fields["body"] != "hello" {
			t.Fatalf("unexpected records: %#v", recs)
		}
	})

	t.Run("review is exact", func(t *testing.T) {
		recs := parse(t, "Product: Kettle\nReview: Boils fast.\nend\nProduct: Lamp\nReview: Too dim.\nEND\n", schema.Review())
		if len(recs) != 1 {
			t.Fatalf("lowercase end must not close a review block, got %d records", len(recs))
		}
		// The unterminated first block is merged into the second; later values overwrite.
		want := map[string]string{"Product": "Lamp", "Review": "Too dim."}
		if diff := cmp.Diff(want, recs[0].Fields); diff != "" {
			t.Fatalf("record mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestParse_CountsNonEmptyTerminatedBlocks(t *testing.T) {
	in := strings.Join([]string{
		"END",
		"noise line",
		"END",
		"Product: A",
		"Review: good",
		"END",
		"",
		"END",
		"Product: B",
		"END",
	}, "\n")

	recs := parse(t, in, schema.Review())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Fields["Product"] != "A" || recs[1].Fields["Product"] != "B" {
		t.Fatalf("unexpected records: %#v", recs)
	}
}

func TestParse_NoTerminatorYieldsNothing(t *testing.T) {
	if recs := parse(t, "From: a\nTo: b\nBody: c\n", schema.Email()); len(recs) != 0 {
		t.Fatalf("expected no records, got %#v", recs)
	}
}

func TestParse_UnterminatedTrailingBlock(t *testing.T) {
	in := "Product: A\nReview: ok\nEND\nProduct: B\nReview: dangling\n"

	if dropped := parse(t, in, schema.Review()); len(dropped) != 1 {
		t.Fatalf("expected trailing block dropped, got %d records", len(dropped))
	}

	keep := schema.Review()
	keep.KeepUnterminated = true
	kept := parse(t, in, keep)
	if len(kept) != 2 {
		t.Fatalf("expected trailing block kept, got %d records", len(kept))
	}
	if kept[1].Fields["Review"] != "dangling" || kept[1].Line != 5 {
		t.Fatalf("unexpected trailing record: %#v", kept[1])
	}
}

func TestParse_PrefixIsCaseSensitive(t *testing.T) {
	recs := parse(t, "from: lower\nTo: b\nend\n", schema.Email())
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if _, ok := recs[0].Get("from"); ok {
		t.Fatalf("lowercase prefix must not match")
	}
	if diff := cmp.Diff([]string{"from"}, recs[0].Missing(schema.Email())); diff != "" {
		t.Fatalf("Missing mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_VeryLongLine(t *testing.T) {
	body := strings.Repeat("x", 2<<20)
	in := "From: a\nTo: b\nBody: short\nend\nFrom: c\nTo: d\nBody: " + body + "\nend\n"

	recs := parse(t, in, schema.Email())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Fields["body"] != "short" {
		t.Fatalf("first record body=%q", recs[0].Fields["body"])
	}
	if got := recs[1].Fields["body"]; len(got) != len(body) {
		t.Fatalf("long body truncated: len=%d want %d", len(got), len(body))
	}
	if recs[1].Line != 8 {
		t.Fatalf("line=%d want 8", recs[1].Line)
	}
}

func TestParse_LineEndings(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "lf", in: "From: a\nTo: b\nBody: hi\nend\n"},
		{name: "crlf", in: "From: a\r\nTo: b\r\nBody: hi\r\nend\r\n"},
		{name: "cr", in: "From: a\rTo: b\rBody: hi\rend\r"},
		{name: "mixed without final newline", in: "From: a\r\nTo: b\rBody: hi\nend"},
	}
	want := []record.Record{{
		Fields: map[string]string{"from": "a", "to": "b", "body": "hi"},
		Line:   4,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(want, parse(t, tt.in, schema.Email())); diff != "" {
				t.Fatalf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestParse_ReadError(t *testing.T) {
	_, err := record.Parse(failingReader{}, schema.Email())
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestRecordValues(t *testing.T) {
	rec := record.Record{Fields: map[string]string{"from": "a"}}
	s := schema.Email()

	want := map[string]string{
		"from": "a",
		"to":   "Unknown",
		"body": "No body text",
	}
	if diff := cmp.Diff(want, rec.Values(s)); diff != "" {
		t.Fatalf("Values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"to"}, rec.Missing(s)); diff != "" {
		t.Fatalf("Missing mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Value(s, "nope"); got != "" {
		t.Fatalf("Value(nope)=%q", got)
	}
}

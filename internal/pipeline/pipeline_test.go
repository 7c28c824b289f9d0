package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shpitdev/gemini-record-pipeline/internal/enrich"
	"github.com/shpitdev/gemini-record-pipeline/internal/pipeline"
	"github.com/shpitdev/gemini-record-pipeline/internal/session"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
	localio "github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/record"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

const emailsInput = `From: alice@example.com
To: bob@example.com
Body: Lunch?
end
From: carol@example.com
Body: missing recipient
END
To: dave@example.com
From: erin@example.com
End
`

func parse(t *testing.T, in string, s schema.Schema) []record.Record {
	t.Helper()
	recs, err := record.Parse(strings.NewReader(in), s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return recs
}

func TestEnrichRecords_EchoRoundTrip(t *testing.T) {
	recs := parse(t, emailsInput, schema.Email())
	e, err := enrich.New(enrich.EmailTask(""), schema.Email(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows, err := pipeline.EnrichRecords(context.Background(), recs, e, &session.Echo{}, pipeline.Options{WithStatus: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != len(recs) || len(rows) != 3 {
		t.Fatalf("expected %d rows, got %d", len(recs), len(rows))
	}

	if rows[0].Status != pipeline.StatusOK {
		t.Fatalf("unexpected row[0]: %#v", rows[0])
	}
	if v, _ := rows[0].Get("Summary"); v != "Summarize the following email: Lunch?" {
		t.Fatalf("unexpected summary: %q", v)
	}

	// Missing "To:" is a required field, so nothing is sent for this record.
	if rows[1].Status != pipeline.StatusError || !strings.Contains(rows[1].Error, "to") {
		t.Fatalf("unexpected row[1]: %#v", rows[1])
	}
	if v, _ := rows[1].Get("Summary"); v != "Error (input)" {
		t.Fatalf("unexpected row[1] summary: %q", v)
	}
	if v, _ := rows[1].Get("To"); v != "Unknown" {
		t.Fatalf("unexpected row[1] recipient: %q", v)
	}

	if rows[2].Status != pipeline.StatusOK {
		t.Fatalf("unexpected row[2]: %#v", rows[2])
	}
	if v, _ := rows[2].Get("Summary"); v != "Summarize the following email: No body text" {
		t.Fatalf("unexpected default body prompt: %q", v)
	}

	okRows, errRows := pipeline.CountStatuses(rows)
	if okRows != 2 || errRows != 1 {
		t.Fatalf("ok=%d error=%d", okRows, errRows)
	}

	var buf bytes.Buffer
	if err := pipeline.WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "From,To,Summary,Translated Summary,status,error\n") {
		t.Fatalf("unexpected header: %q", buf.String())
	}

	back, err := pipeline.ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if diff := cmp.Diff(rows, back, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Line"
	}, cmp.Ignore())); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEnrichRecords_WithoutStatusColumns(t *testing.T) {
	recs := parse(t, "Product: Kettle\nReview: Boils fast.\nEND\n", schema.Review())
	e, err := enrich.New(enrich.ReviewTask(), schema.Review(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rows, err := pipeline.EnrichRecords(context.Background(), recs, e, &session.Echo{}, pipeline.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Original Product", "Guessed Product", "Review", "Sentiment", "Reply"}
	if diff := cmp.Diff(want, rows[0].Header); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestEnrichRecords_PerRecordIsolationResets(t *testing.T) {
	recs := parse(t, "Product: a\nReview: x\nEND\nProduct: b\nReview: y\nEND\n", schema.Review())
	e, err := enrich.New(enrich.ReviewTask(), schema.Review(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		isolation session.Isolation
		want      int
	}{
		{isolation: session.IsolationShared, want: 6},
		{isolation: session.IsolationPerRecord, want: 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.isolation), func(t *testing.T) {
			sess := &session.Echo{}
			if _, err := pipeline.EnrichRecords(context.Background(), recs, e, sess, pipeline.Options{Isolation: tt.isolation}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n := len(sess.History()); n != tt.want {
				t.Fatalf("history after run=%d want=%d", n, tt.want)
			}
		})
	}
}

func TestEnrichRecords_FailFastKeepsRowsSoFar(t *testing.T) {
	recs := parse(t, "Product: a\nEND\nProduct: b\nReview: y\nEND\n", schema.Review())
	e, err := enrich.New(enrich.ReviewTask(), schema.Review(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rows, err := pipeline.EnrichRecords(context.Background(), recs, e, &session.Echo{}, pipeline.Options{FailFast: true})
	if core.KindOf(err) != core.KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
	if len(rows) != 1 || rows[0].Status != pipeline.StatusError {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestEnrichRecords_BrokenSessionRedactsAndLogs(t *testing.T) {
	obsCore, logs := observer.New(zap.InfoLevel)
	recs := parse(t, "Product: a\nReview: x\nEND\n", schema.Review())
	e, err := enrich.New(enrich.ReviewTask(), schema.Review(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	broken := session.Broken{Err: errors.New("bad credentials api_key=secret123")}

	rows, err := pipeline.EnrichRecords(context.Background(), recs, e, broken, pipeline.Options{
		WithStatus: true,
		Logger:     zap.New(obsCore),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rows[0].Error, "secret123") {
		t.Fatalf("secret leaked into row: %q", rows[0].Error)
	}
	if v, _ := rows[0].Get("Sentiment"); v != "Error (config)" {
		t.Fatalf("unexpected sentiment: %q", v)
	}
	entries := logs.FilterMessage("record enriched").All()
	if len(entries) != 1 || entries[0].ContextMap()["kind"] != "config" {
		t.Fatalf("unexpected log entries: %#v", entries)
	}
}

func TestWriteCSVFile_NoRowsWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := pipeline.WriteCSVFile(path, nil); !errors.Is(err, localio.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err=%v", err)
	}
}

func TestEnrichRecords_ZeroTerminatorsZeroRows(t *testing.T) {
	recs := parse(t, "From: a\nTo: b\nBody: never closed\n", schema.Email())
	e, err := enrich.New(enrich.EmailTask(""), schema.Email(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rows, err := pipeline.EnrichRecords(context.Background(), recs, e, &session.Echo{}, pipeline.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

package local

import (
	"fmt"
	"os"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/record"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/schema"
)

// ReadRecordsFile parses the text file at path with s.
//
// On failure it returns an empty, non-nil slice together with the error so callers can
// report the diagnostic and carry on with zero records.
func ReadRecordsFile(path string, s schema.Schema) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return []record.Record{}, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	recs, err := record.Parse(f, s)
	if err != nil {
		return []record.Record{}, fmt.Errorf("read %s: %w", path, err)
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

package pipeline

import (
	"fmt"
	"io"

	localio "github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/io/local"
)

func tableOf(rows []Row) ([]string, [][]string, error) {
	header := rows[0].Header
	values := make([][]string, 0, len(rows))
	for i, r := range rows {
		if len(r.Values) != len(header) {
			return nil, nil, fmt.Errorf("row %d has %d values, header has %d columns", i, len(r.Values), len(header))
		}
		values = append(values, r.Values)
	}
	return header, values, nil
}

// WriteCSV writes rows as CSV. The header is taken from the first row.
func WriteCSV(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return localio.ErrNoRows
	}
	header, values, err := tableOf(rows)
	if err != nil {
		return err
	}
	return localio.WriteTable(w, header, values)
}

// WriteCSVFile writes rows to path. No file is created when rows is empty; ErrNoRows is
// returned instead.
func WriteCSVFile(path string, rows []Row) error {
	if len(rows) == 0 {
		return localio.ErrNoRows
	}
	header, values, err := tableOf(rows)
	if err != nil {
		return err
	}
	return localio.WriteTableFile(path, header, values)
}

// ReadCSV reads rows written by WriteCSV. Status and error are restored when the status
// columns are present.
func ReadCSV(r io.Reader) ([]Row, error) {
	header, values, err := localio.ReadTable(r)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(values))
	for _, v := range values {
		row := Row{Header: header, Values: v}
		row.Status, _ = row.Get("status")
		row.Error, _ = row.Get("error")
		rows = append(rows, row)
	}
	return rows, nil
}

// internal/rowsource/csv.go
package rowsource

import (
	"encoding/csv"
	"os"
)

// CSVReader reads migration rows from a CSV file with a header row.
type CSVReader struct {
	path string
}

// NewCSVReader creates a reader for the given CSV file.
func NewCSVReader(path string) *CSVReader {
	return &CSVReader{path: path}
}

// ReadAll implements Reader.
func (r *CSVReader) ReadAll() ([]Record, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, &SourceReadError{Path: r.path, Err: err}
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // ragged rows are tolerated
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &SourceReadError{Path: r.path, Err: err}
	}
	return recordsFromRows(rows), nil
}

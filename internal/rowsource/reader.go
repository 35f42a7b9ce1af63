// internal/rowsource/reader.go

// Package rowsource reads migration files into ordered row records. CSV and
// XLSX inputs share one header canonicalization, so the rest of the pipeline
// never sees spreadsheet-specific field names.
package rowsource

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Record is one data row of the source file, in file order. Index is
// 1-based and excludes the header row.
type Record struct {
	Index  int
	Fields map[string]string
}

// Reader reads an entire source file.
type Reader interface {
	ReadAll() ([]Record, error)
}

// SourceReadError wraps a failure to open or parse the source file. Batch
// creation aborts on it; no partial batch is persisted.
type SourceReadError struct {
	Path string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("failed to read source file %q: %v", e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// Open returns a reader for the file, chosen by extension: .csv for CSV,
// .xlsx for spreadsheets.
func Open(path string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return NewCSVReader(path), nil
	case ".xlsx":
		return NewExcelReader(path), nil
	default:
		return nil, &SourceReadError{Path: path, Err: fmt.Errorf("unsupported file extension %q", filepath.Ext(path))}
	}
}

// headerAliases maps spreadsheet column headings to canonical field keys.
var headerAliases = map[string]string{
	"migrate":         "migrate",
	"type":            "type",
	"old_url":         "old_url",
	"new_url":         "new_url",
	"parent_url":      "parent_url",
	"categories":      "categories",
	"category":        "categories",
	"h1":              "h1",
	"title":           "title",
	"page_post_title": "title",
	"page_title":      "title",
	"post_title":      "title",
	"meta_title":      "meta_title",
	"image":           "image",
	"featured_image":  "image",
	"process_images":  "process_images",
}

var headerSeparators = regexp.MustCompile(`[\s/\-]+`)

// canonicalKey normalizes a column heading and resolves known aliases.
// Unknown headings keep their normalized form so extra columns pass through.
func canonicalKey(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	key = headerSeparators.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if canonical, ok := headerAliases[key]; ok {
		return canonical
	}
	return key
}

// recordsFromRows converts raw cell rows (header first) into Records.
func recordsFromRows(rows [][]string) []Record {
	if len(rows) == 0 {
		return nil
	}

	keys := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		keys[i] = canonicalKey(header)
	}

	records := make([]Record, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		fields := make(map[string]string, len(keys))
		empty := true
		for j, key := range keys {
			if key == "" || j >= len(cells) {
				continue
			}
			value := strings.TrimSpace(cells[j])
			fields[key] = value
			if value != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		records = append(records, Record{Index: i + 1, Fields: fields})
	}
	return records
}

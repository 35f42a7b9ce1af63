// internal/rowsource/excel.go
package rowsource

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelReader reads migration rows from the first sheet of an XLSX workbook.
type ExcelReader struct {
	path string
}

// NewExcelReader creates a reader for the given workbook.
func NewExcelReader(path string) *ExcelReader {
	return &ExcelReader{path: path}
}

// ReadAll implements Reader.
func (r *ExcelReader) ReadAll() ([]Record, error) {
	book, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, &SourceReadError{Path: r.path, Err: err}
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, &SourceReadError{Path: r.path, Err: fmt.Errorf("workbook has no sheets")}
	}

	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, &SourceReadError{Path: r.path, Err: err}
	}
	return recordsFromRows(rows), nil
}

// Package spreadsheet turns uploaded CSV and Excel workbooks into a header/row table.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/freshgroup/dashboard/backend/apperr"
)

// Cell is a nullable spreadsheet value. Nil means the cell was empty.
type Cell = *string

// Table is a parsed sheet: one header row followed by data rows.
// Every row has exactly len(Headers) cells.
type Table struct {
	Headers []string
	Rows    [][]Cell
}

// Supported reports whether filename has an accepted extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Read parses r according to the extension of filename.
func Read(filename string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	default:
		return nil, apperr.Validation("unsupported_file_type", "Only CSV and Excel files are supported")
	}
}

// ReadCSV parses a comma separated file. A leading UTF-8 BOM is dropped.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperr.Validation("invalid_csv", "Failed to parse CSV: %v", err)
	}
	return fromRecords(records), nil
}

// ReadXLSX parses the first sheet of an Excel workbook.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Validation("invalid_xlsx", "Failed to open Excel file: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperr.Validation("invalid_xlsx", "Failed to read sheet %q: %v", sheets[0], err)
	}
	return fromRecords(rows), nil
}

func fromRecords(records [][]string) *Table {
	if len(records) == 0 {
		return &Table{}
	}
	headers := make([]string, len(records[0]))
	copy(headers, records[0])

	t := &Table{Headers: headers, Rows: make([][]Cell, 0, len(records)-1)}
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		row := make([]Cell, len(headers))
		for i := range headers {
			if i >= len(rec) {
				continue
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				row[i] = &v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

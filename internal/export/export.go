// Package export turns roster rows into downloadable files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"proctordraw/pkg/types"
)

var (
	ErrUnknownFormat   = errors.New("unknown export format")
	ErrNothingToExport = errors.New("no assignments to export")
)

// BaseFileName is the download name without extension.
const BaseFileName = "PhanCongCoiThi"

// Header is the column row of spreadsheet exports.
var Header = []string{"Phòng thi", "Ngày thi", "Giờ thi", "Vai trò", "Cán bộ"}

// utf8BOM makes spreadsheet applications detect UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Exporter writes export rows in one file format.
type Exporter interface {
	ContentType() string
	FileName() string
	Write(w io.Writer, rows []types.ExportRow) error
}

// ForFormat returns the exporter for format ("csv" or "json"). Empty
// selects CSV.
func ForFormat(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return CSVExporter{}, nil
	case "json":
		return JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// CSVExporter writes a spreadsheet-friendly CSV file.
type CSVExporter struct{}

func (CSVExporter) ContentType() string { return "text/csv; charset=utf-8" }
func (CSVExporter) FileName() string    { return BaseFileName + ".csv" }

func (CSVExporter) Write(w io.Writer, rows []types.ExportRow) error {
	if len(rows) == 0 {
		return ErrNothingToExport
	}
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		record := []string{row.Room, row.Date, row.Time, row.Role, row.ProctorName}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSONExporter writes the rows as a JSON array.
type JSONExporter struct{}

func (JSONExporter) ContentType() string { return "application/json" }
func (JSONExporter) FileName() string    { return BaseFileName + ".json" }

func (JSONExporter) Write(w io.Writer, rows []types.ExportRow) error {
	if len(rows) == 0 {
		return ErrNothingToExport
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	return nil
}

// Copyright 2025 James Ross
package writer

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// CSVWriter streams a report as a CSV with a fixed five-column header:
// timesheetId,userRole,reportType,maskedAt,fields. The fields sub-object is
// serialized as "k:v" pairs joined by ";" inside a single quoted cell.
type CSVWriter struct {
	w io.Writer
}

// NewCSV wraps w as a CSVWriter.
func NewCSV(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

func (c *CSVWriter) WriteHeader(_ Metadata) error {
	_, err := fmt.Fprint(c.w, "timesheetId,userRole,reportType,maskedAt,fields\r\n")
	return err
}

func (c *CSVWriter) WriteRow(rec Record) error {
	row := []string{
		rec.TimesheetID,
		rec.UserRole,
		rec.ReportType,
		rec.MaskedAt.Format("2006-01-02T15:04:05Z07:00"),
		encodeFields(rec.Fields),
	}
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = quoteCSV(v)
	}
	_, err := fmt.Fprint(c.w, strings.Join(cells, ",")+"\r\n")
	return err
}

func (c *CSVWriter) WriteFooter() error { return nil }

func (c *CSVWriter) Close() error {
	if closer, ok := c.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func encodeFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", k, fields[k]))
	}
	return strings.Join(parts, ";")
}

// quoteCSV quotes a value if it contains a comma, quote, or newline,
// doubling any inner quotes (spec §4.6).
func quoteCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// Copyright 2025 James Ross
package writer

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONWriter streams a report as a single JSON object literal: header
// fields first, then a "data" array of rows, comma-separated, tracking
// whether a leading comma is required before each row (spec §4.6).
type JSONWriter struct {
	w           io.Writer
	wroteFirst  bool
}

// NewJSON wraps w as a JSONWriter.
func NewJSON(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

func (j *JSONWriter) WriteHeader(meta Metadata) error {
	header := map[string]any{
		"reportId":    meta.ReportID,
		"reportType":  meta.ReportType,
		"userRole":    meta.UserRole,
		"targetSystem": meta.TargetSystem,
		"generatedAt": meta.GeneratedAt,
		"dataFormat":  meta.DataFormat,
	}
	b, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Splice the closing brace open to append "data":[...] afterward.
	trimmed := b[:len(b)-1]
	if _, err := fmt.Fprintf(j.w, `%s,"data":[`, trimmed); err != nil {
		return err
	}
	return nil
}

func (j *JSONWriter) WriteRow(rec Record) error {
	row := map[string]any{
		"timesheetId": rec.TimesheetID,
		"userRole":    rec.UserRole,
		"reportType":  rec.ReportType,
		"maskedAt":    rec.MaskedAt,
		"fields":      rec.Fields,
	}
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if j.wroteFirst {
		if _, err := j.w.Write([]byte(",")); err != nil {
			return err
		}
	}
	j.wroteFirst = true
	_, err = j.w.Write(b)
	return err
}

func (j *JSONWriter) WriteFooter() error {
	_, err := j.w.Write([]byte("]}"))
	return err
}

func (j *JSONWriter) Close() error {
	if closer, ok := j.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Copyright 2025 James Ross
package writer

import (
	"fmt"
	"io"

	"github.com/caseworks/reportpipeline/internal/report"
)

// New returns the Writer for the given format, or an error for an
// unrecognized one.
func New(format report.DataFormat, w io.Writer) (Writer, error) {
	switch format {
	case report.FormatJSON:
		return NewJSON(w), nil
	case report.FormatCSV:
		return NewCSV(w), nil
	case report.FormatXML:
		return NewXML(w), nil
	case report.FormatPDF:
		return NewPDF(w), nil
	default:
		return nil, fmt.Errorf("writer: unsupported format %q", format)
	}
}

// Extension returns the file extension for a format (spec §6 file layout).
func Extension(format report.DataFormat) string {
	switch format {
	case report.FormatJSON:
		return "json"
	case report.FormatCSV:
		return "csv"
	case report.FormatXML:
		return "xml"
	case report.FormatPDF:
		return "pdf"
	default:
		return "bin"
	}
}

// Streaming reports whether format supports incremental row writes. PDF
// does not (spec §4.5).
func Streaming(format report.DataFormat) bool {
	return format != report.FormatPDF
}

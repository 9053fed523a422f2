// Copyright 2025 James Ross
package writer

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-pdf/fpdf"
)

// PDFWriter is not incremental: fpdf lays out a whole page at a time, so
// WriteRow buffers rows in memory and WriteFooter does the actual
// rendering (spec §4.5 "PDF path").
type PDFWriter struct {
	w      io.Writer
	meta   Metadata
	rows   []Record
	closed bool
}

// NewPDF wraps w as a PDFWriter.
func NewPDF(w io.Writer) *PDFWriter {
	return &PDFWriter{w: w}
}

func (p *PDFWriter) WriteHeader(meta Metadata) error {
	p.meta = meta
	return nil
}

func (p *PDFWriter) WriteRow(rec Record) error {
	p.rows = append(p.rows, rec)
	return nil
}

func (p *PDFWriter) WriteFooter() error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, p.meta.ReportType, "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s  Role: %s  Target: %s",
		p.meta.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"), p.meta.UserRole, p.meta.TargetSystem), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	fieldKeys := collectFieldKeys(p.rows)

	pdf.SetFont("Arial", "B", 8)
	colWidth := 190.0 / float64(4+len(fieldKeys))
	pdf.CellFormat(colWidth, 7, "timesheetId", "1", 0, "L", false, 0, "")
	pdf.CellFormat(colWidth, 7, "userRole", "1", 0, "L", false, 0, "")
	pdf.CellFormat(colWidth, 7, "reportType", "1", 0, "L", false, 0, "")
	pdf.CellFormat(colWidth, 7, "maskedAt", "1", 0, "L", false, 0, "")
	for _, k := range fieldKeys {
		pdf.CellFormat(colWidth, 7, k, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, rec := range p.rows {
		pdf.CellFormat(colWidth, 6, rec.TimesheetID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidth, 6, rec.UserRole, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidth, 6, rec.ReportType, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidth, 6, rec.MaskedAt.Format("2006-01-02"), "1", 0, "L", false, 0, "")
		for _, k := range fieldKeys {
			pdf.CellFormat(colWidth, 6, fmt.Sprintf("%v", rec.Fields[k]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(p.w)
}

func (p *PDFWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if closer, ok := p.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func collectFieldKeys(rows []Record) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, r := range rows {
		for k := range r.Fields {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

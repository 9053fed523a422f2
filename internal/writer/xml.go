// Copyright 2025 James Ross
package writer

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// XMLWriter streams a report as <?xml?><report><metadata>...</metadata>
// <data><record>...</record>...</data></report>, escaping character data
// for & < > " ' (spec §4.6).
type XMLWriter struct {
	w io.Writer
}

// NewXML wraps w as an XMLWriter.
func NewXML(w io.Writer) *XMLWriter {
	return &XMLWriter{w: w}
}

func (x *XMLWriter) WriteHeader(meta Metadata) error {
	_, err := fmt.Fprintf(x.w,
		`<?xml version="1.0" encoding="UTF-8"?><report><metadata><reportId>%s</reportId>`+
			`<reportType>%s</reportType><userRole>%s</userRole><targetSystem>%s</targetSystem>`+
			`<generatedAt>%s</generatedAt><dataFormat>%s</dataFormat></metadata><data>`,
		escapeXML(meta.ReportID), escapeXML(meta.ReportType), escapeXML(meta.UserRole),
		escapeXML(meta.TargetSystem), escapeXML(meta.GeneratedAt.Format("2006-01-02T15:04:05Z07:00")),
		escapeXML(meta.DataFormat))
	return err
}

func (x *XMLWriter) WriteRow(rec Record) error {
	var b strings.Builder
	b.WriteString("<record>")
	fmt.Fprintf(&b, "<timesheetId>%s</timesheetId>", escapeXML(rec.TimesheetID))
	fmt.Fprintf(&b, "<userRole>%s</userRole>", escapeXML(rec.UserRole))
	fmt.Fprintf(&b, "<reportType>%s</reportType>", escapeXML(rec.ReportType))
	fmt.Fprintf(&b, "<maskedAt>%s</maskedAt>", escapeXML(rec.MaskedAt.Format("2006-01-02T15:04:05Z07:00")))
	b.WriteString("<fields>")
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "<%s>%s</%s>", k, escapeXML(fmt.Sprintf("%v", rec.Fields[k])), k)
	}
	b.WriteString("</fields></record>")
	_, err := x.w.Write([]byte(b.String()))
	return err
}

func (x *XMLWriter) WriteFooter() error {
	_, err := x.w.Write([]byte("</data></report>"))
	return err
}

func (x *XMLWriter) Close() error {
	if closer, ok := x.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var xmlEscapes = map[rune]string{
	'&':  "&amp;",
	'<':  "&lt;",
	'>':  "&gt;",
	'"':  "&quot;",
	'\'': "&apos;",
}

func escapeXML(s string) string {
	var b strings.Builder
	for _, r := range s {
		if esc, ok := xmlEscapes[r]; ok {
			b.WriteString(esc)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

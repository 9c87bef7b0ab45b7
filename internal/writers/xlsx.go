package writers

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"canary-convert/internal/format"
)

const (
	xlsxSheet    = "Sheet1"
	maxCellChars = 32767
	textColumn   = "text"
)

var XLSX = format.WriterFormat{
	Name:        "xlsx",
	Aliases:     []string{"excel"},
	Description: `A single ".xlsx" workbook with one row per record: metadata columns followed by the record text.`,
	Options:     format.CommonWriterOptions,
	Create:      createXLSX,
}

type xlsxWriter struct {
	dst     format.Destination
	shaping textShaping
	path    string
	file    *excelize.File
	stream  *excelize.StreamWriter
	columns []string
	row     int
	dropped map[string]bool
}

func createXLSX(dst format.Destination) (format.Writer, error) {
	if err := checkOutputDir(dst.OutputDir); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	stream, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start workbook: %w", err)
	}
	return &xlsxWriter{
		dst:     dst,
		shaping: shapingFrom(dst.Options),
		path:    format.SafePath(outputPath(dst, "xlsx")),
		file:    f,
		stream:  stream,
		dropped: map[string]bool{},
	}, nil
}

func (w *xlsxWriter) header(rec format.Record) error {
	for field := range rec.Fields {
		w.columns = append(w.columns, field)
	}
	sort.Strings(w.columns)
	w.columns = append(w.columns, textColumn)

	values := make([]interface{}, len(w.columns))
	for i, c := range w.columns {
		values[i] = c
	}
	w.row = 1
	if err := w.stream.SetRow("A1", values); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	return nil
}

func (w *xlsxWriter) Write(rec format.Record) (string, error) {
	if w.columns == nil {
		if err := w.header(rec); err != nil {
			return "", err
		}
	}
	for field := range rec.Fields {
		if !w.hasColumn(field) && !w.dropped[field] {
			w.dropped[field] = true
			w.dst.Warnf(rec.Line, fmt.Sprintf("Field %q is not in the workbook header and was dropped", field))
		}
	}

	text := strings.TrimRight(w.shaping.document(rec.Lines), "\n")
	if utf8.RuneCountInString(text) > maxCellChars {
		runes := []rune(text)
		text = string(runes[:maxCellChars])
		w.dst.Warnf(rec.Line, fmt.Sprintf("Record text truncated to %d characters", maxCellChars))
	}

	values := make([]interface{}, len(w.columns))
	for i, c := range w.columns {
		if c == textColumn {
			values[i] = text
			continue
		}
		values[i] = rec.Fields[c]
	}
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return "", err
	}
	if err := w.stream.SetRow(cell, values); err != nil {
		return "", fmt.Errorf("write row %d: %w", w.row, err)
	}
	return w.path, nil
}

func (w *xlsxWriter) hasColumn(name string) bool {
	for _, c := range w.columns {
		if c == name {
			return true
		}
	}
	return false
}

func (w *xlsxWriter) Close() error {
	defer w.file.Close()
	if err := w.stream.Flush(); err != nil {
		return fmt.Errorf("flush workbook: %w", err)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		_ = os.Remove(w.path)
		return fmt.Errorf("save workbook %s: %w", w.path, err)
	}
	return nil
}

func (w *xlsxWriter) Abort() {
	_ = w.file.Close()
	_ = os.Remove(w.path)
}

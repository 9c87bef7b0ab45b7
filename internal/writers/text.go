package writers

import (
	"path/filepath"
	"strings"

	"canary-convert/internal/format"
)

var TXT = format.WriterFormat{
	Name:        "txt",
	Aliases:     []string{"text", "plain_text"},
	Description: `One ".txt" file per record.`,
	Options:     format.CommonWriterOptions,
	Create:      createTXT,
}

type txtWriter struct {
	dst     format.Destination
	shaping textShaping
	name    string
	count   int
	current *fileSink
}

func createTXT(dst format.Destination) (format.Writer, error) {
	if err := checkOutputDir(dst.OutputDir); err != nil {
		return nil, err
	}
	return &txtWriter{
		dst:     dst,
		shaping: shapingFrom(dst.Options),
		name:    format.WithExt(dst.BaseName, "txt"),
	}, nil
}

func (w *txtWriter) Write(rec format.Record) (string, error) {
	w.count++
	path := format.SafePath(filepath.Join(w.dst.OutputDir, format.Numbered(w.name, w.count)))
	sink, err := createSink(path, w.dst)
	if err != nil {
		return "", err
	}
	w.current = sink
	if err := sink.WriteString(w.shaping.document(rec.Lines)); err != nil {
		return "", err
	}
	if err := sink.Close(); err != nil {
		return "", err
	}
	w.current = nil
	return path, nil
}

func (w *txtWriter) Close() error {
	return nil
}

func (w *txtWriter) Abort() {
	if w.current != nil {
		w.current.Abort()
		w.current = nil
	}
}

var DelimTXT = format.WriterFormat{
	Name:        "delim_txt",
	Aliases:     []string{"delimited_txt"},
	Description: `A single ".txt" file holding every record, each preceded by a delimiter line.`,
	Options: format.MergeOptions([]format.Option{
		{
			Name:    "concat_delim",
			Label:   "Delimiter",
			Type:    format.TypeString,
			Default: "===",
			Help:    "Line written before every record.",
		},
	}, format.CommonWriterOptions),
	Create: createDelimTXT,
}

// delimWriter writes every record into one file. delimiter picks the separator line
// for each record.
type delimWriter struct {
	sink      *fileSink
	shaping   textShaping
	delimiter func(rec format.Record) string
}

func newDelimWriter(dst format.Destination, delimiter func(format.Record) string) (*delimWriter, error) {
	if err := checkOutputDir(dst.OutputDir); err != nil {
		return nil, err
	}
	sink, err := createSink(format.SafePath(outputPath(dst, "txt")), dst)
	if err != nil {
		return nil, err
	}
	return &delimWriter{sink: sink, shaping: shapingFrom(dst.Options), delimiter: delimiter}, nil
}

func createDelimTXT(dst format.Destination) (format.Writer, error) {
	delim := dst.Options.String("concat_delim")
	if delim == "" {
		delim = "==="
	}
	return newDelimWriter(dst, func(format.Record) string { return delim })
}

func (w *delimWriter) Write(rec format.Record) (string, error) {
	var b strings.Builder
	b.WriteString(w.delimiter(rec))
	b.WriteByte('\n')
	b.WriteString(w.shaping.document(rec.Lines))
	if err := w.sink.WriteString(b.String()); err != nil {
		return "", err
	}
	return w.sink.path, nil
}

func (w *delimWriter) Close() error {
	return w.sink.Close()
}

func (w *delimWriter) Abort() {
	w.sink.Abort()
}

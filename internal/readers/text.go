// Package readers implements the input formats.
package readers

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"canary-convert/internal/format"
)

// Register adds every input format to reg.
func Register(reg *format.Registry) {
	reg.AddReader(TXT)
	reg.AddReader(DelimTXT)
	reg.AddReader(Epic)
}

var TXT = format.ReaderFormat{
	Name:        "txt",
	Aliases:     []string{"text", "plain_text"},
	Description: `Plain text files with the ".txt" extension. Each file is one record.`,
	Extensions:  []string{"txt"},
	Options:     format.CommonReaderOptions,
	Open:        openTXT,
}

// base is the shared state of every line oriented reader.
type base struct {
	src  format.Source
	file *os.File
	sc   *format.LineScanner
	size int64
}

func openBase(src format.Source) (*base, error) {
	f, info, err := format.OpenSource(src.Path)
	if err != nil {
		return nil, err
	}
	sc, err := format.NewLineScanner(f, src)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &base{src: src, file: f, sc: sc, size: info.Size()}, nil
}

func (b *base) Size() int64 {
	return b.size
}

func (b *base) Offset() int64 {
	off := b.sc.Offset()
	if off > b.size {
		return b.size
	}
	return off
}

func (b *base) Close() error {
	return b.sc.Close()
}

func (b *base) record(lines []string, start int) format.Record {
	return format.Record{
		Lines:  lines,
		Line:   start,
		Source: b.src.Path,
		Fields: map[string]string{"filename": filepath.Base(b.src.Path)},
	}
}

type txtReader struct {
	*base
	done bool
}

func openTXT(src format.Source) (format.Reader, error) {
	b, err := openBase(src)
	if err != nil {
		return nil, err
	}
	return &txtReader{base: b}, nil
}

func (r *txtReader) Buffered() bool {
	return true
}

func (r *txtReader) Next() (format.Record, error) {
	if r.done {
		return format.Record{}, io.EOF
	}
	r.done = true

	var lines []string
	for {
		line, err := r.sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return format.Record{}, err
		}
		lines = append(lines, line)
	}
	if strings.TrimSpace(strings.Join(lines, "")) == "" {
		r.src.Warnf(0, "File contains only blank lines")
	}
	return r.record(lines, 1), nil
}

var DelimTXT = format.ReaderFormat{
	Name:        "delim_txt",
	Aliases:     []string{"delimited_txt"},
	Description: `Plain text files with the ".txt" extension holding several records separated by a delimiter line.`,
	Extensions:  []string{"txt"},
	Options: format.MergeOptions([]format.Option{
		{
			Name:     "sep_delim",
			Label:    "Delimiter",
			Type:     format.TypeString,
			Required: true,
			Help:     "Any line containing this text separates two records.",
		},
	}, format.CommonReaderOptions),
	Open: openDelimTXT,
}

type delimReader struct {
	*base
	delim string
}

func openDelimTXT(src format.Source) (format.Reader, error) {
	delim := src.Options.String("sep_delim")
	if delim == "" {
		return nil, format.Invalid(src.Path, "a record delimiter (sep_delim) is required")
	}
	b, err := openBase(src)
	if err != nil {
		return nil, err
	}
	return &delimReader{base: b, delim: delim}, nil
}

func (r *delimReader) Next() (format.Record, error) {
	var lines []string
	start := 0
	for {
		line, err := r.sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return format.Record{}, err
		}
		if strings.Contains(line, r.delim) {
			if len(lines) > 0 {
				return r.record(lines, start), nil
			}
			continue
		}
		if len(lines) == 0 {
			start = r.sc.Line()
		}
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		return r.record(lines, start), nil
	}
	return format.Record{}, io.EOF
}

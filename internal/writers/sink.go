// Package writers implements the output formats.
package writers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-wordwrap"

	"canary-convert/internal/format"
)

// Register adds every output format to reg.
func Register(reg *format.Registry) {
	reg.AddWriter(TXT)
	reg.AddWriter(DelimTXT)
	reg.AddWriter(Canary)
	reg.AddWriter(XLSX)
}

func checkOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("invalid output location %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("invalid output location %s: not a directory", dir)
	}
	return nil
}

// fileSink is a buffered, encoded output file that is removed again on Abort.
type fileSink struct {
	path string
	f    *os.File
	buf  *bufio.Writer
	enc  io.WriteCloser
}

func createSink(path string, dst format.Destination) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output file %s: %w", path, err)
	}
	size := dst.Settings.OutputBufferSize
	if size < 1 {
		size = 8192
	}
	buf := bufio.NewWriterSize(f, size)
	enc, err := format.Encode(buf, dst.Options.String("w_encoding"))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return &fileSink{path: path, f: f, buf: buf, enc: enc}, nil
}

func (s *fileSink) WriteString(text string) error {
	if _, err := io.WriteString(s.enc, text); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *fileSink) Close() error {
	if err := s.enc.Close(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	if err := s.buf.Flush(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

func (s *fileSink) Abort() {
	_ = s.f.Close()
	_ = os.Remove(s.path)
}

// textShaping holds the line transforms shared by the text writers.
type textShaping struct {
	lowercase   bool
	ignoreBlank bool
	wrap        int
}

func shapingFrom(opts format.Options) textShaping {
	return textShaping{
		lowercase:   opts.Bool("lowercase"),
		ignoreBlank: opts.Bool("ignore_blank_lines"),
		wrap:        opts.Int("text_wrap"),
	}
}

func (s textShaping) apply(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if s.ignoreBlank && strings.TrimSpace(line) == "" {
			continue
		}
		if s.lowercase {
			line = strings.ToLower(line)
		}
		out = append(out, line)
	}
	if s.wrap <= 0 || len(out) == 0 {
		return out
	}
	wrapped := wordwrap.WrapString(strings.Join(out, ""), uint(s.wrap))
	return strings.SplitAfter(wrapped, "\n")
}

func (s textShaping) document(lines []string) string {
	return strings.Join(s.apply(lines), "")
}

func outputPath(dst format.Destination, ext string) string {
	return filepath.Join(dst.OutputDir, format.WithExt(dst.BaseName, ext))
}

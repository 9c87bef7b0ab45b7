package format

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultReportRate = 10000

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// LineScanner reads decoded lines from an input file, tracking the raw byte offset
// and calling the source's Tick every ReportRate lines.
type LineScanner struct {
	src     Source
	file    *os.File
	counter *countingReader
	br      *bufio.Reader
	line    int
	every   int
}

func NewLineScanner(f *os.File, src Source) (*LineScanner, error) {
	counter := &countingReader{r: f}
	decoded, err := Decode(counter, src.Options.String("r_encoding"))
	if err != nil {
		return nil, &SourceError{Kind: SourceInvalid, Path: src.Path, Err: err}
	}
	every := src.Settings.ReportRate
	if every < 1 {
		every = defaultReportRate
	}
	return &LineScanner{
		src:     src,
		file:    f,
		counter: counter,
		br:      bufio.NewReaderSize(decoded, 64*1024),
		every:   every,
	}, nil
}

// Next returns the next line including its newline, or io.EOF.
func (s *LineScanner) Next() (string, error) {
	line, err := s.br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s line %d: %w (check the input encoding)", s.src.Path, s.line+1, err)
	}
	if line == "" {
		return "", io.EOF
	}
	s.line++
	if s.line == 1 {
		line = strings.TrimPrefix(line, "\ufeff")
	}
	if s.line%s.every == 0 {
		if err := s.src.tick(s.Offset()); err != nil {
			return "", err
		}
	}
	return line, nil
}

// Line is the number of lines returned so far.
func (s *LineScanner) Line() int {
	return s.line
}

func (s *LineScanner) Offset() int64 {
	return s.counter.n
}

func (s *LineScanner) Close() error {
	return s.file.Close()
}

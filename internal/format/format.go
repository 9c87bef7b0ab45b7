// Package format defines the reader and writer contracts every conversion format
// implements, plus the helpers they share.
package format

import (
	"strings"

	"canary-convert/internal/config"
)

// Record is one logical document pulled from an input file.
type Record struct {
	// Lines keep their trailing newline.
	Lines  []string          `json:"lines"`
	Fields map[string]string `json:"fields,omitempty"`
	// Line is the 1-based source line the record starts on.
	Line   int    `json:"line,omitempty"`
	Source string `json:"source"`
}

func (r Record) Text() string {
	return strings.Join(r.Lines, "")
}

// Reader yields records lazily. Next returns io.EOF once the input is exhausted;
// a reader cannot be restarted.
type Reader interface {
	Next() (Record, error)
	Size() int64
	Offset() int64
	Close() error
}

// Buffered is implemented by readers that load the whole input before yielding.
type Buffered interface {
	Buffered() bool
}

type Writer interface {
	// Write consumes one record and returns the path it was written to.
	Write(rec Record) (string, error)
	Close() error
}

// Aborter is implemented by writers that can discard partial output.
type Aborter interface {
	Abort()
}

// Source carries everything a reader is constructed with.
type Source struct {
	Path     string
	Options  Options
	Settings config.Settings
	// Tick is called with the current byte offset every Settings.ReportRate lines.
	// A non-nil error stops the reader.
	Tick func(offset int64) error
	Warn func(msg string, line int)
}

func (s Source) tick(offset int64) error {
	if s.Tick == nil {
		return nil
	}
	return s.Tick(offset)
}

func (s Source) Warnf(line int, msg string) {
	if s.Warn != nil {
		s.Warn(msg, line)
	}
}

// Destination carries everything a writer is constructed with.
type Destination struct {
	Options    Options
	Settings   config.Settings
	OutputDir  string
	BaseName   string
	SourcePath string
	Warn       func(msg string, line int)
}

func (d Destination) Warnf(line int, msg string) {
	if d.Warn != nil {
		d.Warn(msg, line)
	}
}

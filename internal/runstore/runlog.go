package runstore

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// RunLog is the append-only log a batch writes next to its output.
type RunLog struct {
	*log.Logger
	Path string
	file *os.File
}

// OpenRunLog appends to path, creating it when missing.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &RunLog{Logger: newLogger(f), Path: path, file: f}, nil
}

// DiscardLog is used when log files are turned off.
func DiscardLog() *RunLog {
	return &RunLog{Logger: newLogger(io.Discard)}
}

func newLogger(w io.Writer) *log.Logger {
	l := log.New()
	l.SetOutput(w)
	l.SetLevel(log.DebugLevel)
	l.SetFormatter(&log.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

func (r *RunLog) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

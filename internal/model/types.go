package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Job describes one input file scheduled for conversion. It never changes after discovery.
type Job struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	SizeBytes  int64  `json:"size_bytes"`
	OutputHint string `json:"output_hint,omitempty"`
}

func (j Job) Filename() string {
	return filepath.Base(j.SourcePath)
}

// Snapshot is the latest known progress of a job. Only the job's worker produces them.
type Snapshot struct {
	JobID       string      `json:"job_id"`
	Filename    string      `json:"filename"`
	State       State       `json:"state"`
	BytesDone   int64       `json:"bytes_done"`
	BytesTotal  int64       `json:"bytes_total"`
	RecordsDone int         `json:"records_done,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	Error       *FatalError `json:"error,omitempty"`
	OutputPath  string      `json:"output_path,omitempty"`
}

// NewSnapshot returns the waiting snapshot every job starts from.
func NewSnapshot(job Job) Snapshot {
	return Snapshot{
		JobID:      job.ID,
		Filename:   job.Filename(),
		State:      StateWaiting,
		BytesTotal: job.SizeBytes,
	}
}

// Percent returns completion in [0,100]. Jobs with no bytes count as done once terminal.
func (s Snapshot) Percent() float64 {
	if s.BytesTotal <= 0 {
		if s.State.IsTerminal() {
			return 100
		}
		return 0
	}
	p := float64(s.BytesDone) / float64(s.BytesTotal) * 100
	if p > 100 {
		p = 100
	}
	return p
}

type Warning struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Line      int       `json:"line,omitempty"`
}

// ErrorKind classifies a fatal job failure.
type ErrorKind string

const (
	ErrorConstruction ErrorKind = "construction"
	ErrorRuntime      ErrorKind = "runtime"
	ErrorProcessFault ErrorKind = "process_fault"
)

type FatalError struct {
	JobID    string    `json:"job_id"`
	Filename string    `json:"filename"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Stack    string    `json:"stack,omitempty"`
}

func (e *FatalError) Error() string {
	return e.Message
}

// Directive is a control command sent from the controller to a running worker.
type Directive string

const (
	DirectiveCancel Directive = "cancel"
	DirectivePause  Directive = "pause"
	DirectiveResume Directive = "resume"
)

// ParseDirective reports ok=false for anything that is not a known directive.
func ParseDirective(s string) (Directive, bool) {
	switch d := Directive(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectiveCancel, DirectivePause, DirectiveResume:
		return d, true
	default:
		return "", false
	}
}

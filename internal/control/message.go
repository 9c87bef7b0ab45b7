// Package control implements the per-job control channel between the scheduler's
// controller and a worker process: progress, warnings and an end-of-stream marker
// flow from the worker, directives flow to it.
package control

import (
	"errors"

	"canary-convert/internal/model"
)

type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindWarnings Kind = "warnings"
	KindEnd      Kind = "end"
)

var ErrClosed = errors.New("control channel closed")

// Message is one line of the worker's output stream.
type Message struct {
	Kind     Kind            `json:"kind"`
	JobID    string          `json:"job_id"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
	Warnings []model.Warning `json:"warnings,omitempty"`
}

func SnapshotMessage(s model.Snapshot) Message {
	return Message{Kind: KindSnapshot, JobID: s.JobID, Snapshot: &s}
}

func WarningsMessage(jobID string, warnings []model.Warning) Message {
	batch := make([]model.Warning, len(warnings))
	copy(batch, warnings)
	return Message{Kind: KindWarnings, JobID: jobID, Warnings: batch}
}

func EndMessage(jobID string) Message {
	return Message{Kind: KindEnd, JobID: jobID}
}

// IsTerminal reports whether m carries a snapshot in a terminal state.
func (m Message) IsTerminal() bool {
	return m.Kind == KindSnapshot && m.Snapshot != nil && m.Snapshot.State.IsTerminal()
}

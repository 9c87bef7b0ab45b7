// Package worker runs a single conversion job: it streams records from a reader to
// a writer and reports progress over the job's control channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"canary-convert/internal/config"
	"canary-convert/internal/control"
	"canary-convert/internal/format"
	"canary-convert/internal/model"
)

var errCancelled = errors.New("job cancelled")

// Spec is everything a worker needs to run one job.
type Spec struct {
	Job      model.Job       `json:"job"`
	Reader   string          `json:"reader"`
	Writer   string          `json:"writer"`
	Options  format.Options  `json:"options"`
	Settings config.Settings `json:"settings"`
}

type Worker struct {
	spec       Spec
	reg        *format.Registry
	out        *control.Outbox
	directives <-chan model.Directive
	now        func() time.Time

	ctx      context.Context
	snap     model.Snapshot
	warnings []model.Warning
	writer   format.Writer
	done     bool
	// set when a pause arrives before the job left Waiting
	pausePending bool
}

func New(spec Spec, reg *format.Registry, out *control.Outbox, directives <-chan model.Directive) *Worker {
	return &Worker{
		spec:       spec,
		reg:        reg,
		out:        out,
		directives: directives,
		now:        time.Now,
		snap:       model.NewSnapshot(spec.Job),
	}
}

// Run executes the job and returns its terminal state. Exactly one terminal snapshot
// and one end marker are published, whatever the outcome.
func (w *Worker) Run(ctx context.Context) (final model.State) {
	w.ctx = ctx
	defer func() {
		if r := recover(); r != nil {
			w.abortWriter()
			w.fail(model.ErrorRuntime, fmt.Sprintf("unexpected failure: %v", r), string(debug.Stack()))
		}
		final = w.snap.State
	}()

	readerFormat, err := w.reg.Reader(w.spec.Reader)
	if err != nil {
		w.fail(model.ErrorConstruction, err.Error(), "")
		return
	}
	writerFormat, err := w.reg.Writer(w.spec.Writer)
	if err != nil {
		w.fail(model.ErrorConstruction, err.Error(), "")
		return
	}

	reader, err := readerFormat.Open(format.Source{
		Path:     w.spec.Job.SourcePath,
		Options:  w.spec.Options,
		Settings: w.spec.Settings,
		Tick:     w.tick,
		Warn:     w.warn,
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			w.stop(err)
			return
		}
		w.fail(model.ErrorConstruction, err.Error(), "")
		return
	}
	defer reader.Close()
	if w.snap.BytesTotal <= 0 {
		w.snap.BytesTotal = reader.Size()
	}

	base := w.spec.Job.OutputHint
	if base == "" {
		base = w.spec.Job.Filename()
	}
	w.writer, err = writerFormat.Create(format.Destination{
		Options:    w.spec.Options,
		Settings:   w.spec.Settings,
		OutputDir:  w.spec.Options.String("output_dir"),
		BaseName:   base,
		SourcePath: w.spec.Job.SourcePath,
		Warn:       w.warn,
	})
	if err != nil {
		w.fail(model.ErrorConstruction, err.Error(), "")
		return
	}

	start := model.StateRunning
	if b, ok := reader.(format.Buffered); ok && b.Buffered() {
		start = model.StateReading
	}
	started := w.now()
	w.snap.StartedAt = &started
	w.move(start)

	if err := w.poll(); err != nil {
		w.stop(err)
		return
	}
	if err := w.stream(reader); err != nil {
		w.stop(err)
		return
	}

	if w.snap.State != model.StateWriting {
		w.move(model.StateWriting)
	}
	if err := w.writer.Close(); err != nil {
		w.stop(err)
		return
	}
	if w.snap.BytesDone < w.snap.BytesTotal {
		w.snap.BytesDone = w.snap.BytesTotal
	}
	w.terminal(model.StateFinished)
	return
}

func (w *Worker) stream(reader format.Reader) error {
	every := w.spec.Settings.CheckEvery
	if every < 1 {
		every = 1
	}
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if w.snap.State == model.StateReading {
			w.move(model.StateWriting)
		}
		path, err := w.writer.Write(rec)
		if err != nil {
			return err
		}
		w.snap.RecordsDone++
		w.snap.OutputPath = path
		w.advance(reader.Offset())
		if w.snap.RecordsDone%every == 0 {
			if err := w.poll(); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) advance(offset int64) {
	if offset > w.snap.BytesDone {
		w.snap.BytesDone = offset
	}
}

func (w *Worker) tick(offset int64) error {
	w.advance(offset)
	return w.poll()
}

// poll handles pending directives without waiting, then offers a progress snapshot.
func (w *Worker) poll() error {
	for {
		select {
		case <-w.ctx.Done():
			return errCancelled
		default:
		}
		if w.pausePending && w.snap.State != model.StateWaiting {
			w.pausePending = false
			if err := w.pause(); err != nil {
				return err
			}
			continue
		}
		select {
		case d, ok := <-w.directives:
			if !ok {
				return errCancelled
			}
			switch d {
			case model.DirectiveCancel:
				return errCancelled
			case model.DirectivePause:
				if err := w.pause(); err != nil {
					return err
				}
			case model.DirectiveResume:
				w.pausePending = false
			}
		default:
			w.out.Offer(control.SnapshotMessage(w.snap))
			return nil
		}
	}
}

// pause blocks until a resume or cancel directive arrives. A pause received while
// the reader is still being built is held until the job is running.
func (w *Worker) pause() error {
	prev := w.snap.State
	if prev == model.StateWaiting {
		w.pausePending = true
		return nil
	}
	if err := model.Transition(&w.snap, model.StatePaused); err != nil {
		return nil
	}
	w.out.Put(control.SnapshotMessage(w.snap))
	for {
		select {
		case <-w.ctx.Done():
			return errCancelled
		case d, ok := <-w.directives:
			if !ok || d == model.DirectiveCancel {
				return errCancelled
			}
			if d == model.DirectiveResume {
				_ = model.Transition(&w.snap, prev)
				w.out.Put(control.SnapshotMessage(w.snap))
				return nil
			}
		}
	}
}

func (w *Worker) move(to model.State) {
	if err := model.Transition(&w.snap, to); err != nil {
		panic(err)
	}
	w.out.Offer(control.SnapshotMessage(w.snap))
}

func (w *Worker) warn(msg string, line int) {
	w.warnings = append(w.warnings, model.Warning{
		JobID:     w.spec.Job.ID,
		Filename:  w.snap.Filename,
		Timestamp: w.now(),
		Message:   msg,
		Line:      line,
	})
	size := w.spec.Settings.WarningBatchSize
	if size < 1 {
		size = 1
	}
	if len(w.warnings) >= size {
		w.flushWarnings()
	}
}

func (w *Worker) flushWarnings() {
	if len(w.warnings) == 0 {
		return
	}
	w.out.Put(control.WarningsMessage(w.spec.Job.ID, w.warnings))
	w.warnings = w.warnings[:0]
}

func (w *Worker) abortWriter() {
	if a, ok := w.writer.(format.Aborter); ok {
		a.Abort()
	}
}

func (w *Worker) stop(err error) {
	w.abortWriter()
	if errors.Is(err, errCancelled) {
		w.terminal(model.StateCancelled)
		return
	}
	w.fail(model.ErrorRuntime, err.Error(), string(debug.Stack()))
}

func (w *Worker) fail(kind model.ErrorKind, msg, stack string) {
	if w.done {
		return
	}
	w.snap.Error = &model.FatalError{
		JobID:    w.spec.Job.ID,
		Filename: w.snap.Filename,
		Kind:     kind,
		Message:  msg,
		Stack:    stack,
	}
	w.terminal(model.StateError)
}

// terminal flushes warnings, then publishes the final snapshot and the end marker.
func (w *Worker) terminal(state model.State) {
	if w.done {
		return
	}
	w.done = true
	if err := model.Transition(&w.snap, state); err != nil {
		w.snap.State = state
	}
	w.flushWarnings()
	w.out.Put(control.SnapshotMessage(w.snap))
	w.out.Put(control.EndMessage(w.spec.Job.ID))
}

// Package monitor is the controller side of a batch. It drains every job's control
// channel, keeps the latest state per job and aggregates byte progress for the
// renderers and the run log.
package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"canary-convert/internal/control"
	"canary-convert/internal/model"
	"canary-convert/internal/runstore"
	"canary-convert/internal/scheduler"
)

const recentLimit = 8

type jobState struct {
	job      model.Job
	channel  *control.Channel
	snap     model.Snapshot
	warnings int
	started  bool
	ended    bool
}

type Tracker struct {
	log logrus.FieldLogger
	now func() time.Time

	mu       sync.Mutex
	started  time.Time
	total    int64
	expected int
	order    []string
	jobs     map[string]*jobState
	recent   []string
	eventSeq int
	result   *scheduler.AllJobsComplete

	drains  sync.WaitGroup
	updates chan struct{}
	done    chan struct{}
}

func NewTracker(log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = runstore.DiscardLog()
	}
	return &Tracker{
		log:     log,
		now:     time.Now,
		jobs:    map[string]*jobState{},
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start consumes events in the background until the scheduler closes the stream.
func (t *Tracker) Start(events <-chan scheduler.Event) {
	t.mu.Lock()
	t.started = t.now()
	t.mu.Unlock()
	go t.consume(events)
}

func (t *Tracker) consume(events <-chan scheduler.Event) {
	var final scheduler.AllJobsComplete
	for ev := range events {
		switch e := ev.(type) {
		case scheduler.TotalBytesKnown:
			t.mu.Lock()
			t.total = e.Bytes
			t.expected = e.Jobs
			t.mu.Unlock()
		case scheduler.JobChannelsReady:
			t.add(e.Job, e.Channel)
		case scheduler.AllJobsComplete:
			final = e
		}
		t.notify()
	}
	t.drains.Wait()

	entry := t.log.WithField("elapsed", final.Elapsed.Round(time.Millisecond).String())
	switch {
	case final.Err != nil:
		entry.WithError(final.Err).Error("Conversion aborted")
	case final.Cancelled:
		entry.Warn("Conversion cancelled")
	default:
		entry.Info("Conversion complete")
	}

	t.mu.Lock()
	t.result = &final
	t.mu.Unlock()
	t.notify()
	close(t.done)
}

func (t *Tracker) add(job model.Job, ch *control.Channel) {
	st := &jobState{job: job, channel: ch, snap: model.NewSnapshot(job)}
	t.mu.Lock()
	t.order = append(t.order, job.ID)
	t.jobs[job.ID] = st
	t.mu.Unlock()

	t.drains.Add(1)
	go func() {
		defer t.drains.Done()
		for m := range ch.Progress() {
			t.handle(st, m)
			t.notify()
			if m.Kind == control.KindEnd {
				return
			}
		}
	}()
}

func (t *Tracker) handle(st *jobState, m control.Message) {
	entry := t.log.WithFields(logrus.Fields{"job_id": st.job.ID, "file": st.job.SourcePath})
	switch m.Kind {
	case control.KindSnapshot:
		snap := *m.Snapshot
		t.mu.Lock()
		if snap.BytesDone < st.snap.BytesDone && !snap.State.IsTerminal() {
			snap.BytesDone = st.snap.BytesDone
		}
		first := !st.started && !snap.State.IsTerminal()
		if first {
			st.started = true
		}
		st.snap = snap
		t.mu.Unlock()

		if first {
			entry.Info("Processing")
		}
		switch snap.State {
		case model.StateFinished:
			entry.WithFields(logrus.Fields{"records": snap.RecordsDone, "output": snap.OutputPath}).Info("Finished")
		case model.StateCancelled:
			entry.Warn("Cancelled")
			t.remember("cancelled " + st.job.Filename())
		case model.StateError:
			if snap.Error != nil {
				e := entry.WithField("kind", snap.Error.Kind)
				if snap.Error.Stack != "" {
					e = e.WithField("stack", snap.Error.Stack)
				}
				e.Error(snap.Error.Message)
				t.remember("error " + st.job.Filename() + ": " + snap.Error.Message)
			} else {
				entry.Error("Failed")
			}
		}
	case control.KindEnd:
		t.mu.Lock()
		st.ended = true
		t.mu.Unlock()
		entry.Debug("End of job stream")
	case control.KindWarnings:
		for _, w := range m.Warnings {
			entry.WithField("line", w.Line).Warn(w.Message)
		}
		t.mu.Lock()
		st.warnings += len(m.Warnings)
		t.mu.Unlock()
		if n := len(m.Warnings); n > 0 {
			t.remember("warning " + st.job.Filename() + ": " + m.Warnings[n-1].Message)
		}
	}
}

func (t *Tracker) remember(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventSeq++
	t.recent = append([]string{event}, t.recent...)
	if len(t.recent) > recentLimit {
		t.recent = t.recent[:recentLimit]
	}
}

func (t *Tracker) notify() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

// Updates signals, coalesced, that the view has changed.
func (t *Tracker) Updates() <-chan struct{} {
	return t.updates
}

// Done is closed after the batch completed and every channel drained.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until Done and returns the batch result.
func (t *Tracker) Wait() scheduler.AllJobsComplete {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.result
}

func (t *Tracker) PauseAll() error {
	return t.broadcast(model.DirectivePause)
}

func (t *Tracker) ResumeAll() error {
	return t.broadcast(model.DirectiveResume)
}

func (t *Tracker) Pause(jobID string) error {
	return t.send(jobID, model.DirectivePause)
}

func (t *Tracker) Resume(jobID string) error {
	return t.send(jobID, model.DirectiveResume)
}

func (t *Tracker) send(jobID string, d model.Directive) error {
	t.mu.Lock()
	st, ok := t.jobs[jobID]
	t.mu.Unlock()
	if !ok {
		return errors.New("unknown job " + jobID)
	}
	return sendLive(st.channel, d)
}

func (t *Tracker) broadcast(d model.Directive) error {
	t.mu.Lock()
	var live []*control.Channel
	for _, id := range t.order {
		if st := t.jobs[id]; !st.ended && !st.snap.State.IsTerminal() {
			live = append(live, st.channel)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, ch := range live {
		if err := sendLive(ch, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendLive ignores channels whose worker is already gone.
func sendLive(ch *control.Channel, d model.Directive) error {
	if err := ch.Send(d); err != nil && !errors.Is(err, control.ErrClosed) {
		return err
	}
	return nil
}

// JobSummaries lists every admitted job in admission order.
func (t *Tracker) JobSummaries() []runstore.JobSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]runstore.JobSummary, 0, len(t.order))
	for _, id := range t.order {
		st := t.jobs[id]
		out = append(out, runstore.JobSummary{
			JobID:       id,
			SourcePath:  st.job.SourcePath,
			State:       st.snap.State,
			RecordsDone: st.snap.RecordsDone,
			BytesDone:   st.snap.BytesDone,
			BytesTotal:  st.snap.BytesTotal,
			OutputPath:  st.snap.OutputPath,
			Warnings:    st.warnings,
			Error:       st.snap.Error,
		})
	}
	return out
}

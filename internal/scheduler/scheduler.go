// Package scheduler admits conversion jobs into a bounded pool of worker processes,
// watches them on a fixed polling interval and handles batch cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"canary-convert/internal/control"
	"canary-convert/internal/model"
)

var (
	ErrCancelled = errors.New("scheduler was cancelled")
	ErrBusy      = errors.New("scheduler is already running a batch")
)

// Event is emitted on the channel returned by Submit.
type Event interface {
	event()
}

// TotalBytesKnown is always the first event of a batch.
type TotalBytesKnown struct {
	Bytes int64
	Jobs  int
}

// JobChannelsReady hands the controller a job's channel before any of its progress
// can be read.
type JobChannelsReady struct {
	Job     model.Job
	Channel *control.Channel
}

// AllJobsComplete is the last event of a batch.
type AllJobsComplete struct {
	Cancelled bool
	Err       error
	Elapsed   time.Duration
}

func (TotalBytesKnown) event()  {}
func (JobChannelsReady) event() {}
func (AllJobsComplete) event()  {}

// Process is a running worker.
type Process interface {
	Channel() *control.Channel
	// Exited is closed once the process is gone and its output fully read.
	Exited() <-chan struct{}
	ExitErr() error
	Terminate() error
	Kill() error
}

type Launcher interface {
	Launch(job model.Job, buffer int) (Process, error)
}

// Checker is implemented by launchers that can verify they are usable before a batch.
type Checker interface {
	Check() error
}

type Options struct {
	PollInterval  time.Duration
	GracePeriod   time.Duration
	ChannelBuffer int
	// Preflight runs before a job is spawned. A failure finishes the job with a
	// construction error without using a pool slot.
	Preflight func(job model.Job) error
}

type Scheduler struct {
	opts      Options
	launcher  Launcher
	log       *logrus.Logger
	cancelCh  chan struct{}
	cancelled atomic.Bool
	busy      atomic.Bool
	once      sync.Once
}

// DefaultPoolSize leaves one CPU for the controller.
func DefaultPoolSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

func New(opts Options, launcher Launcher, log *logrus.Logger) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.ChannelBuffer < 1 {
		opts.ChannelBuffer = 64
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Scheduler{
		opts:     opts,
		launcher: launcher,
		log:      log,
		cancelCh: make(chan struct{}),
	}
}

// Cancel stops the batch: pending jobs are dropped, running workers are terminated
// and joined. It is safe to call at any time and more than once.
func (s *Scheduler) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.cancelCh)
	})
}

func (s *Scheduler) Cancelled() bool {
	return s.cancelled.Load()
}

// Submit starts the batch and returns its event stream, which is closed after
// AllJobsComplete. poolSize <= 0 selects DefaultPoolSize.
func (s *Scheduler) Submit(ctx context.Context, jobs []model.Job, poolSize int) (<-chan Event, error) {
	if s.cancelled.Load() {
		return nil, ErrCancelled
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize()
	}
	// room for every event, so a slow consumer never stalls the control loop
	events := make(chan Event, len(jobs)+2)
	go s.loop(ctx, append([]model.Job(nil), jobs...), poolSize, events)
	return events, nil
}

type slot struct {
	job  model.Job
	proc Process
}

func (s *Scheduler) loop(ctx context.Context, pending []model.Job, poolSize int, events chan<- Event) {
	defer close(events)
	defer s.busy.Store(false)

	start := time.Now()
	var total int64
	for _, job := range pending {
		total += job.SizeBytes
	}
	events <- TotalBytesKnown{Bytes: total, Jobs: len(pending)}
	s.log.WithFields(logrus.Fields{"jobs": len(pending), "bytes": total, "pool": poolSize}).Info("batch started")

	if checker, ok := s.launcher.(Checker); ok {
		if err := checker.Check(); err != nil {
			s.log.WithError(err).Error("batch aborted before admission")
			events <- AllJobsComplete{Err: err, Elapsed: time.Since(start)}
			return
		}
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var active []slot
	cancelled := false
	for {
		select {
		case <-s.cancelCh:
			cancelled = true
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			s.shutdown(pending, s.reap(active), events)
			break
		}

		active = s.reap(active)
		for len(active) < poolSize && len(pending) > 0 {
			job := pending[0]
			pending = pending[1:]
			if sl, ok := s.admit(job, events); ok {
				active = append(active, sl)
			}
		}
		if len(active) == 0 && len(pending) == 0 {
			break
		}

		select {
		case <-ticker.C:
		case <-s.cancelCh:
		case <-ctx.Done():
		}
	}

	elapsed := time.Since(start)
	s.log.WithFields(logrus.Fields{"cancelled": cancelled, "elapsed": elapsed.Round(time.Millisecond).String()}).Info("batch complete")
	events <- AllJobsComplete{Cancelled: cancelled, Elapsed: elapsed}
}

func (s *Scheduler) admit(job model.Job, events chan<- Event) (slot, bool) {
	entry := s.log.WithFields(logrus.Fields{"job_id": job.ID, "file": job.SourcePath})
	if s.opts.Preflight != nil {
		if err := s.opts.Preflight(job); err != nil {
			entry.WithError(err).Warn("job rejected before start")
			events <- JobChannelsReady{Job: job, Channel: control.Closed(job, failed(job, model.ErrorConstruction, err.Error()))}
			return slot{}, false
		}
	}
	proc, err := s.launcher.Launch(job, s.opts.ChannelBuffer)
	if err != nil {
		entry.WithError(err).Error("worker failed to start")
		msg := fmt.Sprintf("could not start worker: %v", err)
		events <- JobChannelsReady{Job: job, Channel: control.Closed(job, failed(job, model.ErrorProcessFault, msg))}
		return slot{}, false
	}
	entry.Debug("worker started")
	events <- JobChannelsReady{Job: job, Channel: proc.Channel()}
	return slot{job: job, proc: proc}, true
}

// reap finishes the channels of exited workers and returns the ones still running.
func (s *Scheduler) reap(active []slot) []slot {
	kept := active[:0]
	for _, sl := range active {
		select {
		case <-sl.proc.Exited():
			err := sl.proc.ExitErr()
			entry := s.log.WithFields(logrus.Fields{"job_id": sl.job.ID, "file": sl.job.SourcePath})
			if err != nil {
				entry.WithError(err).Debug("worker exited with error")
			} else {
				entry.Debug("worker exited")
			}
			sl.proc.Channel().Finish(control.ExitInfo{Err: err})
		default:
			kept = append(kept, sl)
		}
	}
	return kept
}

func (s *Scheduler) shutdown(pending []model.Job, active []slot, events chan<- Event) {
	s.log.WithFields(logrus.Fields{"running": len(active), "dropped": len(pending)}).Warn("batch cancelled")

	for _, job := range pending {
		snap := model.NewSnapshot(job)
		snap.State = model.StateCancelled
		events <- JobChannelsReady{Job: job, Channel: control.Closed(job, snap)}
	}

	for _, sl := range active {
		_ = sl.proc.Channel().Send(model.DirectiveCancel)
		if err := sl.proc.Terminate(); err != nil {
			s.log.WithError(err).WithField("job_id", sl.job.ID).Debug("terminate failed")
		}
	}

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()
	expired := false
	for _, sl := range active {
		if expired {
			break
		}
		select {
		case <-sl.proc.Exited():
		case <-grace.C:
			expired = true
		}
	}
	for _, sl := range active {
		select {
		case <-sl.proc.Exited():
		default:
			s.log.WithField("job_id", sl.job.ID).Warn("worker did not stop in time, killing it")
			_ = sl.proc.Kill()
		}
	}
	for _, sl := range active {
		<-sl.proc.Exited()
		sl.proc.Channel().Finish(control.ExitInfo{Err: sl.proc.ExitErr(), Cancelled: true})
	}
}

func failed(job model.Job, kind model.ErrorKind, msg string) model.Snapshot {
	snap := model.NewSnapshot(job)
	snap.State = model.StateError
	snap.Error = &model.FatalError{
		JobID:    job.ID,
		Filename: job.Filename(),
		Kind:     kind,
		Message:  msg,
	}
	return snap
}

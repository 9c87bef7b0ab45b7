package control

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"canary-convert/internal/model"
)

const maxMessageBytes = 16 * 1024 * 1024

// ExitInfo describes how a worker process ended.
type ExitInfo struct {
	Err error
	// Cancelled is set when the scheduler itself terminated the worker.
	Cancelled bool
}

// Channel is the controller end of a job's control channel.
//
// Progress delivers at most one terminal snapshot followed by exactly one end
// message, then closes. When the worker stream ends without them, Finish
// synthesizes both from the exit information.
type Channel struct {
	job        model.Job
	progress   chan Message
	directives io.WriteCloser
	sendMu     sync.Mutex
	readDone   chan struct{}
	exit       chan ExitInfo
	finishOnce sync.Once
	malformed  int
}

// Attach starts decoding the worker stream and returns the channel for job.
func Attach(job model.Job, stream io.Reader, directives io.WriteCloser, buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	c := &Channel{
		job:        job,
		progress:   make(chan Message, buffer),
		directives: directives,
		readDone:   make(chan struct{}),
		exit:       make(chan ExitInfo, 1),
	}
	go c.pump(stream)
	return c
}

// Closed returns a channel that already carries snap and the end marker. It is used
// for jobs that never get a worker.
func Closed(job model.Job, snap model.Snapshot) *Channel {
	c := &Channel{
		job:      job,
		progress: make(chan Message, 2),
		readDone: make(chan struct{}),
		exit:     make(chan ExitInfo, 1),
	}
	c.progress <- SnapshotMessage(snap)
	c.progress <- EndMessage(job.ID)
	close(c.progress)
	close(c.readDone)
	c.finishOnce.Do(func() {})
	return c
}

func (c *Channel) Job() model.Job {
	return c.job
}

func (c *Channel) Progress() <-chan Message {
	return c.progress
}

// ReadDone is closed once the worker's output stream reached EOF.
func (c *Channel) ReadDone() <-chan struct{} {
	return c.readDone
}

// Send writes a directive to the worker.
func (c *Channel) Send(d model.Directive) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.directives == nil {
		return ErrClosed
	}
	if _, err := io.WriteString(c.directives, string(d)+"\n"); err != nil {
		return fmt.Errorf("send %s to job %s: %w", d, c.job.ID, err)
	}
	return nil
}

// Finish hands the process exit to the channel. Calls after the first are ignored.
func (c *Channel) Finish(info ExitInfo) {
	c.finishOnce.Do(func() {
		c.sendMu.Lock()
		if c.directives != nil {
			_ = c.directives.Close()
			c.directives = nil
		}
		c.sendMu.Unlock()
		c.exit <- info
	})
}

func (c *Channel) pump(stream io.Reader) {
	defer close(c.progress)

	last := model.NewSnapshot(c.job)
	sawTerminal := false
	sawEnd := false

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxMessageBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			c.malformed++
			continue
		}
		if sawEnd {
			continue
		}
		m.JobID = c.job.ID
		switch m.Kind {
		case KindSnapshot:
			if m.Snapshot == nil || sawTerminal {
				continue
			}
			m.Snapshot.JobID = c.job.ID
			last = *m.Snapshot
			sawTerminal = last.State.IsTerminal()
		case KindEnd:
			if !sawTerminal {
				// an end marker must follow a terminal snapshot
				continue
			}
			sawEnd = true
		case KindWarnings:
		default:
			continue
		}
		c.progress <- m
	}
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, stream)
	}
	close(c.readDone)

	info := <-c.exit
	if !sawTerminal {
		c.progress <- SnapshotMessage(synthesize(last, info))
	}
	if !sawEnd {
		c.progress <- EndMessage(c.job.ID)
	}
}

func synthesize(last model.Snapshot, info ExitInfo) model.Snapshot {
	if info.Cancelled {
		last.State = model.StateCancelled
		return last
	}
	msg := "worker process exited without reporting a result"
	if info.Err != nil {
		msg = fmt.Sprintf("worker process exited unexpectedly: %v", info.Err)
	}
	last.State = model.StateError
	last.Error = &model.FatalError{
		JobID:    last.JobID,
		Filename: last.Filename,
		Kind:     model.ErrorProcessFault,
		Message:  msg,
	}
	return last
}

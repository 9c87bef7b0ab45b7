package control

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"canary-convert/internal/model"
)

// Outbox is the worker end of a control channel. Messages are encoded as JSON lines
// by a single writer goroutine so the worker loop never waits on a slow reader
// unless it asks to.
type Outbox struct {
	queue     chan Message
	enc       *json.Encoder
	done      chan struct{}
	closeOnce sync.Once
	err       error
	dropped   int
	mu        sync.Mutex
}

func NewOutbox(w io.Writer, capacity int) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	o := &Outbox{
		queue: make(chan Message, capacity),
		enc:   json.NewEncoder(w),
		done:  make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Outbox) run() {
	defer close(o.done)
	for m := range o.queue {
		if o.err != nil {
			// keep draining so Put never blocks on a dead stream
			continue
		}
		if err := o.enc.Encode(m); err != nil {
			o.err = err
		}
	}
}

// Offer queues m unless the buffer is full, in which case m is dropped.
func (o *Outbox) Offer(m Message) bool {
	select {
	case o.queue <- m:
		return true
	default:
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		return false
	}
}

// Put queues m, waiting for buffer space.
func (o *Outbox) Put(m Message) {
	o.queue <- m
}

// Dropped returns how many offered messages were discarded.
func (o *Outbox) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Close flushes queued messages and returns the first write error. No message may be
// queued after Close.
func (o *Outbox) Close() error {
	o.closeOnce.Do(func() { close(o.queue) })
	<-o.done
	return o.err
}

// ReadDirectives parses one directive per line from r. Unknown lines are ignored and
// the returned channel is closed when r is exhausted.
func ReadDirectives(r io.Reader) <-chan model.Directive {
	ch := make(chan model.Directive, 8)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if d, ok := model.ParseDirective(scanner.Text()); ok {
				ch <- d
			}
		}
	}()
	return ch
}

package monitor

import (
	"fmt"
	"math"
	"time"

	"canary-convert/internal/model"
	"canary-convert/internal/scheduler"
)

type JobView struct {
	Job      model.Job
	Snapshot model.Snapshot
	Warnings int
}

// View is a point-in-time copy of the batch for renderers.
type View struct {
	Jobs       []JobView
	Expected   int
	TotalBytes int64
	DoneBytes  int64
	Counts     map[model.State]int
	Warnings   int
	// Recent holds the latest events, newest first. EventSeq counts every event
	// ever recorded so renderers can tell which ones they have not shown.
	Recent   []string
	EventSeq int
	Elapsed  time.Duration
	// Result is set once the batch is over.
	Result *scheduler.AllJobsComplete
}

// View aggregates byte progress. Cancelled jobs drop out of both totals; jobs that
// ended in error count as fully processed.
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := View{
		Jobs:       make([]JobView, 0, len(t.order)),
		Expected:   t.expected,
		TotalBytes: t.total,
		Counts:     map[model.State]int{},
		Recent:     append([]string(nil), t.recent...),
		EventSeq:   t.eventSeq,
	}
	if !t.started.IsZero() {
		v.Elapsed = t.now().Sub(t.started)
	}
	if t.result != nil {
		r := *t.result
		v.Result = &r
		v.Elapsed = r.Elapsed
	}
	for _, id := range t.order {
		st := t.jobs[id]
		v.Jobs = append(v.Jobs, JobView{Job: st.job, Snapshot: st.snap, Warnings: st.warnings})
		v.Counts[st.snap.State]++
		v.Warnings += st.warnings
		v.DoneBytes += contribution(st)
		if st.snap.State == model.StateCancelled {
			v.TotalBytes -= st.job.SizeBytes
		}
	}
	if v.TotalBytes < 0 {
		v.TotalBytes = 0
	}
	if v.DoneBytes > v.TotalBytes {
		v.DoneBytes = v.TotalBytes
	}
	return v
}

func contribution(st *jobState) int64 {
	switch st.snap.State {
	case model.StateCancelled:
		return 0
	case model.StateFinished, model.StateError:
		return st.job.SizeBytes
	}
	done := st.snap.BytesDone
	if st.snap.BytesTotal > 0 && st.snap.BytesTotal != st.job.SizeBytes {
		done = int64(float64(done) / float64(st.snap.BytesTotal) * float64(st.job.SizeBytes))
	}
	return min(done, st.job.SizeBytes)
}

// Active returns the jobs still in flight.
func (v View) Active() []JobView {
	var out []JobView
	for _, j := range v.Jobs {
		if !j.Snapshot.State.IsTerminal() {
			out = append(out, j)
		}
	}
	return out
}

func (v View) Percent() float64 {
	if v.TotalBytes <= 0 {
		if v.Result != nil {
			return 100
		}
		return 0
	}
	return float64(v.DoneBytes) / float64(v.TotalBytes) * 100
}

// Rate is the average throughput in bytes per second.
func (v View) Rate() float64 {
	if v.Elapsed <= 0 {
		return 0
	}
	return float64(v.DoneBytes) / v.Elapsed.Seconds()
}

// ETA estimates the remaining time from the average rate so far.
func (v View) ETA() string {
	return estimateETA(v.TotalBytes, v.DoneBytes, v.Rate())
}

func estimateETA(totalBytes, doneBytes int64, bytesPerSec float64) string {
	if totalBytes <= 0 || bytesPerSec <= 0 {
		return ""
	}
	remaining := totalBytes - doneBytes
	if remaining <= 0 {
		return "0s"
	}
	return formatETASeconds(float64(remaining) / bytesPerSec)
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return fmt.Sprintf("%ds", max(secs, 1))
	}
	minutes := secs / 60
	if minutes < 60 {
		if rem := secs % 60; rem != 0 {
			return fmt.Sprintf("%dm %ds", minutes, rem)
		}
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	if rem := minutes % 60; rem != 0 {
		return fmt.Sprintf("%dh %dm", hours, rem)
	}
	return fmt.Sprintf("%dh", hours)
}

// FormatBytes renders n with binary units.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

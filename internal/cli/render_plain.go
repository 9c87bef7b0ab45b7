package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"canary-convert/internal/model"
	"canary-convert/internal/monitor"
	"canary-convert/internal/scheduler"
)

type renderMode string

const (
	renderNone  renderMode = "none"
	renderPlain renderMode = "plain"
	renderTUI   renderMode = "tui"
)

func pickRenderer(req convertRequest) renderMode {
	if req.JSON || req.Quiet {
		return renderNone
	}
	switch renderMode(strings.ToLower(strings.TrimSpace(req.Progress))) {
	case renderNone:
		return renderNone
	case renderPlain:
		return renderPlain
	case renderTUI:
		return renderTUI
	}
	if isTTY(os.Stdin) && isTTY(os.Stdout) {
		return renderTUI
	}
	return renderPlain
}

func render(mode renderMode, tr *monitor.Tracker, sched *scheduler.Scheduler, refresh time.Duration) error {
	switch mode {
	case renderTUI:
		return runTUI(tr, sched, refresh)
	case renderPlain:
		p := &plainRenderer{out: os.Stdout, tty: isTTY(os.Stdout), interval: max(refresh, time.Second)}
		p.run(tr)
	default:
		<-tr.Done()
	}
	return nil
}

// plainRenderer prints one status line per interval plus every notable event.
type plainRenderer struct {
	out      io.Writer
	tty      bool
	interval time.Duration
	seen     int
	lastLine string
}

func (p *plainRenderer) run(tr *monitor.Tracker) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-tr.Done():
			p.draw(tr.View(), true)
			return
		case <-t.C:
			p.draw(tr.View(), false)
		}
	}
}

func (p *plainRenderer) draw(v monitor.View, final bool) {
	// Recent is newest first; print what has not been shown yet, oldest first.
	fresh := min(v.EventSeq-p.seen, len(v.Recent))
	p.seen = v.EventSeq
	if fresh > 0 && p.tty && p.lastLine != "" {
		fmt.Fprint(p.out, "\r\033[2K")
	}
	for i := fresh - 1; i >= 0; i-- {
		fmt.Fprintln(p.out, v.Recent[i])
	}

	line := statusLine(v)
	switch {
	case p.tty && final:
		fmt.Fprintf(p.out, "\r\033[2K%s\n", line)
	case p.tty:
		fmt.Fprintf(p.out, "\r\033[2K%s", line)
	case final || line != p.lastLine:
		fmt.Fprintln(p.out, line)
	}
	p.lastLine = line
}

func statusLine(v monitor.View) string {
	done := v.Counts[model.StateFinished] + v.Counts[model.StateError] + v.Counts[model.StateCancelled]
	parts := []string{
		fmt.Sprintf("canary-convert | active %d | done %d/%d", len(v.Active()), done, v.Expected),
		fmt.Sprintf("%.1f%%", v.Percent()),
		fmt.Sprintf("%s/%s", monitor.FormatBytes(v.DoneBytes), monitor.FormatBytes(v.TotalBytes)),
	}
	if n := v.Counts[model.StateError]; n > 0 {
		parts = append(parts, fmt.Sprintf("errors %d", n))
	}
	if v.Warnings > 0 {
		parts = append(parts, fmt.Sprintf("warnings %d", v.Warnings))
	}
	if v.Result == nil {
		if eta := v.ETA(); eta != "" {
			parts = append(parts, "eta ~ "+eta)
		} else {
			parts = append(parts, "eta ~ calculating")
		}
	} else {
		parts = append(parts, "elapsed "+v.Elapsed.Round(time.Second).String())
	}
	return strings.Join(parts, " | ")
}

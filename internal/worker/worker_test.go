package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"canary-convert/internal/config"
	"canary-convert/internal/control"
	"canary-convert/internal/format"
	"canary-convert/internal/model"
	"canary-convert/internal/readers"
	"canary-convert/internal/writers"
)

type failingWriter struct {
	failAt int
	panics bool
	n      int
	warn   func(string, int)
}

func (w *failingWriter) Write(rec format.Record) (string, error) {
	w.n++
	w.warn("about to write", rec.Line)
	if w.n == w.failAt {
		if w.panics {
			panic("writer exploded")
		}
		return "", errors.New("disk full")
	}
	return "/dev/null", nil
}

func (w *failingWriter) Close() error { return nil }

func testRegistry(failAt int, panics bool) *format.Registry {
	reg := format.NewRegistry()
	readers.Register(reg)
	writers.Register(reg)
	reg.AddWriter(format.WriterFormat{
		Name: "failing",
		Create: func(dst format.Destination) (format.Writer, error) {
			return &failingWriter{failAt: failAt, panics: panics, warn: dst.Warn}, nil
		},
	})
	return reg
}

func testSettings() config.Settings {
	s := config.Default().Settings
	s.OutboxSize = 512
	s.CheckEvery = 1
	return s
}

func writeInput(t *testing.T, dir, name, body string) model.Job {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return model.Job{ID: "job-" + name, SourcePath: path, SizeBytes: int64(len(body))}
}

type result struct {
	state    model.State
	messages []control.Message
}

func (r result) snapshots() []model.Snapshot {
	var out []model.Snapshot
	for _, m := range r.messages {
		if m.Kind == control.KindSnapshot {
			out = append(out, *m.Snapshot)
		}
	}
	return out
}

func (r result) states() []model.State {
	var out []model.State
	for _, s := range r.snapshots() {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func (r result) warnings() []model.Warning {
	var out []model.Warning
	for _, m := range r.messages {
		out = append(out, m.Warnings...)
	}
	return out
}

func decode(t *testing.T, data []byte) []control.Message {
	t.Helper()
	var out []control.Message
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1<<24)
	for scanner.Scan() {
		var m control.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func run(t *testing.T, spec Spec, reg *format.Registry, directives <-chan model.Directive) result {
	t.Helper()
	var buf bytes.Buffer
	out := control.NewOutbox(&buf, spec.Settings.OutboxSize)
	state := New(spec, reg, out, directives).Run(context.Background())
	if err := out.Close(); err != nil {
		t.Fatalf("close outbox: %v", err)
	}
	return result{state: state, messages: decode(t, buf.Bytes())}
}

func assertTerminalThenEnd(t *testing.T, r result, want model.State) model.Snapshot {
	t.Helper()
	n := len(r.messages)
	if n < 2 {
		t.Fatalf("expected at least terminal and end messages, got %+v", r.messages)
	}
	if r.messages[n-1].Kind != control.KindEnd {
		t.Fatalf("last message must be the end marker, got %+v", r.messages[n-1])
	}
	term := r.messages[n-2]
	if !term.IsTerminal() || term.Snapshot.State != want {
		t.Fatalf("expected %s terminal before end, got %+v", want, term)
	}
	terminals := 0
	for _, m := range r.messages {
		if m.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal snapshot, got %d", terminals)
	}
	if r.state != want {
		t.Fatalf("Run returned %s, want %s", r.state, want)
	}
	return *term.Snapshot
}

func TestRun_TextToDelimited(t *testing.T) {
	dir := t.TempDir()
	job := writeInput(t, dir, "note.txt", "line one\nline two\n")
	outDir := t.TempDir()
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "delim_txt",
		Options:  format.Options{"output_dir": outDir},
		Settings: testSettings(),
	}

	res := run(t, spec, testRegistry(0, false), make(chan model.Directive))
	final := assertTerminalThenEnd(t, res, model.StateFinished)

	want := []model.State{model.StateReading, model.StateWriting, model.StateFinished}
	if fmt.Sprint(res.states()) != fmt.Sprint(want) {
		t.Fatalf("expected states %v, got %v", want, res.states())
	}
	if final.BytesDone != job.SizeBytes || final.RecordsDone != 1 {
		t.Fatalf("unexpected final progress %+v", final)
	}
	if final.StartedAt == nil {
		t.Fatalf("expected start time on final snapshot")
	}
	data, err := os.ReadFile(final.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "===\nline one\nline two\n" {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	dir := t.TempDir()
	var body strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&body, "*** %d\nrecord %d\n", i, i)
	}
	job := writeInput(t, dir, "batch.txt", body.String())
	settings := testSettings()
	settings.ReportRate = 3
	spec := Spec{
		Job:      job,
		Reader:   "delim_txt",
		Writer:   "txt",
		Options:  format.Options{"output_dir": t.TempDir(), "sep_delim": "***"},
		Settings: settings,
	}

	res := run(t, spec, testRegistry(0, false), make(chan model.Directive))
	final := assertTerminalThenEnd(t, res, model.StateFinished)
	if final.RecordsDone != 50 {
		t.Fatalf("expected 50 records, got %d", final.RecordsDone)
	}
	var last int64
	for _, s := range res.snapshots() {
		if s.BytesDone < last {
			t.Fatalf("bytes_done went backwards: %d after %d", s.BytesDone, last)
		}
		last = s.BytesDone
	}
	if res.states()[0] != model.StateRunning {
		t.Fatalf("streaming reader should start in running, got %v", res.states())
	}
}

func TestRun_EmptyInputIsConstructionError(t *testing.T) {
	job := writeInput(t, t.TempDir(), "empty.txt", "")
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "txt",
		Options:  format.Options{"output_dir": t.TempDir()},
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(0, false), make(chan model.Directive))
	final := assertTerminalThenEnd(t, res, model.StateError)
	if final.Error == nil || final.Error.Kind != model.ErrorConstruction {
		t.Fatalf("expected construction error, got %+v", final.Error)
	}
	for _, s := range res.states() {
		if s == model.StateReading || s == model.StateRunning {
			t.Fatalf("construction failure must not enter %s", s)
		}
	}
}

func TestRun_CancelBeforeFirstRecord(t *testing.T) {
	job := writeInput(t, t.TempDir(), "note.txt", "hello\n")
	outDir := t.TempDir()
	directives := make(chan model.Directive, 1)
	directives <- model.DirectiveCancel
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "delim_txt",
		Options:  format.Options{"output_dir": outDir},
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(0, false), directives)
	assertTerminalThenEnd(t, res, model.StateCancelled)

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("cancelled job must not leave partial output, found %d files", len(entries))
	}
}

func TestRun_ClosedDirectiveStreamCancels(t *testing.T) {
	job := writeInput(t, t.TempDir(), "note.txt", "hello\n")
	directives := make(chan model.Directive)
	close(directives)
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "txt",
		Options:  format.Options{"output_dir": t.TempDir()},
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(0, false), directives)
	assertTerminalThenEnd(t, res, model.StateCancelled)
}

func TestRun_PauseThenResume(t *testing.T) {
	job := writeInput(t, t.TempDir(), "batch.txt", "--\na\n--\nb\n--\nc\n")
	directives := make(chan model.Directive, 4)
	directives <- model.DirectivePause
	directives <- model.DirectiveResume
	spec := Spec{
		Job:      job,
		Reader:   "delim_txt",
		Writer:   "delim_txt",
		Options:  format.Options{"output_dir": t.TempDir(), "sep_delim": "--"},
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(0, false), directives)
	final := assertTerminalThenEnd(t, res, model.StateFinished)
	if final.RecordsDone != 3 {
		t.Fatalf("expected all records after resume, got %d", final.RecordsDone)
	}

	states := res.states()
	want := []model.State{model.StateRunning, model.StatePaused, model.StateRunning, model.StateWriting, model.StateFinished}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
}

const epicNotes = "NOTE_ID\tAUTHOR\tNOTE_TEXT\n" +
	"1\tdr a\tfirst note\n" +
	"2\tdr b\tsecond note\n"

func epicSpec(t *testing.T) Spec {
	t.Helper()
	job := writeInput(t, t.TempDir(), "epic.txt", "\n\n"+epicNotes)
	settings := testSettings()
	settings.ReportRate = 1
	return Spec{
		Job:      job,
		Reader:   "epic",
		Writer:   "delim_txt",
		Options:  format.Options{"output_dir": t.TempDir()},
		Settings: settings,
	}
}

func TestRun_CancelWhileReadingHeader(t *testing.T) {
	directives := make(chan model.Directive, 1)
	directives <- model.DirectiveCancel
	res := run(t, epicSpec(t), testRegistry(0, false), directives)
	final := assertTerminalThenEnd(t, res, model.StateCancelled)
	if final.Error != nil {
		t.Fatalf("cancelled job must not carry an error, got %+v", final.Error)
	}
	for _, s := range res.states() {
		if s == model.StateRunning || s == model.StateReading {
			t.Fatalf("cancel during construction must not enter %s", s)
		}
	}
}

func TestRun_PauseWhileReadingHeaderIsApplied(t *testing.T) {
	directives := make(chan model.Directive, 2)
	directives <- model.DirectivePause
	go func() {
		time.Sleep(100 * time.Millisecond)
		directives <- model.DirectiveResume
	}()
	res := run(t, epicSpec(t), testRegistry(0, false), directives)
	final := assertTerminalThenEnd(t, res, model.StateFinished)
	if final.RecordsDone != 2 {
		t.Fatalf("expected both notes after resume, got %d", final.RecordsDone)
	}
	states := fmt.Sprint(res.states())
	if !strings.Contains(states, "running paused running") {
		t.Fatalf("expected the early pause to take effect once running, got %s", states)
	}
}

type gatedWriter struct {
	gate <-chan struct{}
}

func (w *gatedWriter) Write(format.Record) (string, error) {
	<-w.gate
	return "/dev/null", nil
}

func (w *gatedWriter) Close() error { return nil }

func TestRun_PauseHoldsProgressUntilResume(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 20; i++ {
		body.WriteString("--\n")
		body.WriteString(strings.Repeat("x", 8000))
		body.WriteString("\n")
	}
	job := writeInput(t, t.TempDir(), "big.txt", body.String())
	settings := testSettings()
	settings.ReportRate = 1

	gate := make(chan struct{})
	reg := testRegistry(0, false)
	reg.AddWriter(format.WriterFormat{
		Name: "gated",
		Create: func(format.Destination) (format.Writer, error) {
			return &gatedWriter{gate: gate}, nil
		},
	})
	spec := Spec{
		Job:      job,
		Reader:   "delim_txt",
		Writer:   "gated",
		Options:  format.Options{"output_dir": t.TempDir(), "sep_delim": "--"},
		Settings: settings,
	}

	pr, pw := io.Pipe()
	msgs := make(chan control.Message, 4096)
	go func() {
		defer close(msgs)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1<<24)
		for sc.Scan() {
			var m control.Message
			if json.Unmarshal(sc.Bytes(), &m) == nil {
				msgs <- m
			}
		}
	}()

	directives := make(chan model.Directive, 1)
	done := make(chan model.State, 1)
	go func() {
		out := control.NewOutbox(pw, settings.OutboxSize)
		state := New(spec, reg, out, directives).Run(context.Background())
		_ = out.Close()
		_ = pw.Close()
		done <- state
	}()

	for i := 0; i < 3; i++ {
		gate <- struct{}{}
	}
	directives <- model.DirectivePause

	var pausedAt int64
	deadline := time.After(5 * time.Second)
	for paused := false; !paused; {
		select {
		case gate <- struct{}{}:
		case m := <-msgs:
			if m.Kind == control.KindSnapshot && m.Snapshot.State == model.StatePaused {
				paused = true
				pausedAt = m.Snapshot.BytesDone
			}
		case <-deadline:
			t.Fatalf("worker never reported paused")
		}
	}
	if pausedAt <= 0 || pausedAt >= job.SizeBytes {
		t.Fatalf("expected a pause mid-stream, paused at %d of %d", pausedAt, job.SizeBytes)
	}

	select {
	case gate <- struct{}{}:
		t.Fatalf("writer was called while paused")
	case <-time.After(100 * time.Millisecond):
	}
	for drained := false; !drained; {
		select {
		case m := <-msgs:
			if m.Kind == control.KindSnapshot && m.Snapshot.BytesDone > pausedAt {
				t.Fatalf("bytes_done advanced while paused: %d > %d", m.Snapshot.BytesDone, pausedAt)
			}
		default:
			drained = true
		}
	}

	directives <- model.DirectiveResume
	close(gate)

	select {
	case state := <-done:
		if state != model.StateFinished {
			t.Fatalf("expected finished, got %s", state)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not finish after resume")
	}

	last := pausedAt
	advanced := false
	for m := range msgs {
		if m.Kind != control.KindSnapshot {
			continue
		}
		s := m.Snapshot
		if s.BytesDone < last {
			t.Fatalf("bytes_done went backwards after resume: %d < %d", s.BytesDone, last)
		}
		if s.State == model.StateRunning && s.BytesDone > pausedAt {
			advanced = true
		}
		last = s.BytesDone
	}
	if !advanced {
		t.Fatalf("bytes_done never advanced past %d after resume", pausedAt)
	}
}

func TestRun_PauseThenCancel(t *testing.T) {
	job := writeInput(t, t.TempDir(), "note.txt", "hello\n")
	directives := make(chan model.Directive, 4)
	directives <- model.DirectivePause
	go func() {
		time.Sleep(20 * time.Millisecond)
		directives <- model.DirectiveCancel
	}()
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "txt",
		Options:  format.Options{"output_dir": t.TempDir()},
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(0, false), directives)
	assertTerminalThenEnd(t, res, model.StateCancelled)
}

func TestRun_WriterErrorFlushesWarningsFirst(t *testing.T) {
	job := writeInput(t, t.TempDir(), "batch.txt", "--\na\n--\nb\n--\nc\n")
	spec := Spec{
		Job:      job,
		Reader:   "delim_txt",
		Writer:   "failing",
		Options:  format.Options{"sep_delim": "--"},
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(2, false), make(chan model.Directive))
	final := assertTerminalThenEnd(t, res, model.StateError)
	if final.Error == nil || final.Error.Kind != model.ErrorRuntime || final.Error.Message != "disk full" {
		t.Fatalf("unexpected error %+v", final.Error)
	}
	if final.Error.Stack == "" {
		t.Fatalf("expected a stack trace on runtime errors")
	}
	if got := len(res.warnings()); got != 2 {
		t.Fatalf("expected 2 warnings flushed, got %d", got)
	}
	n := len(res.messages)
	if res.messages[n-3].Kind != control.KindWarnings {
		t.Fatalf("warnings must be flushed right before the terminal snapshot, got %+v", res.messages[n-3])
	}
}

func TestRun_PanicBecomesError(t *testing.T) {
	job := writeInput(t, t.TempDir(), "note.txt", "hello\n")
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "failing",
		Settings: testSettings(),
	}
	res := run(t, spec, testRegistry(1, true), make(chan model.Directive))
	final := assertTerminalThenEnd(t, res, model.StateError)
	if !strings.Contains(final.Error.Message, "writer exploded") {
		t.Fatalf("expected panic value in message, got %q", final.Error.Message)
	}
}

func TestRun_WarningsAreBatched(t *testing.T) {
	body := "NOTE_ID\tNOTE_TEXT\n1\n2\n3\n4\ta\n5\n"
	job := writeInput(t, t.TempDir(), "epic.txt", body)
	settings := testSettings()
	settings.WarningBatchSize = 2
	spec := Spec{
		Job:      job,
		Reader:   "epic",
		Writer:   "delim_txt",
		Options:  format.Options{"output_dir": t.TempDir()},
		Settings: settings,
	}
	res := run(t, spec, testRegistry(0, false), make(chan model.Directive))
	assertTerminalThenEnd(t, res, model.StateFinished)

	var batches []int
	for _, m := range res.messages {
		if m.Kind == control.KindWarnings {
			batches = append(batches, len(m.Warnings))
		}
	}
	if fmt.Sprint(batches) != "[2 2]" {
		t.Fatalf("expected two full batches, got %v", batches)
	}
	lines := []int{}
	for _, w := range res.warnings() {
		lines = append(lines, w.Line)
	}
	if fmt.Sprint(lines) != "[2 3 4 6]" {
		t.Fatalf("warnings out of order: %v", lines)
	}
}

func TestRun_UnknownFormat(t *testing.T) {
	job := writeInput(t, t.TempDir(), "note.txt", "x\n")
	spec := Spec{Job: job, Reader: "pdf", Writer: "txt", Settings: testSettings()}
	res := run(t, spec, testRegistry(0, false), make(chan model.Directive))
	final := assertTerminalThenEnd(t, res, model.StateError)
	if final.Error.Kind != model.ErrorConstruction {
		t.Fatalf("expected construction error, got %+v", final.Error)
	}
}

func TestServe_RoundTrip(t *testing.T) {
	job := writeInput(t, t.TempDir(), "note.txt", "hello\n")
	spec := Spec{
		Job:      job,
		Reader:   "txt",
		Writer:   "txt",
		Options:  format.Options{"output_dir": t.TempDir()},
		Settings: testSettings(),
	}

	inR, inW := io.Pipe()
	defer inW.Close()
	var out bytes.Buffer
	done := make(chan model.State, 1)
	go func() {
		state, err := Serve(context.Background(), testRegistry(0, false), inR, &out)
		if err != nil {
			t.Errorf("serve: %v", err)
		}
		done <- state
	}()
	if err := WriteSpec(inW, spec); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	select {
	case state := <-done:
		if state != model.StateFinished {
			t.Fatalf("expected finished, got %s", state)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not finish")
	}
	msgs := decode(t, out.Bytes())
	if msgs[len(msgs)-1].Kind != control.KindEnd {
		t.Fatalf("expected end marker last")
	}
}

func TestServe_RejectsBadSpec(t *testing.T) {
	if _, err := Serve(context.Background(), testRegistry(0, false), strings.NewReader("{nope\n"), io.Discard); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := Serve(context.Background(), testRegistry(0, false), strings.NewReader(""), io.Discard); err == nil {
		t.Fatalf("expected read error on empty input")
	}
}

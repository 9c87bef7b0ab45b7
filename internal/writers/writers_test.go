package writers

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"canary-convert/internal/config"
	"canary-convert/internal/format"
)

type collected struct {
	msgs  []string
	lines []int
}

func (c *collected) add(msg string, line int) {
	c.msgs = append(c.msgs, msg)
	c.lines = append(c.lines, line)
}

func destination(t *testing.T, opts format.Options, warn *collected) format.Destination {
	t.Helper()
	dst := format.Destination{
		Options:   opts,
		Settings:  config.Default().Settings,
		OutputDir: t.TempDir(),
		BaseName:  "notes.txt",
	}
	if warn != nil {
		dst.Warn = warn.add
	}
	return dst
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func rec(fields map[string]string, lines ...string) format.Record {
	return format.Record{Lines: lines, Fields: fields, Line: 1}
}

func TestTXT_OneFilePerRecord(t *testing.T) {
	dst := destination(t, format.Options{}, nil)
	w, err := TXT.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// an existing file must not be overwritten
	if err := os.WriteFile(filepath.Join(dst.OutputDir, "notes (2).txt"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	p1, err := w.Write(rec(nil, "first\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	p2, err := w.Write(rec(nil, "second\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if filepath.Base(p1) != "notes (1).txt" || filepath.Base(p2) != "notes (2) (1).txt" {
		t.Fatalf("unexpected output names %q %q", p1, p2)
	}
	if readFile(t, p2) != "second\n" {
		t.Fatalf("unexpected content %q", readFile(t, p2))
	}
	if readFile(t, filepath.Join(dst.OutputDir, "notes (2).txt")) != "keep" {
		t.Fatalf("existing file was overwritten")
	}
}

func TestTXT_ShapingOptions(t *testing.T) {
	dst := destination(t, format.Options{"lowercase": true, "ignore_blank_lines": true}, nil)
	w, err := TXT.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path, err := w.Write(rec(nil, "HELLO World\n", "\n", "  \n", "Bye\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFile(t, path); got != "hello world\nbye\n" {
		t.Fatalf("unexpected shaped text %q", got)
	}
}

func TestTXT_TextWrap(t *testing.T) {
	shaping := textShaping{wrap: 10}
	got := shaping.document([]string{"the quick brown fox jumps\n"})
	for _, line := range strings.Split(strings.TrimRight(got, "\n"), "\n") {
		if len(line) > 10 {
			t.Fatalf("line %q exceeds wrap width in %q", line, got)
		}
	}
	if strings.Join(strings.Fields(got), " ") != "the quick brown fox jumps" {
		t.Fatalf("wrap changed words: %q", got)
	}
}

func TestTXT_InvalidOutputDir(t *testing.T) {
	dst := destination(t, format.Options{}, nil)
	dst.OutputDir = filepath.Join(dst.OutputDir, "missing")
	if _, err := TXT.Create(dst); err == nil || !strings.Contains(err.Error(), "invalid output location") {
		t.Fatalf("expected invalid output location, got %v", err)
	}
}

func TestDelimTXT_SingleFileWithDelimiters(t *testing.T) {
	dst := destination(t, format.Options{"concat_delim": "###"}, nil)
	w, err := DelimTXT.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write(rec(nil, "a\n")); err != nil {
		t.Fatal(err)
	}
	path, err := w.Write(rec(nil, "b\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if filepath.Base(path) != "notes.txt" {
		t.Fatalf("unexpected path %q", path)
	}
	if got := readFile(t, path); got != "###\na\n###\nb\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestDelimTXT_AbortRemovesPartialFile(t *testing.T) {
	dst := destination(t, format.Options{}, nil)
	w, err := DelimTXT.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path, err := w.Write(rec(nil, "partial\n"))
	if err != nil {
		t.Fatal(err)
	}
	w.(format.Aborter).Abort()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected partial output removed, stat err=%v", err)
	}
}

func TestDelimTXT_Latin1Output(t *testing.T) {
	dst := destination(t, format.Options{"w_encoding": "latin1"}, nil)
	w, err := DelimTXT.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path, err := w.Write(rec(nil, "café\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := readFile(t, path); got != "===\ncaf\xe9\n" {
		t.Fatalf("unexpected encoded bytes %q", got)
	}
}

func TestCanary_AutodetectsIDField(t *testing.T) {
	dst := destination(t, format.Options{"id_field": "Autodetect"}, nil)
	w, err := Canary.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path, err := w.Write(rec(map[string]string{"note_id": "N-17", "author": "dr a"}, "text\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, path); got != "N-17*|#*|#*|#1*|#*|#*|#\ntext\n" {
		t.Fatalf("unexpected canary output %q", got)
	}
}

func TestCanary_FallsBackToTimestampID(t *testing.T) {
	var warn collected
	dst := destination(t, format.Options{"id_field": "record_id"}, &warn)
	w, err := Canary.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r := rec(map[string]string{"filename": "x.txt"}, "body\n")
	r.Line = 12
	path, err := w.Write(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if len(warn.msgs) != 1 || !strings.HasPrefix(warn.msgs[0], "Could not find record ID, using ") || warn.lines[0] != 12 {
		t.Fatalf("expected missing ID warning on line 12, got %v %v", warn.msgs, warn.lines)
	}
	if !regexp.MustCompile(`^\d{18}\*\|#`).MatchString(readFile(t, path)) {
		t.Fatalf("expected timestamp id delimiter, got %q", readFile(t, path))
	}
}

func TestCanary_TimeFieldFromAutodetect(t *testing.T) {
	var warn collected
	dst := destination(t, format.Options{}, &warn)
	w, err := Canary.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write(rec(map[string]string{"filename": "x.txt"}, "body\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if len(warn.msgs) != 0 {
		t.Fatalf("*time ids are generated without warnings, got %v", warn.msgs)
	}
}

func TestXLSX_RowsPerRecord(t *testing.T) {
	var warn collected
	dst := destination(t, format.Options{}, &warn)
	w, err := XLSX.Create(dst)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write(rec(map[string]string{"note_id": "1", "author": "a"}, "line one\n", "line two\n")); err != nil {
		t.Fatal(err)
	}
	path, err := w.Write(rec(map[string]string{"note_id": "2", "author": "b", "extra": "x"}, "second\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if filepath.Base(path) != "notes.xlsx" {
		t.Fatalf("unexpected path %q", path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %v", rows)
	}
	if strings.Join(rows[0], ",") != "author,note_id,text" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][2] != "line one\nline two" || rows[2][1] != "2" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if len(warn.msgs) != 1 || !strings.Contains(warn.msgs[0], "extra") {
		t.Fatalf("expected dropped field warning, got %v", warn.msgs)
	}
}

func TestRegister(t *testing.T) {
	reg := format.NewRegistry()
	Register(reg)
	for _, name := range []string{"txt", "delim_txt", "canary", "xlsx", "excel"} {
		if _, err := reg.Writer(name); err != nil {
			t.Fatalf("writer %s not registered: %v", name, err)
		}
	}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"canary-convert/internal/model"
	"canary-convert/internal/runstore"
)

const cliHelperEnv = "CANARY_CLI_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(cliHelperEnv) == "1" {
		if err := Run(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperRequest(t *testing.T) convertRequest {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	return convertRequest{
		Pairs:      map[string]string{},
		ConfigPath: filepath.Join(t.TempDir(), "missing.ini"),
		Progress:   "none",
		Quiet:      true,
		WorkerPath: exe,
		WorkerArgs: []string{workerCommand},
		WorkerEnv:  []string{cliHelperEnv + "=1"},
	}
}

func writeInputs(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHarnessConvertFolderToDelimited(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeInputs(t, in, map[string]string{
		"a.txt":     "first note\n",
		"b.txt":     "second note\nmore\n",
		"skip.csv":  "ignored",
		"sub/c.txt": "only with subdirs\n",
	})

	req := helperRequest(t)
	req.InputFormat = "txt"
	req.OutputFormat = "delim_txt"
	req.InputDir = in
	req.OutputDir = out
	req.OutputFilename = "notes"

	res, err := convert(context.Background(), req)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	jobs := res.Summary.Jobs
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %+v", jobs)
	}
	for _, j := range jobs {
		if j.State != model.StateFinished {
			t.Fatalf("job %s ended %s: %+v", j.SourcePath, j.State, j.Error)
		}
		if _, err := os.Stat(j.OutputPath); err != nil {
			t.Fatalf("missing output for %s: %v", j.SourcePath, err)
		}
	}
	if filepath.Base(jobs[0].OutputPath) != "notes (1).txt" {
		t.Fatalf("unexpected output name %s", jobs[0].OutputPath)
	}

	var saved runstore.Summary
	if err := runstore.ReadJSON(res.SummaryPath, &saved); err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if saved.Counts()[model.StateFinished] != 2 || saved.Cancelled {
		t.Fatalf("unexpected saved summary %+v", saved)
	}

	logData, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	for _, want := range []string{"Found 2 files", "Conversion complete"} {
		if !strings.Contains(string(logData), want) {
			t.Fatalf("run log missing %q:\n%s", want, logData)
		}
	}
	if _, err := os.Stat(filepath.Join(out, ".canary-convert.lock")); !os.IsNotExist(err) {
		t.Fatalf("output lock was not released: %v", err)
	}
}

func TestHarnessConvertReportsConstructionErrors(t *testing.T) {
	in := t.TempDir()
	writeInputs(t, in, map[string]string{"export.txt": "single\nvalue\n"})

	req := helperRequest(t)
	req.InputFormat = "epic"
	req.OutputFormat = "txt"
	req.InputFile = filepath.Join(in, "export.txt")
	req.OutputDir = t.TempDir()

	res, err := convert(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 file(s) failed") {
		t.Fatalf("expected job failure error, got %v", err)
	}
	j := res.Summary.Jobs[0]
	if j.State != model.StateError || j.Error == nil || j.Error.Kind != model.ErrorConstruction {
		t.Fatalf("expected construction error, got %+v", j)
	}
}

func TestConvertRejectsLockedOutputDir(t *testing.T) {
	in := t.TempDir()
	writeInputs(t, in, map[string]string{"a.txt": "x\n"})
	out := t.TempDir()
	lock, err := runstore.AcquireOutputLock(out)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = lock.Release()
	}()

	req := helperRequest(t)
	req.InputFormat = "txt"
	req.OutputFormat = "txt"
	req.InputFile = filepath.Join(in, "a.txt")
	req.OutputDir = out
	if _, err := convert(context.Background(), req); err == nil || !strings.Contains(err.Error(), "in use") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestConvertRejectsBadSelections(t *testing.T) {
	in := t.TempDir()
	writeInputs(t, in, map[string]string{"a.txt": "x\n"})
	cases := []struct {
		name string
		edit func(*convertRequest)
		want string
	}{
		{"unknown reader", func(r *convertRequest) { r.InputFormat = "pdf" }, "pdf"},
		{"unknown writer", func(r *convertRequest) { r.OutputFormat = "docx" }, "docx"},
		{"no inputs", func(r *convertRequest) { r.InputFile = ""; r.InputDir = t.TempDir() }, "could not open any files"},
		{"no output dir", func(r *convertRequest) { r.OutputDir = "" }, "output_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := helperRequest(t)
			req.InputFormat = "txt"
			req.OutputFormat = "txt"
			req.InputFile = filepath.Join(in, "a.txt")
			req.OutputDir = t.TempDir()
			tc.edit(&req)
			_, err := convert(context.Background(), req)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

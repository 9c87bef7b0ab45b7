package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"canary-convert/internal/config"
	"canary-convert/internal/discovery"
	"canary-convert/internal/format"
	"canary-convert/internal/model"
	"canary-convert/internal/monitor"
	"canary-convert/internal/runstore"
	"canary-convert/internal/scheduler"
	"canary-convert/internal/worker"
)

type convertRequest struct {
	InputFormat    string
	OutputFormat   string
	InputFile      string
	InputDir       string
	Recursive      bool
	OutputDir      string
	OutputFilename string
	Processes      int
	Pairs          map[string]string
	OptionsFile    string
	ConfigPath     string
	Progress       string
	Quiet          bool
	JSON           bool
	// WorkerPath overrides the executable started for each job.
	WorkerPath string
	WorkerArgs []string
	WorkerEnv  []string
}

type convertResult struct {
	Summary     runstore.Summary `json:"summary"`
	SummaryPath string           `json:"summary_path"`
	LogPath     string           `json:"log_path,omitempty"`
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	req := convertRequest{Pairs: optionPairs{}}
	fs.StringVar(&req.InputFormat, "input-format", "", "input format (see: canary-convert formats)")
	fs.StringVar(&req.InputFormat, "i", "", "shorthand for --input-format")
	fs.StringVar(&req.OutputFormat, "output-format", "", "output format (see: canary-convert formats)")
	fs.StringVar(&req.OutputFormat, "o", "", "shorthand for --output-format")
	fs.StringVar(&req.InputFile, "input-file", "", "convert a single file")
	fs.StringVar(&req.InputDir, "input-dir", "", "convert every matching file in a folder")
	inputSubdir := fs.String("input-dir-subdir", "", "convert every matching file in a folder and its subfolders")
	fs.StringVar(&req.OutputDir, "output-dir", "", "folder for the converted files, the run log and the summary")
	fs.StringVar(&req.OutputFilename, "output-filename", "", "output file name (numbered per file for folder inputs)")
	fs.IntVar(&req.Processes, "processes", 0, "number of worker processes (0 = CPUs - 1)")
	fs.Var(optionPairs(req.Pairs), "opt", "format option as name=value (repeatable)")
	fs.StringVar(&req.OptionsFile, "options", "", "JSON file with format options")
	fs.StringVar(&req.ConfigPath, "config", config.DefaultFileName, "settings file")
	fs.StringVar(&req.Progress, "progress", "auto", "progress display: auto|tui|plain|none")
	fs.BoolVar(&req.Quiet, "quiet", false, "only print errors")
	fs.BoolVar(&req.JSON, "json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(*inputSubdir) != "" {
		if strings.TrimSpace(req.InputDir) != "" {
			return errors.New("use either --input-dir or --input-dir-subdir")
		}
		req.InputDir = *inputSubdir
		req.Recursive = true
	}

	res, err := convert(context.Background(), req)
	if res != nil {
		if req.JSON {
			if perr := printJSON(res); perr != nil {
				return perr
			}
		} else if !req.Quiet {
			printConvertSummary(*res)
		}
	}
	return err
}

func convert(parent context.Context, req convertRequest) (*convertResult, error) {
	cfg, err := config.Load(req.ConfigPath)
	if err != nil {
		return nil, err
	}
	reg := newRegistry()
	rf, err := reg.Reader(req.InputFormat)
	if err != nil {
		return nil, err
	}
	wf, err := reg.Writer(req.OutputFormat)
	if err != nil {
		return nil, err
	}

	var fileOpts format.Options
	if path := strings.TrimSpace(req.OptionsFile); path != "" {
		if fileOpts, err = readOptionsFile(path); err != nil {
			return nil, err
		}
	}
	opts, err := resolveOptions(rf, wf, fileOpts, req.Pairs, req.OutputDir, req.OutputFilename)
	if err != nil {
		return nil, err
	}
	outputDir := opts.String("output_dir")

	found, err := discovery.Discover(discovery.Options{
		InputFile:         req.InputFile,
		InputDir:          req.InputDir,
		InputDirRecursive: req.Recursive,
		Extensions:        rf.Extensions,
		OutputFilename:    opts.String("output_filename"),
	})
	if err != nil {
		return nil, err
	}

	if err := runstore.Mkdir(outputDir); err != nil {
		return nil, err
	}
	lock, err := runstore.AcquireOutputLock(outputDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release()
	}()

	mode := pickRenderer(req)
	console := newConsoleLogger(req.Quiet || req.JSON || mode == renderTUI)

	startedAt := time.Now()
	stamp := runstore.Stamp(startedAt, cfg.LogfileTimestamp)
	runLog := runstore.DiscardLog()
	if cfg.CreateLogfile {
		if runLog, err = runstore.OpenRunLog(runstore.RunLogPath(outputDir, stamp)); err != nil {
			return nil, err
		}
	}
	defer runLog.Close()

	runLog.WithFields(logrus.Fields{
		"input_format":  rf.Name,
		"output_format": wf.Name,
		"options":       opts,
		"processes":     req.Processes,
	}).Info("Conversion started")
	runLog.Infof("Found %d files", len(found.Jobs))

	launcher, err := newLauncher(req, cfg, rf.Name, wf.Name, opts, console)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Options{
		PollInterval:  cfg.PollInterval,
		GracePeriod:   cfg.GracePeriod,
		ChannelBuffer: cfg.ChannelBuffer,
		Preflight:     preflight(rf, opts, cfg.Settings),
	}, launcher, console)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	events, err := sched.Submit(ctx, found.Jobs, req.Processes)
	if err != nil {
		return nil, err
	}
	tracker := monitor.NewTracker(runLog)
	tracker.Start(events)

	if err := render(mode, tracker, sched, cfg.RefreshInterval); err != nil {
		console.WithError(err).Error("progress display failed")
		sched.Cancel()
	}
	batch := tracker.Wait()

	summary := runstore.Summary{
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
		Elapsed:      batch.Elapsed.Round(time.Millisecond).String(),
		InputFormat:  rf.Name,
		OutputFormat: wf.Name,
		Input:        found.Root,
		OutputDir:    outputDir,
		Cancelled:    batch.Cancelled,
		TotalBytes:   found.TotalBytes,
		Jobs:         tracker.JobSummaries(),
	}
	if batch.Err != nil {
		summary.Error = batch.Err.Error()
	}
	res := &convertResult{Summary: summary, SummaryPath: runstore.SummaryPath(outputDir, stamp), LogPath: runLog.Path}
	if err := runstore.WriteSummary(res.SummaryPath, summary); err != nil {
		return res, err
	}

	switch {
	case batch.Err != nil:
		return res, batch.Err
	case batch.Cancelled:
		return res, scheduler.ErrCancelled
	}
	if n := summary.Counts()[model.StateError]; n > 0 {
		return res, fmt.Errorf("%d of %d file(s) failed to convert", n, len(summary.Jobs))
	}
	return res, nil
}

// resolveOptions layers the options file, --opt pairs and the dedicated flags, then
// fills defaults and validates against everything the two formats accept.
func resolveOptions(rf format.ReaderFormat, wf format.WriterFormat, fileOpts format.Options, pairs map[string]string, outputDir, outputFilename string) (format.Options, error) {
	specs := format.MergeOptions(format.CommonReaderOptions, rf.Options, format.CommonWriterOptions, wf.Options)
	coerced, err := format.Coerce(pairs, specs)
	if err != nil {
		return nil, err
	}
	opts := format.Options{}
	for k, v := range fileOpts {
		opts[k] = v
	}
	for k, v := range coerced {
		opts[k] = v
	}
	if dir := strings.TrimSpace(outputDir); dir != "" {
		opts["output_dir"] = dir
	}
	if name := strings.TrimSpace(outputFilename); name != "" {
		opts["output_filename"] = name
	}
	opts = format.ApplyDefaults(opts, specs)
	if err := format.Validate(opts, specs); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.String("output_dir")) == "" {
		return nil, errors.New("invalid output location: --output-dir is required")
	}
	for _, name := range []string{"r_encoding", "w_encoding"} {
		if err := format.ValidateEncoding(opts.String(name)); err != nil {
			return nil, fmt.Errorf("option %s: %w", name, err)
		}
	}
	return opts, nil
}

// preflight opens every input once in the controller so construction errors are
// reported without spending a worker process.
func preflight(rf format.ReaderFormat, opts format.Options, settings config.Settings) func(model.Job) error {
	return func(job model.Job) error {
		r, err := rf.Open(format.Source{Path: job.SourcePath, Options: opts, Settings: settings})
		if err != nil {
			return err
		}
		return r.Close()
	}
}

func newLauncher(req convertRequest, cfg config.Config, reader, writer string, opts format.Options, console *logrus.Logger) (*scheduler.ExecLauncher, error) {
	path := strings.TrimSpace(req.WorkerPath)
	args := req.WorkerArgs
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		path = exe
		args = []string{workerCommand}
	}
	return &scheduler.ExecLauncher{
		Path: path,
		Args: args,
		Env:  req.WorkerEnv,
		Spec: func(job model.Job) worker.Spec {
			return worker.Spec{Job: job, Reader: reader, Writer: writer, Options: opts, Settings: cfg.Settings}
		},
		StderrLine: func(job model.Job, line string) {
			console.WithField("job_id", job.ID).Debug(line)
		},
	}, nil
}

func newConsoleLogger(quietMode bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if quietMode {
		l.SetLevel(logrus.ErrorLevel)
	} else {
		l.SetLevel(logrus.WarnLevel)
	}
	return l
}

func printConvertSummary(res convertResult) {
	s := res.Summary
	counts := s.Counts()
	fmt.Printf("converted %d/%d file(s) | errors %d | cancelled %d | elapsed %s\n",
		counts[model.StateFinished], len(s.Jobs), counts[model.StateError], counts[model.StateCancelled], s.Elapsed)
	for _, j := range s.Jobs {
		if j.Error != nil {
			fmt.Printf("  error %s: %s\n", j.SourcePath, j.Error.Message)
		}
	}
	printPathLine(os.Stdout, "summary", res.SummaryPath)
	printPathLine(os.Stdout, "log", res.LogPath)
}

func printPathLine(w io.Writer, label, path string) {
	if path != "" {
		fmt.Fprintf(w, "%s: %s\n", label, path)
	}
}

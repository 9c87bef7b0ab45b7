package cli

import (
	"flag"
	"fmt"
	"strings"

	"canary-convert/internal/config"
)

func runConfig(args []string) error {
	if len(args) == 0 {
		printConfigUsage()
		return nil
	}
	switch args[0] {
	case "init":
		return runConfigInit(args[1:])
	case "show":
		return runConfigShow(args[1:])
	case "help", "-h", "--help":
		printConfigUsage()
		return nil
	default:
		printConfigUsage()
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

func runConfigInit(args []string) error {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	path := fs.String("config", config.DefaultFileName, "settings file to create")
	force := fs.Bool("force", false, "overwrite an existing file")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	target := strings.TrimSpace(*path)
	if err := config.WriteDefault(target, *force); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", target)
	return nil
}

func runConfigShow(args []string) error {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	path := fs.String("config", config.DefaultFileName, "settings file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*path))
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(cfg)
	}

	fmt.Printf("config: %s\n", firstNonEmpty(cfg.Path, "(defaults)"))
	fmt.Printf("create_logfile: %t\n", cfg.CreateLogfile)
	fmt.Printf("logfile_timestamp: %s\n", cfg.LogfileTimestamp)
	fmt.Printf("poll_interval: %s\n", cfg.PollInterval)
	fmt.Printf("grace_period: %s\n", cfg.GracePeriod)
	fmt.Printf("channel_buffer: %d\n", cfg.ChannelBuffer)
	fmt.Printf("refresh_interval: %s\n", cfg.RefreshInterval)
	s := cfg.Settings
	fmt.Printf("report_rate: %d\n", s.ReportRate)
	fmt.Printf("check_every: %d\n", s.CheckEvery)
	fmt.Printf("warning_batch_size: %d\n", s.WarningBatchSize)
	fmt.Printf("outbox_size: %d\n", s.OutboxSize)
	fmt.Printf("output_buffer_size: %d\n", s.OutputBufferSize)
	fmt.Printf("canary_id_fields: %s\n", strings.Join(s.CanaryIDFields, ", "))
	fmt.Printf("epic_text_fields: %s\n", strings.Join(s.EpicTextFields, ", "))
	fmt.Printf("epic_id_fields: %s\n", strings.Join(s.EpicIDFields, ", "))
	return nil
}

func printConfigUsage() {
	fmt.Println("Usage:")
	fmt.Println("  canary-convert config init [--config canary-convert.ini] [--force]")
	fmt.Println("  canary-convert config show [--config canary-convert.ini] [--json]")
}

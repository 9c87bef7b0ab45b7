package cli

import (
	"flag"
	"fmt"
	"strings"

	"canary-convert/internal/format"
)

type formatInfo struct {
	Name        string          `json:"name"`
	Aliases     []string        `json:"aliases,omitempty"`
	Description string          `json:"description,omitempty"`
	Extensions  []string        `json:"extensions,omitempty"`
	Options     []format.Option `json:"options"`
}

type formatsReport struct {
	Readers       []formatInfo    `json:"readers"`
	Writers       []formatInfo    `json:"writers"`
	ReaderOptions []format.Option `json:"common_reader_options"`
	WriterOptions []format.Option `json:"common_writer_options"`
}

func runFormats(args []string) error {
	fs := flag.NewFlagSet("formats", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	report := listFormats(newRegistry())
	if *jsonOut {
		return printJSON(report)
	}

	fmt.Println("Input formats:")
	for _, f := range report.Readers {
		printFormat(f)
	}
	fmt.Println("  options for every input format:")
	printOptions(report.ReaderOptions)
	fmt.Println()
	fmt.Println("Output formats:")
	for _, f := range report.Writers {
		printFormat(f)
	}
	fmt.Println("  options for every output format:")
	printOptions(report.WriterOptions)
	return nil
}

func listFormats(reg *format.Registry) formatsReport {
	report := formatsReport{
		ReaderOptions: format.CommonReaderOptions,
		WriterOptions: format.CommonWriterOptions,
	}
	for _, r := range reg.Readers() {
		report.Readers = append(report.Readers, formatInfo{
			Name:        r.Name,
			Aliases:     r.Aliases,
			Description: r.Description,
			Extensions:  r.Extensions,
			Options:     nonNil(r.Options),
		})
	}
	for _, w := range reg.Writers() {
		report.Writers = append(report.Writers, formatInfo{
			Name:        w.Name,
			Aliases:     w.Aliases,
			Description: w.Description,
			Options:     nonNil(w.Options),
		})
	}
	return report
}

func nonNil(opts []format.Option) []format.Option {
	if opts == nil {
		return []format.Option{}
	}
	return opts
}

func printFormat(f formatInfo) {
	name := f.Name
	if len(f.Aliases) > 0 {
		name += " (" + strings.Join(f.Aliases, ", ") + ")"
	}
	fmt.Printf("  %-28s %s\n", name, f.Description)
	printOptions(f.Options)
}

func printOptions(opts []format.Option) {
	for _, o := range opts {
		line := fmt.Sprintf("      --opt %s=<%s>", o.Name, o.Type)
		var notes []string
		if o.Required {
			notes = append(notes, "required")
		}
		if o.Default != nil {
			notes = append(notes, fmt.Sprintf("default %v", o.Default))
		}
		if len(notes) > 0 {
			line += " [" + strings.Join(notes, ", ") + "]"
		}
		if o.Help != "" {
			line += "  " + o.Help
		}
		fmt.Println(line)
	}
}

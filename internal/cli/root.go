package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "convert":
		return runConvert(args[1:])
	case "formats":
		return runFormats(args[1:])
	case "config":
		return runConfig(args[1:])
	case workerCommand:
		return runWorker(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("canary-convert: batch converter for clinical text exports")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  canary-convert formats")
	fmt.Println("  canary-convert convert -i txt -o canary --input-dir notes/ --output-dir out/")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  convert   convert a file or a folder of files, one worker process per file")
	fmt.Println("  formats   list input and output formats with their options")
	fmt.Println("  config    init|show the canary-convert.ini settings file")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Format options are passed as --opt name=value (repeatable) or --options <file.json>")
	fmt.Println("  - Press p/r/c in the live view to pause, resume or cancel; Ctrl+C cancels")
	fmt.Println("  - Use --json on commands for machine-readable output")
}

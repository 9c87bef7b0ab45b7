package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"canary-convert/internal/worker"
)

// workerCommand is the hidden subcommand the scheduler starts for every job.
const workerCommand = "worker"

func runWorker(args []string) error {
	fs := flag.NewFlagSet(workerCommand, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Ctrl+C reaches the whole process group; only the controller decides to cancel.
	signal.Ignore(os.Interrupt)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	_, err := worker.Serve(ctx, newRegistry(), os.Stdin, os.Stdout)
	return err
}

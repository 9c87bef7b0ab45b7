//go:build unix

package scheduler

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// terminate asks the worker to stop; it reports its own cancellation on SIGTERM.
func terminate(p *os.Process) error {
	if err := unix.Kill(p.Pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate worker %d: %w", p.Pid, err)
	}
	return nil
}

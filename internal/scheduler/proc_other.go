//go:build !unix

package scheduler

import (
	"errors"
	"os"
)

// terminate falls back to a hard kill where there is no polite stop signal.
func terminate(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

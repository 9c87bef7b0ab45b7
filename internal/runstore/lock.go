package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockDirName   = ".canary-convert.lock"
	lockOwnerFile = "owner.json"
)

// OutputLock keeps a second batch from writing into the same output directory.
type OutputLock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireOutputLock(outputDir string) (OutputLock, error) {
	target := strings.TrimSpace(outputDir)
	if target == "" {
		return OutputLock{}, fmt.Errorf("output directory is required")
	}

	dir := filepath.Join(target, lockDirName)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if !os.IsExist(err) {
			return OutputLock{}, fmt.Errorf("lock output directory %s: %w", target, err)
		}
		var owner lockOwner
		if readErr := ReadJSON(filepath.Join(dir, lockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
			return OutputLock{}, fmt.Errorf(
				"output directory %s is in use by another conversion (pid=%d since %s on %s)",
				target, owner.PID, owner.CreatedAt, owner.Hostname,
			)
		}
		return OutputLock{}, fmt.Errorf("output directory %s is in use by another conversion", target)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostname(),
	}
	if err := WriteJSON(filepath.Join(dir, lockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(dir)
		return OutputLock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return OutputLock{dir: dir}, nil
}

func (l OutputLock) Release() error {
	if l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release output lock %s: %w", l.dir, err)
	}
	return nil
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}

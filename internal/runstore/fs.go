// Package runstore owns everything a batch leaves behind in its output directory
// besides the converted files: the lock, the run log and the batch summary.
package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const filePrefix = "canary_conversion_"

// Mkdir creates an output directory, reporting failures as an invalid location.
func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("invalid output location %s: %w", path, err)
	}
	return nil
}

// Stamp formats t with the configured log file layout.
func Stamp(t time.Time, layout string) string {
	if layout == "" {
		layout = "2006-01-02-15.04.05"
	}
	return t.Format(layout)
}

func RunLogPath(outputDir, stamp string) string {
	return filepath.Join(outputDir, filePrefix+stamp+".log")
}

func SummaryPath(outputDir, stamp string) string {
	return filepath.Join(outputDir, filePrefix+stamp+".summary.json")
}

// WriteBytes replaces path atomically through a temp file in the same directory.
func WriteBytes(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".canary-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	return WriteBytes(path, append(data, '\n'))
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

// Package discovery turns the user's input selection into job descriptors.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"canary-convert/internal/model"
)

var ErrNoInputs = errors.New("could not open any files")

type Options struct {
	InputFile         string
	InputDir          string
	InputDirRecursive bool
	// Extensions limits directory inputs; empty accepts every regular file.
	Extensions     []string
	OutputFilename string
}

type Result struct {
	Jobs       []model.Job
	TotalBytes int64
	// Root is the input file or directory the jobs came from.
	Root string
}

// Discover builds one job per input file in lexicographic path order.
func Discover(opts Options) (Result, error) {
	file := strings.TrimSpace(opts.InputFile)
	dir := strings.TrimSpace(opts.InputDir)
	switch {
	case file != "" && dir != "":
		return Result{}, fmt.Errorf("choose either an input file or an input directory, not both")
	case file == "" && dir == "":
		return Result{}, fmt.Errorf("an input file or input directory is required")
	}

	var paths []string
	root := file
	if file != "" {
		info, err := os.Stat(file)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrNoInputs, file, err)
		}
		if !info.Mode().IsRegular() {
			return Result{}, fmt.Errorf("%w: %s is not a regular file", ErrNoInputs, file)
		}
		paths = []string{file}
	} else {
		root = dir
		found, err := listDir(dir, opts.InputDirRecursive, opts.Extensions)
		if err != nil {
			return Result{}, err
		}
		if len(found) == 0 {
			return Result{}, fmt.Errorf("%w in %s", ErrNoInputs, dir)
		}
		paths = found
	}

	res := Result{Root: root, Jobs: make([]model.Job, 0, len(paths))}
	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return Result{}, fmt.Errorf("stat %s: %w", path, err)
		}
		job := model.Job{
			ID:         uuid.NewString(),
			SourcePath: path,
			SizeBytes:  info.Size(),
			OutputHint: outputHint(opts.OutputFilename, i, len(paths)),
		}
		res.Jobs = append(res.Jobs, job)
		res.TotalBytes += job.SizeBytes
	}
	return res, nil
}

func listDir(dir string, recursive bool, exts []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("could not open files in input directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input directory %s is not a directory", dir)
	}

	var out []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("could not open files in input directory %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && accepted(e.Name(), exts) {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(out)
		return out, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && accepted(d.Name(), exts) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not open files in input directory %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

func accepted(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

func outputHint(name string, index, total int) string {
	name = strings.TrimSpace(name)
	if name == "" || total <= 1 {
		return name
	}
	return fmt.Sprintf("%s (%d)", name, index+1)
}

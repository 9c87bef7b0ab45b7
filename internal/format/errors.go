package format

import (
	"fmt"
	"os"
)

type SourceErrorKind string

const (
	SourceMissing SourceErrorKind = "missing"
	SourceInvalid SourceErrorKind = "invalid"
	SourceEmpty   SourceErrorKind = "empty"
)

// SourceError reports an input that cannot be read in the requested format.
type SourceError struct {
	Kind SourceErrorKind
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	switch e.Kind {
	case SourceMissing:
		if e.Err != nil {
			return fmt.Sprintf("not a valid file path: %s: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("not a valid file path: %s", e.Path)
	case SourceEmpty:
		return fmt.Sprintf("file has no content: %s", e.Path)
	default:
		return fmt.Sprintf("invalid input %s: %v", e.Path, e.Err)
	}
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func Invalid(path string, format string, args ...any) error {
	return &SourceError{Kind: SourceInvalid, Path: path, Err: fmt.Errorf(format, args...)}
}

// OpenSource opens path for reading, classifying the usual failures.
func OpenSource(path string) (*os.File, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, &SourceError{Kind: SourceMissing, Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, nil, &SourceError{Kind: SourceMissing, Path: path}
	}
	if info.Size() == 0 {
		return nil, nil, &SourceError{Kind: SourceEmpty, Path: path}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &SourceError{Kind: SourceMissing, Path: path, Err: err}
	}
	return f, info, nil
}

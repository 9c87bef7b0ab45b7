package format

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// SafePath returns path, or the first "name (N).ext" variant that does not exist yet.
func SafePath(path string) string {
	if !exists(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

// WithExt replaces the extension of name with ext, appending it when name has none.
func WithExt(name, ext string) string {
	ext = "." + strings.TrimPrefix(ext, ".")
	current := filepath.Ext(name)
	if strings.EqualFold(current, ext) {
		return name
	}
	if current != "" && !strings.Contains(current, " ") {
		name = strings.TrimSuffix(name, current)
	}
	return name + ext
}

// Numbered inserts " (n)" before the extension of name.
func Numbered(name string, n int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"canary-convert/internal/format"
	"canary-convert/internal/readers"
	"canary-convert/internal/writers"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func newRegistry() *format.Registry {
	reg := format.NewRegistry()
	readers.Register(reg)
	writers.Register(reg)
	return reg
}

// optionPairs collects repeated --opt name=value flags.
type optionPairs map[string]string

func (o optionPairs) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+o[k])
	}
	return strings.Join(parts, ",")
}

func (o optionPairs) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	o[name] = value
	return nil
}

// readOptionsFile loads a JSON object of format options.
func readOptionsFile(path string) (format.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options file %s: %w", path, err)
	}
	var opts format.Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("parse options file %s: %w", path, err)
	}
	return opts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

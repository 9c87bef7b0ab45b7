package format

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

type ReaderFunc func(src Source) (Reader, error)

type WriterFunc func(dst Destination) (Writer, error)

type ReaderFormat struct {
	Name        string
	Aliases     []string
	Description string
	Extensions  []string
	Options     []Option
	Open        ReaderFunc
}

// Accepts reports whether path has one of the reader's extensions.
func (f ReaderFormat) Accepts(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range f.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

type WriterFormat struct {
	Name        string
	Aliases     []string
	Description string
	Options     []Option
	Create      WriterFunc
}

// Registry maps format names and aliases to their implementations.
type Registry struct {
	readers map[string]ReaderFormat
	writers map[string]WriterFormat
	rNames  []string
	wNames  []string
}

func NewRegistry() *Registry {
	return &Registry{
		readers: map[string]ReaderFormat{},
		writers: map[string]WriterFormat{},
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) AddReader(f ReaderFormat) {
	r.rNames = append(r.rNames, f.Name)
	for _, name := range append([]string{f.Name}, f.Aliases...) {
		r.readers[normalizeName(name)] = f
	}
}

func (r *Registry) AddWriter(f WriterFormat) {
	r.wNames = append(r.wNames, f.Name)
	for _, name := range append([]string{f.Name}, f.Aliases...) {
		r.writers[normalizeName(name)] = f
	}
}

func (r *Registry) Reader(name string) (ReaderFormat, error) {
	f, ok := r.readers[normalizeName(name)]
	if !ok {
		return ReaderFormat{}, fmt.Errorf("unknown input format %q (available: %s)", name, strings.Join(r.sortedReaders(), ", "))
	}
	return f, nil
}

func (r *Registry) Writer(name string) (WriterFormat, error) {
	f, ok := r.writers[normalizeName(name)]
	if !ok {
		return WriterFormat{}, fmt.Errorf("unknown output format %q (available: %s)", name, strings.Join(r.sortedWriters(), ", "))
	}
	return f, nil
}

func (r *Registry) Readers() []ReaderFormat {
	out := make([]ReaderFormat, 0, len(r.rNames))
	for _, name := range r.sortedReaders() {
		out = append(out, r.readers[normalizeName(name)])
	}
	return out
}

func (r *Registry) Writers() []WriterFormat {
	out := make([]WriterFormat, 0, len(r.wNames))
	for _, name := range r.sortedWriters() {
		out = append(out, r.writers[normalizeName(name)])
	}
	return out
}

func (r *Registry) sortedReaders() []string {
	names := append([]string(nil), r.rNames...)
	sort.Strings(names)
	return names
}

func (r *Registry) sortedWriters() []string {
	names := append([]string(nil), r.wNames...)
	sort.Strings(names)
	return names
}

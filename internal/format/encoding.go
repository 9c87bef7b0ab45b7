package format

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

func isUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf8", "utf-8", "utf_8":
		return true
	}
	return false
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	enc, err := htmlindex.Get(trimmed)
	if err != nil {
		enc, err = htmlindex.Get(strings.ReplaceAll(trimmed, "_", "-"))
	}
	if err != nil {
		return nil, fmt.Errorf("unsupported text encoding %q", name)
	}
	return enc, nil
}

// ValidateEncoding reports whether name is an encoding Decode and Encode accept.
func ValidateEncoding(name string) error {
	if isUTF8(name) {
		return nil
	}
	_, err := lookupEncoding(name)
	return err
}

// Decode wraps r so it yields UTF-8. UTF-8 input is validated rather than repaired.
func Decode(r io.Reader, name string) (io.Reader, error) {
	if isUTF8(name) {
		return transform.NewReader(r, encoding.UTF8Validator), nil
	}
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Encode wraps w so UTF-8 text written to it is stored in the named encoding. Close
// flushes the encoder but leaves w open.
func Encode(w io.Writer, name string) (io.WriteCloser, error) {
	if isUTF8(name) {
		return nopWriteCloser{w}, nil
	}
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return transform.NewWriter(w, enc.NewEncoder()), nil
}

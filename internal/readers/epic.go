package readers

import (
	"io"
	"strings"

	"canary-convert/internal/format"
)

const autodetect = "autodetect"

var Epic = format.ReaderFormat{
	Name:        "epic",
	Aliases:     []string{"epic_text"},
	Description: `Tab-delimited text exports from the Epic medical record software (".txt"). Consecutive rows sharing an ID form one record.`,
	Extensions:  []string{"txt"},
	Options: format.MergeOptions([]format.Option{
		{
			Name:    "epic_id",
			Label:   "Epic ID Field",
			Type:    format.TypeString,
			Default: "Autodetect",
			Help:    "Column that distinguishes records. Autodetect tries the configured ID columns in order.",
		},
		{
			Name:    "create_header",
			Label:   "Create Record Headers",
			Type:    format.TypeBool,
			Default: true,
			Help:    "Start every record with a line holding its non-text columns.",
		},
	}, format.CommonReaderOptions),
	Open: openEpic,
}

type epicRow struct {
	values map[string]string
	line   int
}

type epicReader struct {
	*base
	fields    []string
	textField string
	idField   string
	header    bool
	pending   *epicRow
}

func openEpic(src format.Source) (format.Reader, error) {
	b, err := openBase(src)
	if err != nil {
		return nil, err
	}
	r := &epicReader{base: b, header: true}
	if _, ok := src.Options["create_header"]; ok {
		r.header = src.Options.Bool("create_header")
	}
	if err := r.readHeader(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return r, nil
}

func (r *epicReader) readHeader() error {
	for {
		line, err := r.sc.Next()
		if err == io.EOF {
			return &format.SourceError{Kind: format.SourceEmpty, Path: r.src.Path}
		}
		if err != nil {
			return format.Invalid(r.src.Path, "%w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, field := range strings.Split(line, "\t") {
			r.fields = append(r.fields, strings.ToLower(strings.TrimSpace(field)))
		}
		break
	}
	if len(r.fields) <= 1 {
		return format.Invalid(r.src.Path, "not a valid Epic text file")
	}

	for _, candidate := range r.src.Settings.EpicTextFields {
		if r.hasField(candidate) {
			r.textField = strings.ToLower(candidate)
			break
		}
	}
	if r.textField == "" {
		return format.Invalid(r.src.Path, "could not determine the file's text field")
	}

	choice := strings.ToLower(strings.TrimSpace(r.src.Options.String("epic_id")))
	if choice == "" || choice == autodetect {
		for _, candidate := range r.src.Settings.EpicIDFields {
			if strings.EqualFold(candidate, autodetect) {
				continue
			}
			if r.hasField(candidate) {
				r.idField = strings.ToLower(candidate)
				break
			}
		}
		if r.idField == "" {
			return format.Invalid(r.src.Path, "could not determine the file's ID field")
		}
		return nil
	}
	if !r.hasField(choice) {
		return format.Invalid(r.src.Path, "ID field %q is not in the file header", choice)
	}
	r.idField = choice
	return nil
}

func (r *epicReader) hasField(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range r.fields {
		if f == name {
			return true
		}
	}
	return false
}

func (r *epicReader) parse(line string) *epicRow {
	values := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(values) != len(r.fields) {
		r.src.Warnf(r.sc.Line(), "Line does not match header")
	}
	row := &epicRow{values: make(map[string]string, len(r.fields)), line: r.sc.Line()}
	for i, field := range r.fields {
		if i < len(values) {
			row.values[field] = strings.TrimSpace(values[i])
		} else {
			row.values[field] = ""
		}
	}
	return row
}

func (r *epicReader) headerLine(row *epicRow) string {
	parts := make([]string, 0, len(r.fields))
	for _, field := range r.fields {
		if field == r.textField {
			continue
		}
		parts = append(parts, row.values[field])
	}
	return strings.Join(parts, "\t") + "\n"
}

func (r *epicReader) Next() (format.Record, error) {
	first := r.pending
	r.pending = nil
	for first == nil {
		line, err := r.sc.Next()
		if err == io.EOF {
			return format.Record{}, io.EOF
		}
		if err != nil {
			return format.Record{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		first = r.parse(line)
	}

	var lines []string
	if r.header {
		lines = append(lines, r.headerLine(first))
	}
	lines = append(lines, first.values[r.textField]+"\n")

	for {
		line, err := r.sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return format.Record{}, err
		}
		if strings.TrimSpace(line) == "" {
			lines = append(lines, line)
			continue
		}
		row := r.parse(line)
		if row.values[r.idField] != first.values[r.idField] {
			r.pending = row
			break
		}
		lines = append(lines, row.values[r.textField]+"\n")
	}

	rec := r.record(lines, first.line)
	for field, value := range first.values {
		if field != r.textField {
			rec.Fields[field] = value
		}
	}
	return rec, nil
}

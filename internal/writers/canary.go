package writers

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"canary-convert/internal/format"
)

const (
	defaultCanaryDelim = "*|#*|#*|#1*|#*|#*|#"
	timeIDField        = "*time"
)

var Canary = format.WriterFormat{
	Name:        "canary",
	Description: `The delimited ".txt" format read by the Canary information extraction tool.`,
	Options: format.MergeOptions([]format.Option{
		{
			Name:    "id_field",
			Label:   "Field for Record ID",
			Type:    format.TypeString,
			Default: "Autodetect",
			Help:    "Metadata field that identifies each record. Autodetect tries the configured fields in order; *time generates an ID.",
		},
		{
			Name:    "canary_delim",
			Label:   "Delimiter",
			Type:    format.TypeString,
			Default: defaultCanaryDelim,
			Help:    "Text following the record ID on each delimiter line.",
		},
	}, format.CommonWriterOptions),
	Create: createCanary,
}

type canaryWriter struct {
	*delimWriter
	dst      format.Destination
	delim    string
	idField  string
	resolved bool
}

func createCanary(dst format.Destination) (format.Writer, error) {
	w := &canaryWriter{
		dst:     dst,
		delim:   dst.Options.String("canary_delim"),
		idField: strings.ToLower(strings.TrimSpace(dst.Options.String("id_field"))),
	}
	if w.delim == "" {
		w.delim = defaultCanaryDelim
	}
	if w.idField != "" && w.idField != "autodetect" {
		w.resolved = true
	}
	dw, err := newDelimWriter(dst, w.delimiterFor)
	if err != nil {
		return nil, err
	}
	w.delimWriter = dw
	return w, nil
}

// resolve picks the ID field from the first record's metadata.
func (w *canaryWriter) resolve(rec format.Record) {
	w.resolved = true
	w.idField = ""
	for _, candidate := range w.dst.Settings.CanaryIDFields {
		field := strings.ToLower(strings.TrimSpace(candidate))
		if field == "autodetect" {
			continue
		}
		if strings.HasPrefix(field, "*") {
			if field == timeIDField {
				w.idField = field
			}
			return
		}
		if _, ok := rec.Fields[field]; ok {
			w.idField = field
			return
		}
	}
}

func (w *canaryWriter) delimiterFor(rec format.Record) string {
	if !w.resolved {
		w.resolve(rec)
	}
	if w.idField == timeIDField {
		return timestampID(time.Now()) + w.delim
	}
	if id := strings.TrimSpace(lookupField(rec.Fields, w.idField)); id != "" {
		return id + w.delim
	}
	generated := timestampID(time.Now())
	w.dst.Warnf(rec.Line, fmt.Sprintf("Could not find record ID, using %s instead", generated))
	return generated + w.delim
}

func lookupField(fields map[string]string, name string) string {
	if name == "" {
		return ""
	}
	if v, ok := fields[name]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// timestampID builds an ID from the wall clock and a random six digit suffix.
// Uniqueness is likely, not guaranteed.
func timestampID(now time.Time) string {
	return fmt.Sprintf("%s%06d%d", now.Format("150405"), now.Nanosecond()/1000, 100000+rand.Intn(900000))
}

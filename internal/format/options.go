package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Options holds the user supplied settings for a reader/writer pair.
type Options map[string]any

func (o Options) String(name string) string {
	switch v := o[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (o Options) Bool(name string) bool {
	switch v := o[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (o Options) Int(name string) int {
	switch v := o[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

type OptionType string

const (
	TypeString OptionType = "string"
	TypeBool   OptionType = "bool"
	TypeInt    OptionType = "int"
)

// Option declares one setting a format accepts.
type Option struct {
	Name     string     `json:"name"`
	Label    string     `json:"label"`
	Type     OptionType `json:"type"`
	Default  any        `json:"default,omitempty"`
	Required bool       `json:"required,omitempty"`
	Help     string     `json:"help,omitempty"`
}

func (o Option) jsonType() string {
	switch o.Type {
	case TypeBool:
		return "boolean"
	case TypeInt:
		return "integer"
	default:
		return "string"
	}
}

// MergeOptions concatenates option lists, later declarations of a name replacing
// earlier ones.
func MergeOptions(lists ...[]Option) []Option {
	index := map[string]int{}
	var out []Option
	for _, list := range lists {
		for _, opt := range list {
			if i, ok := index[opt.Name]; ok {
				out[i] = opt
				continue
			}
			index[opt.Name] = len(out)
			out = append(out, opt)
		}
	}
	return out
}

// Schema renders specs as a JSON Schema object.
func Schema(specs []Option) ([]byte, error) {
	props := map[string]any{}
	required := []string{}
	for _, spec := range specs {
		prop := map[string]any{"type": spec.jsonType()}
		if spec.Help != "" {
			prop["description"] = spec.Help
		}
		if spec.Type == TypeInt {
			prop["minimum"] = 0
		}
		props[spec.Name] = prop
		if spec.Required {
			required = append(required, spec.Name)
		}
	}
	sort.Strings(required)
	return json.Marshal(map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
}

// Validate checks opts against specs.
func Validate(opts Options, specs []Option) error {
	schema, err := Schema(specs)
	if err != nil {
		return fmt.Errorf("build options schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("options.json", strings.NewReader(string(schema))); err != nil {
		return fmt.Errorf("load options schema: %w", err)
	}
	compiled, err := compiler.Compile("options.json")
	if err != nil {
		return fmt.Errorf("compile options schema: %w", err)
	}

	// round trip so the validator only sees plain JSON values
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// ApplyDefaults returns a copy of opts with every unset option that has a default filled in.
func ApplyDefaults(opts Options, specs []Option) Options {
	out := Options{}
	for k, v := range opts {
		out[k] = v
	}
	for _, spec := range specs {
		if _, ok := out[spec.Name]; ok || spec.Default == nil {
			continue
		}
		out[spec.Name] = spec.Default
	}
	return out
}

// Coerce converts raw key=value strings into typed options. Unknown names are kept as
// strings so validation can reject them.
func Coerce(raw map[string]string, specs []Option) (Options, error) {
	types := map[string]OptionType{}
	for _, spec := range specs {
		types[spec.Name] = spec.Type
	}
	out := Options{}
	for name, value := range raw {
		switch types[name] {
		case TypeBool:
			b, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("option %s: expected true or false, got %q", name, value)
			}
			out[name] = b
		case TypeInt:
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("option %s: expected an integer, got %q", name, value)
			}
			out[name] = n
		default:
			out[name] = value
		}
	}
	return out, nil
}

// Package schema describes tool input shapes as a closed set of JSON-schema
// constructs. A Schema validates decoded tool arguments before dispatch and
// renders itself as a JSON Schema document for tool manifests. Validation is
// delegated to github.com/google/jsonschema-go.
package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Kind selects the variant of a Schema.
type Kind int

const (
	KindObject Kind = iota + 1
	KindString
	KindInteger
	KindNumber
	KindBoolean
	KindArray
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return "array"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// FormatDate constrains a string to YYYY-MM-DD.
const FormatDate = "date"

// Schema is one node of an input schema. Only the fields relevant to Kind
// are consulted.
type Schema struct {
	Kind        Kind
	Description string

	// object
	Properties map[string]*Schema
	Required   []string

	// string
	Format    string
	MinLength int
	MaxLength int

	// integer, number
	Minimum *float64
	Maximum *float64

	// array
	Items    *Schema
	MaxItems int

	// enum
	Values []string

	once       sync.Once
	compiled   *node
	compileErr error
}

// Props is the property set of an object schema.
type Props map[string]*Schema

// Object returns an object schema with the given properties.
func Object(props Props, required ...string) *Schema {
	return &Schema{Kind: KindObject, Properties: props, Required: required}
}

// String returns a string schema.
func String(description string) *Schema {
	return &Schema{Kind: KindString, Description: description}
}

// Date returns a YYYY-MM-DD string schema.
func Date(description string) *Schema {
	return &Schema{Kind: KindString, Description: description, Format: FormatDate}
}

// Integer returns an integer schema.
func Integer(description string) *Schema {
	return &Schema{Kind: KindInteger, Description: description}
}

// Number returns a number schema.
func Number(description string) *Schema {
	return &Schema{Kind: KindNumber, Description: description}
}

// Boolean returns a boolean schema.
func Boolean(description string) *Schema {
	return &Schema{Kind: KindBoolean, Description: description}
}

// Array returns an array schema.
func Array(items *Schema, description string) *Schema {
	return &Schema{Kind: KindArray, Items: items, Description: description}
}

// Enum returns a string enum schema.
func Enum(description string, values ...string) *Schema {
	return &Schema{Kind: KindEnum, Description: description, Values: values}
}

// Range bounds a numeric schema. It returns s for chaining.
func (s *Schema) Range(lo, hi float64) *Schema {
	s.Minimum = &lo
	s.Maximum = &hi
	return s
}

// Min sets only the lower bound of a numeric schema.
func (s *Schema) Min(lo float64) *Schema {
	s.Minimum = &lo
	return s
}

// Length bounds a string schema. A zero max leaves it unbounded.
func (s *Schema) Length(lo, hi int) *Schema {
	s.MinLength = lo
	s.MaxLength = hi
	return s
}

// Limit caps the length of an array schema.
func (s *Schema) Limit(n int) *Schema {
	s.MaxItems = n
	return s
}

// ViolationError reports the first argument that does not match.
type ViolationError struct {
	Path   string
	Reason string
}

func (e *ViolationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Compile resolves the schema tree with jsonschema-go. It runs once per
// Schema; Validate compiles on first use when Compile was not called.
func (s *Schema) Compile() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		s.compiled, s.compileErr = compile(s)
	})
	return s.compileErr
}

// Validate checks decoded tool arguments against an object schema. A nil
// args map is treated as empty and a null optional property as absent.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	if s.Kind != KindObject {
		return &ViolationError{Reason: "tool arguments must be an object schema"}
	}
	if err := s.Compile(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return s.compiled.validate("", args)
}

// node is one compiled Schema. resolved holds only the node's own keywords;
// the walk descends into properties and items itself so a violation can
// name the offending argument.
type node struct {
	kind     Kind
	format   string
	required []string
	resolved *jsonschema.Resolved
	props    map[string]*node
	items    *node
}

func compile(s *Schema) (*node, error) {
	resolved, err := s.render(false).Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve %s schema: %w", s.Kind, err)
	}
	n := &node{
		kind:     s.Kind,
		format:   s.Format,
		required: s.Required,
		resolved: resolved,
	}
	switch s.Kind {
	case KindObject:
		n.props = make(map[string]*node, len(s.Properties))
		for name, prop := range s.Properties {
			child, err := compile(prop)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			n.props[name] = child
		}
	case KindArray:
		if s.Items != nil {
			if n.items, err = compile(s.Items); err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
		}
	}
	return n, nil
}

func (n *node) validate(path string, v any) error {
	if obj, ok := v.(map[string]any); ok && n.kind == KindObject {
		v = present(obj)
	}
	if err := n.resolved.Validate(v); err != nil {
		return &ViolationError{Path: n.locate(path, v), Reason: reason(err)}
	}
	switch n.kind {
	case KindObject:
		obj, _ := v.(map[string]any)
		for _, name := range sortedKeys(obj) {
			if err := n.props[name].validate(join(path, name), obj[name]); err != nil {
				return err
			}
		}
	case KindArray:
		if n.items == nil {
			return nil
		}
		arr, _ := v.([]any)
		for i, item := range arr {
			if err := n.items.validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case KindString:
		if n.format == FormatDate {
			str, _ := v.(string)
			if _, err := time.Parse(time.DateOnly, str); err != nil {
				return &ViolationError{Path: path, Reason: "expected date in YYYY-MM-DD format"}
			}
		}
	}
	return nil
}

// locate narrows an object-level failure to the first missing required
// property, then to the first unknown one.
func (n *node) locate(path string, v any) string {
	obj, ok := v.(map[string]any)
	if !ok || n.kind != KindObject {
		return path
	}
	for _, name := range n.required {
		if _, ok := obj[name]; !ok {
			return join(path, name)
		}
	}
	for _, name := range sortedKeys(obj) {
		if _, ok := n.props[name]; !ok {
			return join(path, name)
		}
	}
	return path
}

// present drops null members so they read as absent.
func present(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for name, val := range obj {
		if val != nil {
			out[name] = val
		}
	}
	return out
}

func sortedKeys(obj map[string]any) []string {
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reason strips the schema location jsonschema-go prefixes to each error.
func reason(err error) string {
	msg := err.Error()
	for {
		rest, ok := strings.CutPrefix(msg, "validating ")
		if !ok {
			return msg
		}
		_, after, found := strings.Cut(rest, ": ")
		if !found {
			return msg
		}
		msg = after
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// JSONSchema renders s as a JSON Schema document.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	if s == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return s.render(true)
}

// render builds the document for s. A shallow render leaves properties
// unconstrained and drops items.
func (s *Schema) render(deep bool) *jsonschema.Schema {
	out := &jsonschema.Schema{Description: s.Description}
	switch s.Kind {
	case KindObject:
		out.Type = "object"
		out.Properties = make(map[string]*jsonschema.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			if deep {
				out.Properties[name] = prop.render(true)
			} else {
				out.Properties[name] = &jsonschema.Schema{}
			}
		}
		if len(s.Required) > 0 {
			out.Required = slices.Clone(s.Required)
		}
		out.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	case KindString:
		out.Type = "string"
		out.Format = s.Format
		if s.MinLength > 0 {
			n := s.MinLength
			out.MinLength = &n
		}
		if s.MaxLength > 0 {
			n := s.MaxLength
			out.MaxLength = &n
		}
	case KindInteger, KindNumber:
		out.Type = s.Kind.String()
		out.Minimum = s.Minimum
		out.Maximum = s.Maximum
	case KindBoolean:
		out.Type = "boolean"
	case KindArray:
		out.Type = "array"
		if s.Items != nil && deep {
			out.Items = s.Items.render(true)
		}
		if s.MaxItems > 0 {
			n := s.MaxItems
			out.MaxItems = &n
		}
	case KindEnum:
		out.Type = "string"
		for _, v := range s.Values {
			out.Enum = append(out.Enum, v)
		}
	}
	return out
}

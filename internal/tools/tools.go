// Package tools holds the immutable registry of executable tools. The
// registry joins the embedded catalog (names, categories, descriptions and
// required levels) with executor bindings (handlers and input schemas) and
// refuses to build when the two disagree.
package tools

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/schema"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the embedded catalog document.
func DefaultCatalog() []byte {
	return slices.Clone(defaultCatalog)
}

// ErrRegistry is wrapped by every registry construction failure.
var ErrRegistry = errors.New("tools: invalid registry")

// Call is one dispatch of a tool on behalf of a user.
type Call struct {
	UserID string
	Args   Args
}

// Handler executes a tool. The returned value is encoded as the tool result.
type Handler func(ctx context.Context, call Call) (any, error)

// Binding attaches an executor to a catalog entry.
type Binding struct {
	Input   *schema.Schema
	Handler Handler
}

// Definition is an immutable registry entry.
type Definition struct {
	Name        string
	ShortName   string
	Category    string
	Description string
	Input       *schema.Schema
	Level       permission.Level
	Handler     Handler
}

// RequiredLevel implements permission.Gated.
func (d Definition) RequiredLevel() permission.Level {
	return d.Level
}

// CategoryInfo describes one category.
type CategoryInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tools       int    `json:"toolCount"`
}

type catalogDocument struct {
	Categories []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Tools       []struct {
			Name        string `yaml:"name"`
			ShortName   string `yaml:"short_name"`
			Level       string `yaml:"level"`
			Description string `yaml:"description"`
		} `yaml:"tools"`
	} `yaml:"categories"`
}

// Registry is read-only after NewRegistry returns.
type Registry struct {
	byName     map[string]Definition
	byCategory map[string][]Definition
	categories []CategoryInfo
	all        []Definition
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// NewRegistry parses catalog and joins it with bindings.
func NewRegistry(catalog []byte, bindings map[string]Binding) (*Registry, error) {
	var doc catalogDocument
	dec := yaml.NewDecoder(bytes.NewReader(catalog))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %w", ErrRegistry, err)
	}
	r := &Registry{
		byName:     make(map[string]Definition),
		byCategory: make(map[string][]Definition),
	}
	for _, cat := range doc.Categories {
		if !namePattern.MatchString(cat.Name) {
			return nil, fmt.Errorf("%w: invalid category name %q", ErrRegistry, cat.Name)
		}
		if _, dup := r.byCategory[cat.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrRegistry, cat.Name)
		}
		if len(cat.Tools) == 0 {
			return nil, fmt.Errorf("%w: category %q has no tools", ErrRegistry, cat.Name)
		}
		defs := make([]Definition, 0, len(cat.Tools))
		for _, entry := range cat.Tools {
			if !namePattern.MatchString(entry.Name) {
				return nil, fmt.Errorf("%w: invalid tool name %q", ErrRegistry, entry.Name)
			}
			if _, dup := r.byName[entry.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate tool %q", ErrRegistry, entry.Name)
			}
			if strings.TrimSpace(entry.Description) == "" {
				return nil, fmt.Errorf("%w: tool %q has no description", ErrRegistry, entry.Name)
			}
			level, err := permission.ParseLevel(entry.Level)
			if err != nil {
				return nil, fmt.Errorf("%w: tool %q: %w", ErrRegistry, entry.Name, err)
			}
			binding, ok := bindings[entry.Name]
			if !ok || binding.Handler == nil {
				return nil, fmt.Errorf("%w: tool %q has no executor binding", ErrRegistry, entry.Name)
			}
			if binding.Input == nil || binding.Input.Kind != schema.KindObject {
				return nil, fmt.Errorf("%w: tool %q needs an object input schema", ErrRegistry, entry.Name)
			}
			if err := binding.Input.Compile(); err != nil {
				return nil, fmt.Errorf("%w: tool %q: %w", ErrRegistry, entry.Name, err)
			}
			def := Definition{
				Name:        entry.Name,
				ShortName:   entry.ShortName,
				Category:    cat.Name,
				Description: strings.TrimSpace(entry.Description),
				Input:       binding.Input,
				Level:       level,
				Handler:     binding.Handler,
			}
			r.byName[def.Name] = def
			defs = append(defs, def)
			r.all = append(r.all, def)
		}
		r.byCategory[cat.Name] = defs
		r.categories = append(r.categories, CategoryInfo{Name: cat.Name, Description: cat.Description, Tools: len(defs)})
	}
	var orphans []string
	for name := range bindings {
		if _, ok := r.byName[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return nil, fmt.Errorf("%w: bindings without catalog entry: %s", ErrRegistry, strings.Join(orphans, ", "))
	}
	return r, nil
}

// Lookup returns the definition named name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// RequiredLevel implements permission.Requirements.
func (r *Registry) RequiredLevel(name string) (permission.Level, bool) {
	def, ok := r.byName[name]
	return def.Level, ok
}

// Category returns the tools of one category in catalog order.
func (r *Registry) Category(name string) ([]Definition, bool) {
	defs, ok := r.byCategory[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(defs), true
}

// Categories lists categories in catalog order.
func (r *Registry) Categories() []CategoryInfo {
	return slices.Clone(r.categories)
}

// CategoryNames lists category names in catalog order.
func (r *Registry) CategoryNames() []string {
	names := make([]string, len(r.categories))
	for i, c := range r.categories {
		names[i] = c.Name
	}
	return names
}

// All returns every definition in catalog order.
func (r *Registry) All() []Definition {
	return slices.Clone(r.all)
}

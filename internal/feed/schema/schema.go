// Package schema validates lead documents against versioned schema definitions.
//
// Definitions are YAML documents compiled once per version and cached in an
// immutable map that is replaced wholesale, never edited, so readers can use
// it without locks.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// Mode selects how much of the schema is enforced.
type Mode int

const (
	// Strict rejects undeclared elements and attributes and checks formats.
	Strict Mode = iota
	// Lenient enforces only declared required fields.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

var (
	// ErrUnknownVersion is returned when no definition exists for a version.
	ErrUnknownVersion = errors.New("unsupported schema version")
	// ErrInvalidDefinition is returned when a definition cannot be compiled.
	ErrInvalidDefinition = errors.New("invalid schema definition")
)

// Definition is the on-disk YAML form of a schema.
type Definition struct {
	SchemaVersion string     `yaml:"schema_version"`
	Root          ElementDef `yaml:"root"`
}

// ElementDef declares an element, its attributes and children.
type ElementDef struct {
	Name       string         `yaml:"name"`
	Required   bool           `yaml:"required"`
	Repeatable bool           `yaml:"repeatable"`
	Format     string         `yaml:"format"`
	Attributes []AttributeDef `yaml:"attributes"`
	Elements   []ElementDef   `yaml:"elements"`
	AnyOf      [][]string     `yaml:"any_of"`
}

// AttributeDef declares an attribute.
type AttributeDef struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
	Format   string `yaml:"format"`
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	yearPattern  = regexp.MustCompile(`^(19|20)\d{2}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
)

var formats = map[string]func(string) bool{
	"":      func(string) bool { return true },
	"text":  func(string) bool { return true },
	"email": emailPattern.MatchString,
	"year":  yearPattern.MatchString,
	"phone": phonePattern.MatchString,
}

// Compiled is a ready-to-use schema. It is immutable after Compile.
type Compiled struct {
	version string
	root    *elementRule
}

// Version returns the schema version.
func (c *Compiled) Version() string { return c.version }

type elementRule struct {
	name       string
	required   bool
	repeatable bool
	format     string
	check      func(string) bool
	attrs      map[string]attrRule
	attrOrder  []string
	children   map[string]*elementRule
	childOrder []string
	anyOf      [][]string
}

type attrRule struct {
	name     string
	required bool
	format   string
	check    func(string) bool
}

// Parse decodes and compiles a YAML definition.
func Parse(data []byte) (*Compiled, error) {
	var def Definition
	if err := yamlv3.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidDefinition, err)
	}
	return Compile(def)
}

// Compile checks a definition and builds its rule tree.
func Compile(def Definition) (*Compiled, error) {
	version := strings.TrimSpace(def.SchemaVersion)
	if version == "" {
		return nil, fmt.Errorf("%w: missing schema_version", ErrInvalidDefinition)
	}
	root, err := compileElement(def.Root, def.Root.Name)
	if err != nil {
		return nil, err
	}
	return &Compiled{version: version, root: root}, nil
}

func compileElement(def ElementDef, path string) (*elementRule, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: element without name under %q", ErrInvalidDefinition, path)
	}
	check, ok := formats[def.Format]
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q on %s", ErrInvalidDefinition, def.Format, path)
	}

	rule := &elementRule{
		name:       def.Name,
		required:   def.Required,
		repeatable: def.Repeatable,
		format:     def.Format,
		check:      check,
		attrs:      make(map[string]attrRule, len(def.Attributes)),
		children:   make(map[string]*elementRule, len(def.Elements)),
	}

	for _, a := range def.Attributes {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: attribute without name on %s", ErrInvalidDefinition, path)
		}
		if _, dup := rule.attrs[a.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate attribute %s@%s", ErrInvalidDefinition, path, a.Name)
		}
		ac, ok := formats[a.Format]
		if !ok {
			return nil, fmt.Errorf("%w: unknown format %q on %s@%s", ErrInvalidDefinition, a.Format, path, a.Name)
		}
		rule.attrs[a.Name] = attrRule{name: a.Name, required: a.Required, format: a.Format, check: ac}
		rule.attrOrder = append(rule.attrOrder, a.Name)
	}

	for _, child := range def.Elements {
		if _, dup := rule.children[child.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate element %s.%s", ErrInvalidDefinition, path, child.Name)
		}
		compiled, err := compileElement(child, path+"."+child.Name)
		if err != nil {
			return nil, err
		}
		rule.children[child.Name] = compiled
		rule.childOrder = append(rule.childOrder, child.Name)
	}

	for _, group := range def.AnyOf {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: empty any_of group on %s", ErrInvalidDefinition, path)
		}
		for _, member := range group {
			if _, ok := rule.children[member]; !ok {
				return nil, fmt.Errorf("%w: any_of member %q is not a child of %s", ErrInvalidDefinition, member, path)
			}
		}
		rule.anyOf = append(rule.anyOf, append([]string(nil), group...))
	}

	return rule, nil
}

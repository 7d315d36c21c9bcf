package schema

import (
	"errors"
	"fmt"
	"strings"

	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/internal/feed/xmldoc"
)

// Validator checks documents against cached compiled schemas.
type Validator struct {
	cache *Cache
}

// NewValidator creates a validator over cache.
func NewValidator(cache *Cache) *Validator {
	return &Validator{cache: cache}
}

// ClearCache drops every compiled schema; the next Validate recompiles.
func (v *Validator) ClearCache() {
	v.cache.ClearCache()
}

// Validate reports whether doc conforms to the schema for version. A failed
// validation is a normal result, not an error.
func (v *Validator) Validate(doc []byte, version string, mode Mode) (bool, []domain.ValidationError) {
	compiled, err := v.cache.Get(version)
	if err != nil {
		field := "@schema"
		if errors.Is(err, ErrUnknownVersion) {
			field = "@version"
		}
		return false, []domain.ValidationError{domain.NewError(field, err.Error())}
	}

	root, err := xmldoc.Decode(doc)
	if err != nil {
		return false, []domain.ValidationError{domain.NewError("document", "malformed XML: "+err.Error())}
	}

	errs := compiled.Check(root, mode)
	return len(errs) == 0, errs
}

// Check validates an already decoded tree.
func (c *Compiled) Check(root *xmldoc.Node, mode Mode) []domain.ValidationError {
	w := walker{mode: mode}
	if xmldoc.LocalName(root.Name) != c.root.name {
		w.fail(c.root.name, fmt.Sprintf("expected root element <%s>, got <%s>", c.root.name, xmldoc.LocalName(root.Name)))
		return w.errs
	}
	w.element(root, c.root, c.root.name)
	return w.errs
}

type walker struct {
	mode Mode
	errs []domain.ValidationError
}

func (w *walker) fail(field, message string) {
	w.errs = append(w.errs, domain.NewError(field, message))
}

func (w *walker) strict() bool { return w.mode == Strict }

func (w *walker) element(n *xmldoc.Node, rule *elementRule, path string) {
	if w.strict() && xmldoc.HasPrefix(n.Name) {
		w.fail(path, "namespaced element is not declared in schema")
	}

	w.attributes(n, rule, path)

	counts := make(map[string]int, len(n.Children))
	byName := make(map[string]*xmldoc.Node, len(n.Children))
	for _, child := range n.Children {
		name := xmldoc.LocalName(child.Name)
		childRule, declared := rule.children[name]
		if !declared {
			if w.strict() {
				w.fail(path+"."+name, "element is not declared in schema")
			}
			continue
		}
		counts[name]++
		if counts[name] == 1 {
			byName[name] = child
		} else if w.strict() && !childRule.repeatable {
			w.fail(path+"."+name, "element may appear only once")
		}
		w.element(child, childRule, path+"."+name)
	}

	for _, name := range rule.childOrder {
		childRule := rule.children[name]
		if !childRule.required {
			continue
		}
		child, ok := byName[name]
		if !ok {
			w.fail(path+"."+name, "required element is missing")
			continue
		}
		if isLeaf(childRule) && strings.TrimSpace(child.Text) == "" {
			w.fail(path+"."+name, "required element is empty")
		}
	}

	for _, group := range rule.anyOf {
		if !anyPresent(byName, group) {
			w.fail(path+"."+strings.Join(group, "|"), fmt.Sprintf("at least one of %s is required", strings.Join(group, ", ")))
		}
	}

	if w.strict() && isLeaf(rule) && n.Text != "" && !rule.check(n.Text) {
		w.fail(path, fmt.Sprintf("value does not match format %q", rule.format))
	}
}

func (w *walker) attributes(n *xmldoc.Node, rule *elementRule, path string) {
	seen := make(map[string]bool, len(n.Attrs))
	for _, a := range n.Attrs {
		if xmldoc.IsNamespaceDecl(a) {
			continue
		}
		name := a.Name.Local
		ar, declared := rule.attrs[name]
		if !declared || (a.Name.Space != "" && w.strict()) {
			if w.strict() {
				w.fail(path+"@"+name, "attribute is not declared in schema")
			}
			continue
		}
		seen[name] = true
		value := strings.TrimSpace(a.Value)
		if ar.required && value == "" {
			w.fail(path+"@"+name, "required attribute is empty")
			continue
		}
		if w.strict() && value != "" && !ar.check(value) {
			w.fail(path+"@"+name, fmt.Sprintf("value does not match format %q", ar.format))
		}
	}
	for _, name := range rule.attrOrder {
		if rule.attrs[name].required && !seen[name] {
			w.fail(path+"@"+name, "required attribute is missing")
		}
	}
}

func isLeaf(rule *elementRule) bool {
	return len(rule.children) == 0 && len(rule.attrs) == 0
}

func anyPresent(byName map[string]*xmldoc.Node, group []string) bool {
	for _, name := range group {
		if n, ok := byName[name]; ok && strings.TrimSpace(n.Text) != "" {
			return true
		}
	}
	return false
}

// Package introspect asks a Python interpreter about a module: the
// attributes in its namespace and its rendered help text.
package introspect

import (
	"regexp"
)

// Attribute is one named member of a module namespace.
type Attribute struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	DocString string `json:"docString,omitempty"`
}

// Env identifies the interpreter installation a call runs against.
type Env interface {
	Interpreter() string
}

// InterpreterPath is an Env that is just a path to a python executable.
type InterpreterPath string

func (p InterpreterPath) Interpreter() string { return string(p) }

var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidModuleName reports whether name is a dotted identifier path.
func ValidModuleName(name string) bool {
	return moduleNamePattern.MatchString(name)
}

// dedupeAttributes drops repeated names, keeping the first occurrence and
// the input order.
func dedupeAttributes(attrs []Attribute) []Attribute {
	seen := make(map[string]struct{}, len(attrs))
	out := attrs[:0]
	for _, a := range attrs {
		if _, ok := seen[a.Name]; ok {
			continue
		}
		seen[a.Name] = struct{}{}
		out = append(out, a)
	}
	return out
}

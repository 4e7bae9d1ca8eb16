// Package search filters module attributes, locates query matches in help
// text for highlight navigation, and keeps a full-text index of rendered
// help documents.
package search

import (
	"fmt"
	"strings"
)

// Kind is a coarse attribute category used to narrow a search.
type Kind string

const (
	KindAll      Kind = "all"
	KindFunction Kind = "function"
	KindClass    Kind = "class"
	KindMethod   Kind = "method"
	KindProperty Kind = "property"
)

var kinds = []Kind{KindAll, KindFunction, KindClass, KindMethod, KindProperty}

// Kinds lists every accepted kind, KindAll first.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// ParseKind accepts a kind name case-insensitively. The empty string is
// KindAll.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindAll, nil
	}
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

func (k Kind) String() string { return string(k) }

// Matches reports whether a help text line passes the filter. Any kind
// other than KindAll only requires the line to contain the kind's name, so
// prose that mentions "class" passes KindClass too.
func (k Kind) Matches(line string) bool {
	if k == KindAll || k == "" {
		return true
	}
	return strings.Contains(line, string(k))
}

// MatchesType reports whether an attribute with the given runtime type
// name belongs to the kind.
func (k Kind) MatchesType(typeName string) bool {
	switch k {
	case KindAll, "":
		return true
	case KindFunction:
		return typeName == "function" || typeName == "builtin_function_or_method"
	case KindClass:
		if typeName == "NoneType" {
			return false
		}
		return typeName == "type" || strings.HasSuffix(typeName, "Meta") || strings.HasSuffix(strings.ToLower(typeName), "type")
	case KindMethod:
		switch typeName {
		case "method", "method-wrapper", "method_descriptor", "classmethod_descriptor", "wrapper_descriptor":
			return true
		}
	case KindProperty:
		switch typeName {
		case "property", "getset_descriptor", "member_descriptor":
			return true
		}
	}
	return false
}

package search

import (
	"strings"

	"github.com/canonical/python-module-explorer/internal/introspect"
)

// FilterAttributes keeps the attributes whose name, type name or doc string
// contains query case-insensitively and whose type belongs to kind. Input
// order is preserved. An empty query with KindAll returns attrs itself.
func FilterAttributes(attrs []introspect.Attribute, query string, kind Kind) []introspect.Attribute {
	if query == "" && (kind == KindAll || kind == "") {
		return attrs
	}
	needle := strings.ToLower(query)

	out := make([]introspect.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if !kind.MatchesType(a.Type) {
			continue
		}
		if needle != "" && !containsFold(a, needle) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func containsFold(a introspect.Attribute, needle string) bool {
	return strings.Contains(strings.ToLower(a.Name), needle) ||
		strings.Contains(strings.ToLower(a.Type), needle) ||
		(a.DocString != "" && strings.Contains(strings.ToLower(a.DocString), needle))
}

package search

import (
	"html"
	"strconv"
	"strings"
)

// Highlighter wraps matches in markers. The "{i}" placeholder in Open and
// CurrentOpen is replaced with the match index. Escape, when set, is applied
// to every piece of document text but not to the markers.
type Highlighter struct {
	Open         string
	Close        string
	CurrentOpen  string
	CurrentClose string
	Escape       func(string) string
}

// PlainHighlighter is the marker set RenderHighlighted uses.
var PlainHighlighter = Highlighter{
	Open:         "[[",
	Close:        "]]",
	CurrentOpen:  "[[>",
	CurrentClose: "<]]",
}

// HTMLHighlighter emits <mark> elements and escapes the document text.
var HTMLHighlighter = Highlighter{
	Open:         `<mark class="match" data-match-index="{i}">`,
	Close:        "</mark>",
	CurrentOpen:  `<mark class="match current" data-match-index="{i}" id="current-match">`,
	CurrentClose: "</mark>",
	Escape:       html.EscapeString,
}

// RenderHighlighted marks every match of query in the lines passing kind,
// using the current marker for the match at index current. Other lines are
// copied unchanged. With no matches the text is returned as is.
func RenderHighlighted(text, query string, kind Kind, current int) string {
	return PlainHighlighter.Render(text, ComputeMatches(text, query, kind), current)
}

// Render marks precomputed matches in text. A current index outside the
// match list marks no match as current.
func (h Highlighter) Render(text string, matches []Match, current int) string {
	escape := h.Escape
	if escape == nil {
		escape = func(s string) string { return s }
	}
	if len(matches) == 0 {
		return escape(text)
	}

	var b strings.Builder
	b.Grow(len(text) + len(matches)*(len(h.Open)+len(h.Close)+4))
	pos := 0
	for i, m := range matches {
		b.WriteString(escape(text[pos:m.Offset]))
		open, closing := h.Open, h.Close
		if i == current {
			open, closing = h.CurrentOpen, h.CurrentClose
		}
		b.WriteString(strings.ReplaceAll(open, "{i}", strconv.Itoa(i)))
		b.WriteString(escape(text[m.Offset : m.Offset+m.Length]))
		b.WriteString(closing)
		pos = m.Offset + m.Length
	}
	b.WriteString(escape(text[pos:]))
	return b.String()
}

package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match is one occurrence of a query in a help document. Offset and Length
// are byte positions in the full text; Line is zero-based and Column is the
// byte offset within that line.
type Match struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ComputeMatches finds every case-insensitive occurrence of query in the
// lines of text that pass kind, in document order. The query is a literal
// string. Occurrences do not overlap. An empty query has no matches.
func ComputeMatches(text, query string, kind Kind) []Match {
	if query == "" || text == "" {
		return nil
	}

	var matches []Match
	offset := 0
	for i, line := range strings.Split(text, "\n") {
		if kind.Matches(line) {
			for col := 0; col < len(line); {
				if n := foldPrefix(line[col:], query); n > 0 {
					matches = append(matches, Match{Offset: offset + col, Length: n, Line: i, Column: col})
					col += n
					continue
				}
				_, size := utf8.DecodeRuneInString(line[col:])
				col += size
			}
		}
		offset += len(line) + 1
	}
	return matches
}

// foldPrefix returns the byte length of the prefix of s that equals query
// under simple Unicode case folding, or 0 when s does not start with query.
// Invalid UTF-8 bytes only match the same byte.
func foldPrefix(s, query string) int {
	i := 0
	for j := 0; j < len(query); {
		if i >= len(s) {
			return 0
		}
		qr, qsize := utf8.DecodeRuneInString(query[j:])
		sr, size := utf8.DecodeRuneInString(s[i:])
		if invalid(qr, qsize) || invalid(sr, size) {
			if qsize != size || s[i] != query[j] {
				return 0
			}
		} else if !equalFold(sr, qr) {
			return 0
		}
		i += size
		j += qsize
	}
	return i
}

func invalid(r rune, size int) bool {
	return r == utf8.RuneError && size == 1
}

func equalFold(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}

package search

// Next returns the index after current, wrapping to 0. With no matches it
// returns current unchanged.
func Next(current, n int) int {
	if n <= 0 {
		return current
	}
	if current < 0 || current >= n-1 {
		return 0
	}
	return current + 1
}

// Prev returns the index before current, wrapping to n-1. With no matches
// it returns current unchanged.
func Prev(current, n int) int {
	if n <= 0 {
		return current
	}
	if current <= 0 || current >= n {
		return n - 1
	}
	return current - 1
}

// State is a step of the interactive help search.
type State int

const (
	// Idle: no module selected.
	Idle State = iota
	// Pending: a module name is set but its help text has not arrived.
	Pending
	// Loaded: help text is present and no query is applied.
	Loaded
	// Searching: a query or kind filter is applied and matches are computed.
	Searching
	// Navigating: the current match has been moved.
	Navigating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Searching:
		return "searching"
	case Navigating:
		return "navigating"
	}
	return "unknown"
}

// Session tracks one user's search over a single module's help text. It is
// not safe for concurrent use.
type Session struct {
	state   State
	module  string
	text    string
	query   string
	kind    Kind
	matches []Match
	current int
}

// NewSession returns an Idle session.
func NewSession() *Session {
	return &Session{kind: KindAll, current: -1}
}

func (s *Session) State() State { return s.state }
func (s *Session) Module() string { return s.module }
func (s *Session) Text() string { return s.text }
func (s *Session) Query() string { return s.query }
func (s *Session) Kind() Kind { return s.kind }
func (s *Session) Matches() []Match { return s.matches }
func (s *Session) Current() int { return s.current }
func (s *Session) MatchCount() int { return len(s.matches) }
func (s *Session) HasText() bool { return s.state >= Loaded }

func (s *Session) CurrentMatch() (Match, bool) {
	if s.current < 0 || s.current >= len(s.matches) {
		return Match{}, false
	}
	return s.matches[s.current], true
}

// SelectModule switches to another module, dropping the loaded text, the
// query, the filter and the current match. An empty name returns to Idle.
func (s *Session) SelectModule(name string) {
	*s = Session{module: name, kind: KindAll, current: -1}
	if name != "" {
		s.state = Pending
	}
}

// Load installs the help text for module. Text for a module other than the
// selected one is stale and is discarded; Load reports whether it was
// accepted.
func (s *Session) Load(module, text string) bool {
	if s.state == Idle || module != s.module {
		return false
	}
	s.text = text
	s.recompute()
	return true
}

// SetQuery applies a new query. Before the text is loaded the query is
// only remembered.
func (s *Session) SetQuery(query string) {
	s.query = query
	if s.HasText() {
		s.recompute()
	}
}

// SetKind applies a new kind filter.
func (s *Session) SetKind(kind Kind) {
	if kind == "" {
		kind = KindAll
	}
	s.kind = kind
	if s.HasText() {
		s.recompute()
	}
}

// Next moves to the following match, wrapping around. It is a no-op
// without matches.
func (s *Session) Next() {
	if len(s.matches) == 0 {
		return
	}
	s.current = Next(s.current, len(s.matches))
	s.state = Navigating
}

// Prev moves to the preceding match, wrapping around.
func (s *Session) Prev() {
	if len(s.matches) == 0 {
		return
	}
	s.current = Prev(s.current, len(s.matches))
	s.state = Navigating
}

// Render returns the loaded text highlighted for the current state.
func (s *Session) Render(h Highlighter) string {
	return h.Render(s.text, s.matches, s.current)
}

func (s *Session) recompute() {
	s.matches = ComputeMatches(s.text, s.query, s.kind)
	s.current = -1
	if len(s.matches) > 0 {
		s.current = 0
	}
	if s.query == "" && s.kind == KindAll {
		s.state = Loaded
		return
	}
	s.state = Searching
}

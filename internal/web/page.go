package web

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
)

type pageView struct {
	Title string
	Path  string
}

type envView struct {
	storage.Environment
	Modules []string
}

type indexView struct {
	Title        string
	Environments []envView
}

type helpView struct {
	Title    string
	EnvID    string
	EnvName  string
	Module   string
	Query    string
	Kind     search.Kind
	Kinds    []search.Kind
	Total    int
	Position int
	Body     template.HTML
	PrevHref string
	NextHref string
}

// handleHelpPage renders a module's help with every match of q marked and
// one of them current. match picks the current match and nav steps it,
// wrapping at both ends.
func (s *Server) handleHelpPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	envID, module := vars["id"], vars["name"]
	q := r.URL.Query()

	kind, err := search.ParseKind(q.Get("kind"))
	if err != nil {
		kind = search.KindAll
	}
	env, err := s.svc.Environment(r.Context(), envID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	text, err := s.svc.Help(r.Context(), envID, module)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	query := q.Get("q")
	matches := search.ComputeMatches(text, query, kind)
	current := currentMatch(q, len(matches))

	view := helpView{
		Title:   module,
		EnvID:   envID,
		EnvName: env.Name,
		Module:  module,
		Query:   query,
		Kind:    kind,
		Kinds:   search.Kinds(),
		Total:   len(matches),
		Body:    template.HTML(search.HTMLHighlighter.Render(text, matches, current)),
	}
	if current >= 0 {
		view.Position = current + 1
		view.PrevHref = navHref(query, kind, current, "prev")
		view.NextHref = navHref(query, kind, current, "next")
	}
	s.render(w, s.helpPage, "help", http.StatusOK, view)
}

// currentMatch resolves the match and nav parameters to an index into n
// matches, or -1 when there are none.
func currentMatch(q url.Values, n int) int {
	if n == 0 {
		return -1
	}
	current, err := strconv.Atoi(q.Get("match"))
	if err != nil || current < 0 || current >= n {
		current = 0
	}
	switch q.Get("nav") {
	case "next":
		current = search.Next(current, n)
	case "prev":
		current = search.Prev(current, n)
	}
	return current
}

func navHref(query string, kind search.Kind, current int, nav string) string {
	v := url.Values{}
	v.Set("q", query)
	if kind != search.KindAll {
		v.Set("kind", string(kind))
	}
	v.Set("match", strconv.Itoa(current))
	v.Set("nav", nav)
	return "?" + v.Encode() + "#current-match"
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		s.render(w, s.notFound, "404", status, pageView{Title: "Not found", Path: r.URL.Path})
		return
	}
	s.logger.Error("page failed", "path", r.URL.Path, "status", status, "error", err)
	http.Error(w, err.Error(), status)
}

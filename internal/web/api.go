package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/canonical/python-module-explorer/internal/runner"
	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
	"github.com/canonical/python-module-explorer/internal/venv"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed request caught by the handler itself.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func isUpstreamFailure(err error) bool {
	var exitErr *runner.ExitError
	return errors.As(err, &exitErr)
}

func isUnprocessable(err error) bool {
	return errors.Is(err, venv.ErrPythonTooOld) || errors.Is(err, venv.ErrNotVenv)
}

type envDetail struct {
	storage.Environment
	Packages []storage.Package `json:"packages"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.svc.ListEnvironments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if envs == nil {
		envs = []storage.Environment{}
	}
	writeJSON(w, http.StatusOK, envs)
}

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Name == "" {
		s.writeError(w, r, badRequest("name is required"))
		return
	}
	env, err := s.svc.CreateEnvironment(r.Context(), body.Name, body.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	env, err := s.svc.Environment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pkgs, err := s.svc.Packages(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pkgs == nil {
		pkgs = []storage.Package{}
	}
	writeJSON(w, http.StatusOK, envDetail{Environment: *env, Packages: pkgs})
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEnvironment(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInstallPackage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Name == "" {
		s.writeError(w, r, badRequest("name is required"))
		return
	}
	pkg, err := s.svc.InstallPackage(r.Context(), mux.Vars(r)["id"], body.Name, body.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.svc.Modules(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if modules == nil {
		modules = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (s *Server) handleAttributes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	query, kind, err := queryAndKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attrs, err := s.svc.SearchAttributes(r.Context(), vars["id"], vars["name"], query, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"module":     vars["name"],
		"attributes": attrs,
		"count":      len(attrs),
	})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	text, err := s.svc.Help(r.Context(), vars["id"], vars["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"module": vars["name"], "help": text})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	query, kind, err := queryAndKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Matches(r.Context(), vars["id"], vars["name"], query, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchDocs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntQuery(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	res, err := s.svc.SearchDocs(r.Context(), mux.Vars(r)["id"], q.Get("q"), limit, parseIntQuery(r, "offset", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Results == nil {
		res.Results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

func queryAndKind(r *http.Request) (string, search.Kind, error) {
	q := r.URL.Query()
	kind, err := search.ParseKind(q.Get("kind"))
	if err != nil {
		return "", "", badRequest("%v", err)
	}
	return q.Get("q"), kind, nil
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

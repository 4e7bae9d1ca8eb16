package web

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/canonical/python-module-explorer/internal/explorer"
	"github.com/canonical/python-module-explorer/internal/introspect"
	"github.com/canonical/python-module-explorer/internal/metrics"
	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
)

//go:embed templates/base.html templates/index.html templates/help.html templates/404.html static/explorer.css
var webAssets embed.FS

// Service is what the HTTP surface needs from the explorer.
// *explorer.Explorer satisfies it.
type Service interface {
	ListEnvironments(ctx context.Context) ([]storage.Environment, error)
	CreateEnvironment(ctx context.Context, name, path string) (*storage.Environment, error)
	Environment(ctx context.Context, id string) (*storage.Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error
	Packages(ctx context.Context, envID string) ([]storage.Package, error)
	InstallPackage(ctx context.Context, envID, name, version string) (*storage.Package, error)
	Modules(ctx context.Context, envID string) ([]string, error)
	SearchAttributes(ctx context.Context, envID, module, query string, kind search.Kind) ([]introspect.Attribute, error)
	Help(ctx context.Context, envID, module string) (string, error)
	Matches(ctx context.Context, envID, module, query string, kind search.Kind) (*explorer.MatchResult, error)
	SearchDocs(ctx context.Context, envID, query string, limit, offset int) (search.SearchResponse, error)
}

type Server struct {
	svc      Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	index    *template.Template
	helpPage *template.Template
	notFound *template.Template
	router   *mux.Router
}

// NewServer builds the router. m may be nil, in which case /metrics is not
// served.
func NewServer(svc Service, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		svc:      svc,
		logger:   logger,
		metrics:  m,
		index:    template.Must(template.ParseFS(webAssets, "templates/base.html", "templates/index.html")),
		helpPage: template.Must(template.ParseFS(webAssets, "templates/base.html", "templates/help.html")),
		notFound: template.Must(template.ParseFS(webAssets, "templates/base.html", "templates/404.html")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/venv", s.handleListEnvironments).Methods(http.MethodGet)
	api.HandleFunc("/venv", s.handleCreateEnvironment).Methods(http.MethodPost)
	api.HandleFunc("/venv/{id}", s.handleGetEnvironment).Methods(http.MethodGet)
	api.HandleFunc("/venv/{id}", s.handleDeleteEnvironment).Methods(http.MethodDelete)
	api.HandleFunc("/venv/{id}/packages", s.handleInstallPackage).Methods(http.MethodPost)
	api.HandleFunc("/venv/{id}/modules", s.handleModules).Methods(http.MethodGet)
	api.HandleFunc("/venv/{id}/modules/{name}/attributes", s.handleAttributes).Methods(http.MethodGet)
	api.HandleFunc("/venv/{id}/modules/{name}/help", s.handleHelp).Methods(http.MethodGet)
	api.HandleFunc("/venv/{id}/modules/{name}/matches", s.handleMatches).Methods(http.MethodGet)
	api.HandleFunc("/venv/{id}/docs/search", s.handleSearchDocs).Methods(http.MethodGet)
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	r.HandleFunc("/venv/{id}/modules/{name}", s.handleHelpPage).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	staticFS, _ := fs.Sub(webAssets, "static")
	r.PathPrefix("/static/").Handler(staticCacheHandler(computeStaticETag(),
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	))
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(s.renderNotFound)
	return r
}

// Handler is the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	return s.logRequests(gzipHandler(s.router))
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	envs, err := s.svc.ListEnvironments(r.Context())
	if err != nil {
		s.logger.Error("list environments", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	view := indexView{Title: "Environments"}
	for _, env := range envs {
		modules, err := s.svc.Modules(r.Context(), env.ID)
		if err != nil {
			s.logger.Warn("list modules", "env", env.ID, "error", err)
		}
		view.Environments = append(view.Environments, envView{Environment: env, Modules: modules})
	}
	s.render(w, s.index, "index", http.StatusOK, view)
}

func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.notFound, "404", http.StatusNotFound, pageView{Title: "Not found", Path: r.URL.Path})
}

func (s *Server) render(w http.ResponseWriter, t *template.Template, name string, status int, view any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes. Anything not
// recognised is a 500.
func statusFor(err error) int {
	var (
		importErr *introspect.ImportError
		procErr   *introspect.ProcessError
		badReq    *requestError
	)
	switch {
	case errors.As(err, &badReq), errors.Is(err, explorer.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &importErr), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &procErr), isUpstreamFailure(err):
		return http.StatusBadGateway
	case isUnprocessable(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func computeStaticETag() string {
	h := sha256.New()
	entries, _ := webAssets.ReadDir("static")
	for _, entry := range entries {
		data, _ := webAssets.ReadFile("static/" + entry.Name())
		h.Write([]byte(entry.Name()))
		h.Write(data)
	}
	return `"` + hex.EncodeToString(h.Sum(nil))[:16] + `"`
}

func staticCacheHandler(etag string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("ETag", etag)

		if match := r.Header.Get("If-None-Match"); match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		next.ServeHTTP(w, r)
	})
}

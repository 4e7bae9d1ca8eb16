package web

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/python-module-explorer/internal/explorer"
	"github.com/canonical/python-module-explorer/internal/introspect"
	"github.com/canonical/python-module-explorer/internal/metrics"
	"github.com/canonical/python-module-explorer/internal/runner"
	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
	"github.com/canonical/python-module-explorer/internal/venv"
)

const mathHelp = "Help on module math:\n\nFUNCTIONS\n    sqrt(x, /)\n        Return the square root of x.\n\nDATA\n    pi = 3.141592653589793\n    <tau> = 6.283185307179586\n"

// fakeService keeps one environment with a math module. Any other module
// fails to import; "slow" times out and "crash" kills the interpreter.
type fakeService struct {
	envs      []storage.Environment
	packages  []storage.Package
	installed []string
	deleted   []string
}

func newFakeService() *fakeService {
	return &fakeService{envs: []storage.Environment{{ID: "env1", Name: "science", Path: "/envs/science", PythonVersion: "3.12.3"}}}
}

func (f *fakeService) env(id string) (*storage.Environment, error) {
	for i := range f.envs {
		if f.envs[i].ID == id {
			return &f.envs[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeService) ListEnvironments(context.Context) ([]storage.Environment, error) {
	return f.envs, nil
}

func (f *fakeService) CreateEnvironment(_ context.Context, name, path string) (*storage.Environment, error) {
	switch name {
	case "science":
		return nil, fmt.Errorf("environment %q: %w", name, storage.ErrExists)
	case "old":
		return nil, fmt.Errorf("python 3.6.9: %w", venv.ErrPythonTooOld)
	case "bad/name":
		return nil, fmt.Errorf("%w: environment name %q", explorer.ErrInvalidInput, name)
	}
	env := storage.Environment{ID: "env-" + name, Name: name, Path: path}
	f.envs = append(f.envs, env)
	return &env, nil
}

func (f *fakeService) Environment(_ context.Context, id string) (*storage.Environment, error) {
	return f.env(id)
}

func (f *fakeService) DeleteEnvironment(_ context.Context, id string) error {
	if _, err := f.env(id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) Packages(_ context.Context, envID string) ([]storage.Package, error) {
	if _, err := f.env(envID); err != nil {
		return nil, err
	}
	return f.packages, nil
}

func (f *fakeService) InstallPackage(_ context.Context, envID, name, version string) (*storage.Package, error) {
	if _, err := f.env(envID); err != nil {
		return nil, err
	}
	if name == "broken" {
		return nil, fmt.Errorf("pip install broken: %w", &runner.ExitError{Command: "python3", ExitCode: 1, Stderr: "no matching distribution"})
	}
	f.installed = append(f.installed, name+"=="+version)
	pkg := storage.Package{ID: "p1", EnvID: envID, Name: name, Version: version}
	f.packages = append(f.packages, pkg)
	return &pkg, nil
}

func (f *fakeService) Modules(_ context.Context, envID string) ([]string, error) {
	if _, err := f.env(envID); err != nil {
		return nil, err
	}
	return []string{"math"}, nil
}

func (f *fakeService) Help(_ context.Context, envID, module string) (string, error) {
	if _, err := f.env(envID); err != nil {
		return "", err
	}
	switch module {
	case "math":
		return mathHelp, nil
	case "slow":
		return "", fmt.Errorf("help slow: %w", context.DeadlineExceeded)
	case "crash":
		return "", &introspect.ProcessError{Module: module, Op: "help", ExitCode: 139}
	}
	return "", &introspect.ImportError{Module: module, Message: "ModuleNotFoundError: No module named '" + module + "'"}
}

func (f *fakeService) SearchAttributes(ctx context.Context, envID, module, query string, kind search.Kind) ([]introspect.Attribute, error) {
	if _, err := f.Help(ctx, envID, module); err != nil {
		return nil, err
	}
	attrs := []introspect.Attribute{
		{Name: "pi", Type: "float"},
		{Name: "sqrt", Type: "builtin_function_or_method", DocString: "Return the square root of x."},
	}
	return search.FilterAttributes(attrs, query, kind), nil
}

func (f *fakeService) Matches(ctx context.Context, envID, module, query string, kind search.Kind) (*explorer.MatchResult, error) {
	text, err := f.Help(ctx, envID, module)
	if err != nil {
		return nil, err
	}
	matches := search.ComputeMatches(text, query, kind)
	if matches == nil {
		matches = []search.Match{}
	}
	return &explorer.MatchResult{Module: module, Query: query, Kind: kind, Total: len(matches), Matches: matches}, nil
}

func (f *fakeService) SearchDocs(_ context.Context, envID, query string, limit, offset int) (search.SearchResponse, error) {
	if _, err := f.env(envID); err != nil {
		return search.SearchResponse{}, err
	}
	if query == "" {
		return search.SearchResponse{}, nil
	}
	return search.SearchResponse{Total: 1, Results: []search.Result{{EnvID: envID, Module: "math", Snippet: "[[" + query + "]]"}}}, nil
}

func testServer(t *testing.T) (*Server, *fakeService, *prometheus.Registry) {
	t.Helper()
	svc := newFakeService()
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(svc, logger, metrics.New(reg)), svc, reg
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q, body: %s", ct, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := testServer(t)
	for _, path := range []string{"/healthz", "/api/status"} {
		w := do(t, srv, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var body map[string]string
		decodeJSON(t, w, &body)
		if body["status"] != "ok" {
			t.Errorf("%s: unexpected body %v", path, body)
		}
	}
}

func TestStatusForErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("no"), http.StatusBadRequest},
		{fmt.Errorf("%w: x", explorer.ErrInvalidInput), http.StatusBadRequest},
		{&introspect.ImportError{Module: "x"}, http.StatusNotFound},
		{fmt.Errorf("env: %w", storage.ErrNotFound), http.StatusNotFound},
		{storage.ErrExists, http.StatusConflict},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{&introspect.ProcessError{Module: "x", Op: "help"}, http.StatusBadGateway},
		{fmt.Errorf("pip: %w", &runner.ExitError{Command: "pip", ExitCode: 1}), http.StatusBadGateway},
		{venv.ErrPythonTooOld, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestLogRequestsStatus200(t *testing.T) {
	srv, _, _ := testServer(t)

	var buf bytes.Buffer
	srv.logger = slog.New(slog.NewTextHandler(&buf, nil))

	handler := srv.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "status=200") {
		t.Errorf("expected status=200 in log, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "duration=") {
		t.Errorf("expected duration in log, got: %s", logOutput)
	}
}

func TestLogRequestsImplicit200(t *testing.T) {
	srv, _, _ := testServer(t)

	var buf bytes.Buffer
	srv.logger = slog.New(slog.NewTextHandler(&buf, nil))

	handler := srv.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/implicit", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("expected status=200 in log, got: %s", buf.String())
	}
}

func TestResponseWriterImplementsFlusher(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, ok := interface{}(rw).(http.Flusher); !ok {
		t.Error("responseWriter should implement http.Flusher")
	}
}

func TestRequestMetricsUseRouteTemplate(t *testing.T) {
	srv, _, reg := testServer(t)

	do(t, srv, http.MethodGet, "/api/venv/env1", "")
	do(t, srv, http.MethodGet, "/api/venv/nope", "")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var routes []string
	for _, mf := range families {
		if mf.GetName() != "pyexplorer_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" {
					routes = append(routes, l.GetValue())
				}
			}
		}
	}
	if len(routes) != 2 {
		t.Fatalf("expected two series (200 and 404), got %v", routes)
	}
	for _, r := range routes {
		if r != "/api/venv/{id}" {
			t.Errorf("unexpected route label %q", r)
		}
	}

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "pyexplorer_http_requests_total") {
		t.Error("metrics endpoint missing request counter")
	}
}

func TestStaticAssetCacheHeaders(t *testing.T) {
	srv, _, _ := testServer(t)
	etag := computeStaticETag()

	w := do(t, srv, http.MethodGet, "/static/explorer.css", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Errorf("unexpected Cache-Control: %s", cc)
	}
	if got := w.Header().Get("ETag"); got != etag {
		t.Errorf("expected ETag %s, got %s", etag, got)
	}

	req := httptest.NewRequest(http.MethodGet, "/static/explorer.css", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", w.Code)
	}
}

func TestComputeStaticETagDeterministic(t *testing.T) {
	etag1 := computeStaticETag()
	etag2 := computeStaticETag()
	if etag1 != etag2 {
		t.Errorf("ETag should be deterministic: %s != %s", etag1, etag2)
	}
	if !strings.HasPrefix(etag1, `"`) || !strings.HasSuffix(etag1, `"`) {
		t.Errorf("ETag should be quoted: %s", etag1)
	}
}

func TestGzipCompressesJSON(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected Content-Encoding: gzip for JSON, got %q", resp.Header.Get("Content-Encoding"))
	}
	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("failed to create gzip reader: %v", err)
	}
	defer func() { _ = gr.Close() }()
	body, _ := io.ReadAll(gr)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGzipSkipsWithoutAcceptEncoding(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Encoding") == "gzip" {
		t.Error("should not gzip without Accept-Encoding")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGzipSkipsBinaryContent(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0, 1, 2})
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") == "gzip" {
		t.Error("binary content should not be compressed")
	}
	if !bytes.Equal(w.Body.Bytes(), []byte{0, 1, 2}) {
		t.Errorf("unexpected body: %v", w.Body.Bytes())
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv, _, _ := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

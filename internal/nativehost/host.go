package nativehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/canonical/python-module-explorer/internal/introspect"
	"github.com/canonical/python-module-explorer/internal/search"
	"github.com/canonical/python-module-explorer/internal/storage"
)

const (
	TypeCreateVenv             = "CREATE_VENV"
	TypeListVirtualEnvs        = "LIST_VIRTUAL_ENVS"
	TypeInstallPackage         = "INSTALL_PACKAGE"
	TypeGetModuleHelp          = "GET_MODULE_HELP"
	TypeGetModuleAttributes    = "GET_MODULE_ATTRIBUTES"
	TypeSearchModuleAttributes = "SEARCH_MODULE_ATTRIBUTES"

	// DefaultEnvName names the environment used by requests without envId.
	DefaultEnvName = "default"
)

// Service is the part of the explorer the host drives.
// *explorer.Explorer satisfies it.
type Service interface {
	CreateEnvironment(ctx context.Context, name, path string) (*storage.Environment, error)
	EnsureEnvironment(ctx context.Context, name, path string) (*storage.Environment, error)
	ListEnvironments(ctx context.Context) ([]storage.Environment, error)
	InstallPackage(ctx context.Context, envID, name, version string) (*storage.Package, error)
	Help(ctx context.Context, envID, module string) (string, error)
	Attributes(ctx context.Context, envID, module string) ([]introspect.Attribute, error)
	SearchAttributes(ctx context.Context, envID, module, query string, kind search.Kind) ([]introspect.Attribute, error)
}

// Request is every field any request type may carry.
type Request struct {
	Type        string `json:"type"`
	EnvID       string `json:"envId,omitempty"`
	Name        string `json:"name,omitempty"`
	Path        string `json:"path,omitempty"`
	PackageName string `json:"packageName,omitempty"`
	Version     string `json:"version,omitempty"`
	ModuleName  string `json:"moduleName,omitempty"`
	Query       string `json:"query,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Host struct {
	svc            Service
	logger         *slog.Logger
	defaultEnvPath string

	mu           sync.Mutex
	defaultEnvID string
}

// New returns a host whose default environment lives at defaultEnvPath.
func New(svc Service, defaultEnvPath string, logger *slog.Logger) *Host {
	return &Host{svc: svc, logger: logger, defaultEnvPath: defaultEnvPath}
}

// Serve answers requests from r on w, one at a time and in order, until r
// ends or ctx is cancelled.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			resp = Response{Type: "INVALID_RESULT", Error: "invalid message: " + err.Error()}
		} else {
			resp = h.Handle(ctx, req)
		}

		err = WriteMessage(w, resp)
		if errors.Is(err, ErrMessageTooLarge) {
			h.logger.Warn("response too large", "type", resp.Type, "error", err)
			err = WriteMessage(w, Response{Type: resp.Type, Error: tooLargeMessage(req, err)})
		}
		if err != nil {
			return err
		}
	}
}

// tooLargeMessage explains an undeliverable response. Help text has an
// HTTP route without the size limit, so that case names it.
func tooLargeMessage(req Request, err error) string {
	if req.Type != TypeGetModuleHelp {
		return err.Error()
	}
	envID := req.EnvID
	if envID == "" {
		envID = "{id}"
	}
	return fmt.Sprintf("help for %s is too large for native messaging (%v); fetch it from the server at /api/venv/%s/modules/%s/help",
		req.ModuleName, err, envID, req.ModuleName)
}

// Handle answers one request. Failures are reported in the response, never
// returned.
func (h *Host) Handle(ctx context.Context, req Request) Response {
	resp := Response{Type: req.Type + "_RESULT"}
	data, err := h.dispatch(ctx, req)
	if err != nil {
		h.logger.Debug("request failed", "type", req.Type, "error", err)
		resp.Error = err.Error()
		return resp
	}
	resp.Success = true
	resp.Data = data
	return resp
}

var errUnknownCommand = errors.New("Unknown command")

func (h *Host) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Type {
	case TypeCreateVenv:
		if req.Name == "" {
			return nil, errors.New("name is required")
		}
		return h.svc.CreateEnvironment(ctx, req.Name, req.Path)
	case TypeListVirtualEnvs:
		envs, err := h.svc.ListEnvironments(ctx)
		if envs == nil && err == nil {
			envs = []storage.Environment{}
		}
		return envs, err
	case TypeInstallPackage:
		if req.PackageName == "" {
			return nil, errors.New("packageName is required")
		}
		envID, err := h.envID(ctx, req.EnvID)
		if err != nil {
			return nil, err
		}
		if _, err := h.svc.InstallPackage(ctx, envID, req.PackageName, req.Version); err != nil {
			return nil, err
		}
		return map[string]string{"name": req.PackageName, "version": req.Version}, nil
	case TypeGetModuleHelp, TypeGetModuleAttributes, TypeSearchModuleAttributes:
		if req.ModuleName == "" {
			return nil, errors.New("moduleName is required")
		}
		envID, err := h.envID(ctx, req.EnvID)
		if err != nil {
			return nil, err
		}
		return h.module(ctx, envID, req)
	}
	return nil, errUnknownCommand
}

func (h *Host) module(ctx context.Context, envID string, req Request) (any, error) {
	switch req.Type {
	case TypeGetModuleHelp:
		return h.svc.Help(ctx, envID, req.ModuleName)
	case TypeGetModuleAttributes:
		return h.svc.Attributes(ctx, envID, req.ModuleName)
	default:
		kind, err := search.ParseKind(req.Kind)
		if err != nil {
			return nil, err
		}
		return h.svc.SearchAttributes(ctx, envID, req.ModuleName, req.Query, kind)
	}
}

// envID resolves an empty request envId to the default environment,
// creating it on first use. A failed creation is retried on the next
// request.
func (h *Host) envID(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.defaultEnvID != "" {
		return h.defaultEnvID, nil
	}
	env, err := h.svc.EnsureEnvironment(ctx, DefaultEnvName, h.defaultEnvPath)
	if err != nil {
		return "", fmt.Errorf("default environment: %w", err)
	}
	h.defaultEnvID = env.ID
	return env.ID, nil
}

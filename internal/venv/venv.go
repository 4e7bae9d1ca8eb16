// Package venv creates Python virtual environments and installs packages
// into them with pip.
package venv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	debversion "pault.ag/go/debian/version"

	"github.com/canonical/python-module-explorer/internal/runner"
)

var (
	ErrNotVenv      = errors.New("not a virtual environment")
	ErrInvalidName  = errors.New("invalid package name")
	ErrPythonTooOld = errors.New("python version too old")
)

// Handle locates a virtual environment on disk. It satisfies
// introspect.Env.
type Handle struct {
	Root string
}

func (h Handle) Interpreter() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(h.Root, "Scripts", "python.exe")
	}
	return filepath.Join(h.Root, "bin", "python3")
}

func (h Handle) configPath() string {
	return filepath.Join(h.Root, "pyvenv.cfg")
}

// IsVenv reports whether Root holds a virtual environment.
func (h Handle) IsVenv() bool {
	_, err := os.Stat(h.configPath())
	return err == nil
}

// PipPackage is one entry of "pip list".
type PipPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Manager runs the venv and pip tooling of a base interpreter.
type Manager struct {
	Python  string
	Invoker runner.Invoker
	Logger  *slog.Logger
}

func NewManager(python string, invoker runner.Invoker, logger *slog.Logger) *Manager {
	if python == "" {
		python = "python3"
	}
	return &Manager{Python: python, Invoker: invoker, Logger: logger}
}

var pipEnv = []string{
	"PIP_DISABLE_PIP_VERSION_CHECK=1",
	"PIP_NO_INPUT=1",
	"PYTHONIOENCODING=utf-8",
}

// Create makes a virtual environment at root. An existing environment is
// returned as is; an existing non-empty directory that is not one is
// refused.
func (m *Manager) Create(ctx context.Context, root string) (Handle, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return Handle{}, fmt.Errorf("resolve venv path: %w", err)
	}
	h := Handle{Root: root}
	if h.IsVenv() {
		return h, nil
	}
	if entries, err := os.ReadDir(root); err == nil && len(entries) > 0 {
		return Handle{}, fmt.Errorf("%s: %w", root, ErrNotVenv)
	}

	m.log().Info("creating virtual environment", "path", root, "python", m.Python)
	if _, err := m.Invoker.Run(ctx, runner.Command{Op: "venv", Name: m.Python, Args: []string{"-m", "venv", root}}); err != nil {
		return Handle{}, fmt.Errorf("create venv %s: %w", root, err)
	}
	if !h.IsVenv() {
		return Handle{}, fmt.Errorf("create venv %s: %w", root, ErrNotVenv)
	}
	return h, nil
}

// Install runs pip install in the environment. An empty or "latest"
// version installs the newest release.
func (m *Manager) Install(ctx context.Context, h Handle, name, version string) error {
	spec, err := PackageSpec(name, version)
	if err != nil {
		return err
	}

	m.log().Info("installing package", "venv", h.Root, "package", spec)
	_, err = m.Invoker.Run(ctx, runner.Command{
		Op:   "pip",
		Name: h.Interpreter(),
		Args: []string{"-m", "pip", "install", spec},
		Env:  pipEnv,
	})
	if err != nil {
		return fmt.Errorf("pip install %s: %w", spec, err)
	}
	return nil
}

// InstalledPackages lists the distributions pip sees in the environment.
func (m *Manager) InstalledPackages(ctx context.Context, h Handle) ([]PipPackage, error) {
	res, err := m.Invoker.Run(ctx, runner.Command{
		Op:   "pip",
		Name: h.Interpreter(),
		Args: []string{"-m", "pip", "list", "--format=json"},
		Env:  pipEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("pip list: %w", err)
	}
	var pkgs []PipPackage
	if err := json.Unmarshal(bytes.TrimSpace(res.Stdout), &pkgs); err != nil {
		return nil, fmt.Errorf("decode pip list: %w", err)
	}
	return pkgs, nil
}

// PythonVersion returns the dotted version an interpreter reports.
func (m *Manager) PythonVersion(ctx context.Context, interpreter string) (string, error) {
	res, err := m.Invoker.Run(ctx, runner.Command{Op: "version", Name: interpreter, Args: []string{"--version"}})
	if err != nil {
		return "", fmt.Errorf("python version: %w", err)
	}
	out := strings.TrimSpace(string(res.Stdout))
	if out == "" {
		// Python 2 printed its version on stderr.
		out = strings.TrimSpace(string(res.Stderr))
	}
	version, ok := strings.CutPrefix(out, "Python ")
	if !ok || version == "" {
		return "", fmt.Errorf("unexpected version output %q", out)
	}
	return version, nil
}

// CheckPythonVersion fails when version sorts before minimum. Plain
// dotted releases compare the same under Debian and Python ordering.
func CheckPythonVersion(version, minimum string) error {
	if minimum == "" {
		return nil
	}
	v, err := debversion.Parse(version)
	if err != nil {
		return fmt.Errorf("parse python version %q: %w", version, err)
	}
	lo, err := debversion.Parse(minimum)
	if err != nil {
		return fmt.Errorf("parse minimum version %q: %w", minimum, err)
	}
	if debversion.Compare(v, lo) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrPythonTooOld, version, minimum)
	}
	return nil
}

// Remove deletes the environment tree. Directories without pyvenv.cfg are
// left alone.
func (m *Manager) Remove(h Handle) error {
	if h.Root == "" || !h.IsVenv() {
		return fmt.Errorf("%s: %w", h.Root, ErrNotVenv)
	}
	m.log().Info("removing virtual environment", "path", h.Root)
	if err := os.RemoveAll(h.Root); err != nil {
		return fmt.Errorf("remove venv: %w", err)
	}
	return nil
}

func (m *Manager) log() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}

var (
	packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?(\[[A-Za-z0-9._,-]+\])?$`)
	versionPattern     = regexp.MustCompile(`^[A-Za-z0-9.*+!_-]+$`)
	separatorRun       = regexp.MustCompile(`[-_.]+`)
)

// PackageSpec builds a pip requirement for name at version.
func PackageSpec(name, version string) (string, error) {
	if !packageNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if version == "" || version == "latest" {
		return name, nil
	}
	if !versionPattern.MatchString(version) {
		return "", fmt.Errorf("%w: version %q", ErrInvalidName, version)
	}
	return name + "==" + version, nil
}

// NormalizeName returns the canonical form of a distribution name:
// lowercase with separator runs collapsed to "-". Extras are dropped.
func NormalizeName(name string) string {
	name, _, _ = strings.Cut(name, "[")
	return strings.ToLower(separatorRun.ReplaceAllString(name, "-"))
}

package introspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/canonical/python-module-explorer/internal/metrics"
	"github.com/canonical/python-module-explorer/internal/runner"
)

// Extractor runs introspection snippets in an interpreter. It holds no
// per-call state and is safe for concurrent use; every call spawns exactly
// one subprocess.
type Extractor struct {
	Invoker   runner.Invoker
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	ChunkSize int
}

func NewExtractor(invoker runner.Invoker, logger *slog.Logger) *Extractor {
	return &Extractor{
		Invoker:   invoker,
		Logger:    logger,
		ChunkSize: DefaultChunkSize,
	}
}

// ExtractAttributes lists the module's namespace as (name, type name)
// pairs. Attributes that raise when read are skipped.
func (e *Extractor) ExtractAttributes(ctx context.Context, module string, env Env) ([]Attribute, error) {
	stdout, err := e.run(ctx, "attributes", module, env, attributesSnippet, module)
	if err != nil {
		return nil, err
	}

	var attrs []Attribute
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &attrs); err != nil {
		return nil, &ProcessError{Module: module, Op: "attributes", Err: fmt.Errorf("decode attributes: %w", err)}
	}
	return dedupeAttributes(attrs), nil
}

// RenderHelp returns the module's full help text. A size mismatch during
// reassembly is logged and the partial text is returned.
func (e *Extractor) RenderHelp(ctx context.Context, module string, env Env) (string, error) {
	text, _, err := e.RenderHelpChecked(ctx, module, env)
	return text, err
}

// RenderHelpChecked is RenderHelp that also reports whether the text
// arrived complete. Partial text comes back with complete false and a nil
// error.
func (e *Extractor) RenderHelpChecked(ctx context.Context, module string, env Env) (text string, complete bool, err error) {
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	stdout, err := e.run(ctx, "help", module, env, helpSnippet, module, strconv.Itoa(chunkSize))
	if err != nil {
		return "", false, err
	}

	stream, err := DecodeHelp(bytes.NewReader(stdout))
	var mismatch *SizeMismatchError
	switch {
	case errors.As(err, &mismatch):
		e.Metrics.SizeMismatch()
		if e.Logger != nil {
			e.Logger.Warn("help text size mismatch",
				"module", module,
				"declared", mismatch.Declared,
				"received", mismatch.Got,
				"chunks", stream.Chunks,
			)
		}
		return stream.Text, false, nil
	case err != nil:
		return "", false, &ProcessError{Module: module, Op: "help", Err: err}
	}
	return stream.Text, true, nil
}

// run executes a snippet and returns stdout, translating the error
// sentinel and process failures into typed errors.
func (e *Extractor) run(ctx context.Context, op, module string, env Env, code string, args ...string) ([]byte, error) {
	if !ValidModuleName(module) {
		return nil, &ImportError{Module: module, Message: "invalid module name"}
	}
	if env == nil || env.Interpreter() == "" {
		return nil, &ProcessError{Module: module, Op: op, Err: errors.New("no interpreter for environment")}
	}

	cmd := runner.CodeCommand(env.Interpreter(), code, args...)
	cmd.Op = op
	cmd.Env = snippetEnv

	res, err := e.Invoker.Run(ctx, cmd)
	if err != nil {
		pe := &ProcessError{Module: module, Op: op, Err: err}
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			pe.ExitCode = exitErr.ExitCode
			pe.Stderr = exitErr.Stderr
		}
		return nil, pe
	}

	if msg, ok := sentinelMessage(res.Stdout); ok {
		if e.Logger != nil {
			e.Logger.Debug("module import failed", "module", module, "op", op, "message", msg)
		}
		return nil, &ImportError{Module: module, Message: msg}
	}
	return res.Stdout, nil
}

// sentinelMessage extracts the message of an "Error: ..." first line.
func sentinelMessage(stdout []byte) (string, bool) {
	line, _, _ := bytes.Cut(stdout, []byte("\n"))
	if !bytes.HasPrefix(line, []byte(errorSentinel)) {
		return "", false
	}
	msg := strings.TrimSpace(string(line[len(errorSentinel):]))
	if msg == "" {
		msg = "unknown error"
	}
	return msg, true
}

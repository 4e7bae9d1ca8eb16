package introspect

import (
	"errors"
	"fmt"
)

// ImportError reports a module that cannot be imported in the target
// environment. Message is the interpreter's one-line explanation.
type ImportError struct {
	Module  string
	Message string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("module %q is not importable: %s", e.Module, e.Message)
}

// ProcessError reports an interpreter that failed to launch, crashed or
// produced output that could not be decoded.
type ProcessError struct {
	Module   string
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s for module %q failed", e.Op, e.Module)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

// SizeMismatchError reports reassembled help text whose length differs
// from the size the interpreter declared. It never crosses the package
// boundary as a failure; RenderHelp logs it and returns the partial text.
type SizeMismatchError struct {
	Declared int
	Got      int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("help text size mismatch: declared %d characters, received %d", e.Declared, e.Got)
}

func IsImportError(err error) bool {
	var ie *ImportError
	return errors.As(err, &ie)
}

func IsProcessError(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe)
}

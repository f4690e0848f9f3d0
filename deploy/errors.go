package deploy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInlineRegression rejects regression models on the inline method. The
// runner protocol prints a decision per row and regressors have none that a
// subprocess line can carry reliably, so the path is closed off entirely.
var ErrInlineRegression = errors.New("inline method does not support regression models, use pymodule or loadable")

// CompilationError reports a missing or failed C toolchain. Output carries
// the compiler diagnostics verbatim.
type CompilationError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CompilationError) Error() string {
	switch {
	case e.Output != "":
		return fmt.Sprintf("compilation failed (%s): %s", strings.Join(e.Args, " "), e.Output)
	case e.Err != nil:
		return fmt.Sprintf("compilation failed: %s", e.Err.Error())
	default:
		return "compilation failed"
	}
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// LoadError reports a shared object that could not be opened or a symbol
// that could not be resolved.
type LoadError struct {
	Path   string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("loading %s: symbol %s: %s", e.Path, e.Symbol, e.Err.Error())
	}
	return fmt.Sprintf("loading %s: %s", e.Path, e.Err.Error())
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

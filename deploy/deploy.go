// Package deploy turns generated C units into runnable prediction artifacts.
// Three methods are supported: inline keeps the source and evaluates through
// a lazily compiled runner subprocess, pymodule binds a compiled shared
// object into the running process, and loadable persists the shared object
// for reuse across processes.
package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ipyana/emlearn/nn"
	"github.com/ipyana/emlearn/options"
	"github.com/ipyana/emlearn/util/fileutil"
)

// Artifact is a deployed model. Predict and PredictProba are safe for
// concurrent use; Close releases whatever the deployment method holds.
type Artifact interface {
	// Method reports the deployment method, one of options.MethodInline,
	// options.MethodPyModule or options.MethodLoadable.
	Method() string
	Task() nn.TaskKind
	InputDim() int
	OutputDim() int
	// Source returns the generated C unit, or nil for re-attached
	// artifacts that never saw one.
	Source() []byte
	WriteSource(path string) error
	// Path names the persisted shared object for the loadable method and
	// is empty otherwise.
	Path() string
	// Predict returns one decision per row: the class index for
	// multi-class models, 0 or 1 for binary models, the predicted value
	// for single-output regressors.
	Predict(rows [][]float32) ([]float32, error)
	// PredictProba returns the raw final-layer scores per row.
	PredictProba(rows [][]float32) ([][]float32, error)
	Stats() Statistics
	Close() error
}

// Build deploys a generated unit according to the resolved options.
func Build(network *nn.Network, source []byte, opts *options.Options) (Artifact, error) {
	switch opts.Method {
	case options.MethodInline:
		return newInline(network, source, opts)
	case options.MethodPyModule:
		return newPyModule(network, source, opts)
	case options.MethodLoadable:
		return newLoadable(network, source, opts)
	default:
		return nil, fmt.Errorf("unknown deployment method %q", opts.Method)
	}
}

// base carries the state every deployment method shares.
type base struct {
	method  string
	task    nn.TaskKind
	inDim   int
	outDim  int
	source  []byte
	logger  *zap.SugaredLogger
	timings timings
	closed  atomic.Bool
}

func newBase(method string, network *nn.Network, source []byte, logger *zap.SugaredLogger) base {
	return base{
		method: method,
		task:   network.Task,
		inDim:  network.InputDim(),
		outDim: network.OutputDim(),
		source: source,
		logger: logger,
	}
}

func (b *base) Method() string { return b.method }

func (b *base) Task() nn.TaskKind { return b.task }

func (b *base) InputDim() int { return b.inDim }

func (b *base) OutputDim() int { return b.outDim }

func (b *base) Source() []byte { return b.source }

func (b *base) Path() string { return "" }

func (b *base) WriteSource(path string) error {
	if b.source == nil {
		return fmt.Errorf("artifact carries no source")
	}
	return fileutil.WriteFileBytes(path, b.source)
}

func (b *base) guard() error {
	if b.closed.Load() {
		return fmt.Errorf("artifact is closed")
	}
	return nil
}

// validateRows rejects the whole batch when any row disagrees with the
// model input width. Failing up front keeps results all-or-nothing.
func validateRows(rows [][]float32, inDim int) error {
	for i, row := range rows {
		if len(row) != inDim {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), inDim)
		}
	}
	return nil
}

// newScope creates a fresh build directory under workDir, or the system
// temp directory when workDir is empty.
func newScope(workDir string) (string, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	scope := filepath.Join(workDir, "emnet-"+uuid.NewString())
	if err := os.MkdirAll(scope, 0o700); err != nil {
		return "", fmt.Errorf("creating build scope: %w", err)
	}
	return scope, nil
}

func removeScope(scope string, keep bool, logger *zap.SugaredLogger) error {
	if scope == "" || keep {
		return nil
	}
	logger.Debugw("removing build scope", "scope", scope)
	return fileutil.DeleteFile(scope)
}

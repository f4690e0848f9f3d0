package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/ipyana/emlearn/codegen"
	"github.com/ipyana/emlearn/nn"
	"github.com/ipyana/emlearn/options"
	"github.com/ipyana/emlearn/util/fileutil"
	"github.com/ipyana/emlearn/util/parallel"
	"github.com/ipyana/emlearn/util/safeconv"
)

// nativeArtifact serves predictions through entry points bound from a
// compiled shared object. The generated routines use automatic buffers
// only, so rows of a batch can run concurrently.
type nativeArtifact struct {
	base
	lib         *library
	path        string
	scope       string
	keepScope   bool
	jobs        int
	closeHandle bool
	closeOnce   sync.Once
	closeErr    error
}

func newPyModule(network *nn.Network, source []byte, opts *options.Options) (Artifact, error) {
	scope, libPath, err := compileToScope(source, opts)
	if err != nil {
		return nil, err
	}
	lib, err := openLibrary(libPath, codegen.SymbolPredict(opts.Name), codegen.SymbolPredictProba(opts.Name))
	if err != nil {
		_ = removeScope(scope, opts.KeepScope, opts.Logger)
		return nil, err
	}
	opts.Logger.Debugw("bound model into process", "library", libPath)
	return &nativeArtifact{
		base:      newBase(options.MethodPyModule, network, source, opts.Logger),
		lib:       lib,
		scope:     scope,
		keepScope: opts.KeepScope,
		jobs:      opts.Jobs,
	}, nil
}

func newLoadable(network *nn.Network, source []byte, opts *options.Options) (Artifact, error) {
	scope, libPath, err := compileToScope(source, opts)
	if err != nil {
		return nil, err
	}
	finalPath := libPath
	persisted := false
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			_ = removeScope(scope, opts.KeepScope, opts.Logger)
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
		finalPath = filepath.Join(opts.OutputDir, opts.Name+".so")
		if err := fileutil.CopyFile(context.Background(), libPath, finalPath); err != nil {
			_ = removeScope(scope, opts.KeepScope, opts.Logger)
			return nil, fmt.Errorf("persisting library: %w", err)
		}
		persisted = true
		if err := removeScope(scope, opts.KeepScope, opts.Logger); err != nil {
			opts.Logger.Warnw("leaving build scope behind", "scope", scope, "error", err)
		}
	}
	lib, err := openLibrary(finalPath, codegen.SymbolPredict(opts.Name), codegen.SymbolPredictProba(opts.Name))
	if err != nil {
		if persisted {
			_ = fileutil.DeleteFile(finalPath)
		} else {
			_ = removeScope(scope, opts.KeepScope, opts.Logger)
		}
		return nil, err
	}
	opts.Logger.Infow("produced loadable library", "path", finalPath)
	return &nativeArtifact{
		base:        newBase(options.MethodLoadable, network, source, opts.Logger),
		lib:         lib,
		path:        finalPath,
		jobs:        opts.Jobs,
		closeHandle: true,
	}, nil
}

// Open re-attaches to a library produced by the loadable method in an
// earlier process. The file must keep the name it was produced with, the
// exported symbols are derived from it. The task and dimensions are not
// recorded in the library, so the caller restates them.
func Open(path string, task nn.TaskKind, inputDim, outputDim int, opts ...options.WithOption) (Artifact, error) {
	resolved, err := options.Apply(opts...)
	if err != nil {
		return nil, err
	}
	if task != nn.TaskClassifier && task != nn.TaskRegressor {
		return nil, fmt.Errorf("unknown task kind %q", task)
	}
	if inputDim < 1 || outputDim < 1 {
		return nil, fmt.Errorf("dimensions must be positive, got %dx%d", inputDim, outputDim)
	}
	prefix := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	lib, err := openLibrary(path, codegen.SymbolPredict(prefix), codegen.SymbolPredictProba(prefix))
	if err != nil {
		return nil, err
	}
	return &nativeArtifact{
		base: base{
			method: options.MethodLoadable,
			task:   task,
			inDim:  inputDim,
			outDim: outputDim,
			logger: resolved.Logger,
		},
		lib:         lib,
		path:        path,
		jobs:        resolved.Jobs,
		closeHandle: true,
	}, nil
}

// compileToScope writes the unit into a fresh scope and compiles it into a
// shared object there.
func compileToScope(source []byte, opts *options.Options) (string, string, error) {
	compiler, err := resolveCompiler(opts.Compiler)
	if err != nil {
		return "", "", err
	}
	scope, err := newScope(opts.WorkDir)
	if err != nil {
		return "", "", err
	}
	srcPath := filepath.Join(scope, opts.Name+".c")
	if err := fileutil.WriteFileBytes(srcPath, source); err != nil {
		_ = removeScope(scope, opts.KeepScope, opts.Logger)
		return "", "", fmt.Errorf("writing source: %w", err)
	}
	libPath := filepath.Join(scope, opts.Name+".so")
	if err := compileShared(opts.Logger, compiler, srcPath, libPath, opts.CFlags); err != nil {
		_ = removeScope(scope, opts.KeepScope, opts.Logger)
		return "", "", err
	}
	return scope, libPath, nil
}

func (a *nativeArtifact) Path() string {
	return a.path
}

func (a *nativeArtifact) Predict(rows [][]float32) ([]float32, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	if a.task == nn.TaskRegressor && a.outDim > 1 {
		return nil, fmt.Errorf("multi-output regressor has no scalar prediction, use PredictProba")
	}
	if err := validateRows(rows, a.inDim); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []float32{}, nil
	}
	start := time.Now()
	predictions := make([]float32, len(rows))
	err := parallel.ForEach(len(rows), a.jobs, func(i int) error {
		out := make([]float32, 1)
		if status := callEntry(a.lib.predict, rows[i], out); status != 0 {
			return fmt.Errorf("row %d: predict returned status %d", i, status)
		}
		predictions[i] = out[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.record(len(rows), start)
	return predictions, nil
}

func (a *nativeArtifact) PredictProba(rows [][]float32) ([][]float32, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	if err := validateRows(rows, a.inDim); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	scores := make([][]float32, len(rows))
	err := parallel.ForEach(len(rows), a.jobs, func(i int) error {
		out := make([]float32, a.outDim)
		if status := callEntry(a.lib.proba, rows[i], out); status != 0 {
			return fmt.Errorf("row %d: predict_proba returned status %d", i, status)
		}
		scores[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.record(len(rows), start)
	return scores, nil
}

func (a *nativeArtifact) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		var errs []error
		if a.closeHandle {
			errs = append(errs, a.lib.close())
		}
		errs = append(errs, removeScope(a.scope, a.keepScope, a.logger))
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func callEntry(fn entryFunc, row, out []float32) int32 {
	return fn(
		unsafe.Pointer(&row[0]), safeconv.IntToInt32(len(row)),
		unsafe.Pointer(&out[0]), safeconv.IntToInt32(len(out)),
	)
}

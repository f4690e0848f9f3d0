// Package options configures conversions. Callers stack WithOption values
// over Defaults; option constructors validate their arguments and fail fast
// instead of panicking later in the pipeline.
package options

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"
)

// Deployment methods.
const (
	MethodInline   = "inline"
	MethodPyModule = "pymodule"
	MethodLoadable = "loadable"
)

// Return type overrides.
const (
	ReturnAuto       = "auto"
	ReturnClassifier = "classifier"
	ReturnRegressor  = "regressor"
)

// Options carries every knob a conversion honors.
type Options struct {
	// Method is the deployment strategy: inline, pymodule or loadable.
	Method string
	// ReturnType forces the prediction task instead of inferring it.
	ReturnType string
	// Name prefixes the generated symbols and output file names.
	Name string
	// WorkDir hosts the per-conversion build scopes. Empty means the
	// system temp directory.
	WorkDir string
	// OutputDir is where the loadable method persists its library.
	// Empty means the conversion's build scope.
	OutputDir string
	// Compiler overrides C toolchain discovery.
	Compiler string
	// CFlags are appended to the built-in compiler flags.
	CFlags []string
	// KeepScope retains build scopes instead of cleaning them up.
	KeepScope bool
	// Jobs bounds batch prediction concurrency.
	Jobs int
	// Logger receives progress and diagnostics. Defaults to a nop logger.
	Logger *zap.SugaredLogger
}

func Defaults() *Options {
	return &Options{
		Method:     MethodPyModule,
		ReturnType: ReturnAuto,
		Name:       "emnet",
		Jobs:       max(cpuid.CPU.PhysicalCores, 1),
		Logger:     zap.NewNop().Sugar(),
	}
}

type WithOption func(o *Options) error

// Apply folds option functions over Defaults.
func Apply(opts ...WithOption) (*Options, error) {
	resolved := Defaults()
	for _, opt := range opts {
		if err := opt(resolved); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func WithMethod(method string) WithOption {
	return func(o *Options) error {
		switch method {
		case MethodInline, MethodPyModule, MethodLoadable:
			o.Method = method
			return nil
		default:
			return fmt.Errorf("unknown deployment method %q, want %s, %s or %s", method, MethodInline, MethodPyModule, MethodLoadable)
		}
	}
}

func WithReturnType(returnType string) WithOption {
	return func(o *Options) error {
		switch returnType {
		case ReturnAuto, ReturnClassifier, ReturnRegressor:
			o.ReturnType = returnType
			return nil
		default:
			return fmt.Errorf("unknown return type %q, want %s, %s or %s", returnType, ReturnAuto, ReturnClassifier, ReturnRegressor)
		}
	}
}

// WithName sets the symbol and file prefix of the generated unit.
func WithName(name string) WithOption {
	return func(o *Options) error {
		if name == "" {
			return fmt.Errorf("name cannot be empty")
		}
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("name %q cannot contain path separators", name)
		}
		o.Name = name
		return nil
	}
}

func WithWorkDir(dir string) WithOption {
	return func(o *Options) error {
		if dir == "" {
			return fmt.Errorf("work directory cannot be empty")
		}
		o.WorkDir = dir
		return nil
	}
}

// WithOutputDir sets where the loadable method persists its library.
func WithOutputDir(dir string) WithOption {
	return func(o *Options) error {
		if dir == "" {
			return fmt.Errorf("output directory cannot be empty")
		}
		o.OutputDir = dir
		return nil
	}
}

// WithCompiler pins the C toolchain executable instead of searching PATH.
func WithCompiler(compiler string) WithOption {
	return func(o *Options) error {
		if compiler == "" {
			return fmt.Errorf("compiler cannot be empty")
		}
		o.Compiler = compiler
		return nil
	}
}

// WithCFlags appends extra flags to the compiler invocation.
func WithCFlags(flags ...string) WithOption {
	return func(o *Options) error {
		o.CFlags = append(o.CFlags, flags...)
		return nil
	}
}

// WithKeepScope retains per-conversion build directories for debugging.
func WithKeepScope() WithOption {
	return func(o *Options) error {
		o.KeepScope = true
		return nil
	}
}

// WithJobs bounds how many rows of a batch are evaluated concurrently.
func WithJobs(jobs int) WithOption {
	return func(o *Options) error {
		if jobs < 1 {
			return fmt.Errorf("jobs must be at least 1, got %d", jobs)
		}
		o.Jobs = jobs
		return nil
	}
}

func WithLogger(logger *zap.SugaredLogger) WithOption {
	return func(o *Options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.Logger = logger
		return nil
	}
}

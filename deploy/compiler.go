package deploy

import (
	"errors"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

const envCompiler = "EMLEARN_CC"

// baseCFlags apply to every compile. Contraction is disabled so the
// compiled arithmetic keeps the same operation order as the float32
// reference evaluator.
var baseCFlags = []string{"-std=c99", "-O2", "-ffp-contract=off"}

// resolveCompiler picks the C toolchain: the explicit option wins, then
// $EMLEARN_CC, then the first of cc, gcc and clang found on PATH.
func resolveCompiler(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(envCompiler); env != "" {
		return env, nil
	}
	for _, candidate := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", &CompilationError{Err: errors.New("no C compiler found, install cc, gcc or clang or set " + envCompiler)}
}

// compileShared builds a shared object from the generated unit.
func compileShared(logger *zap.SugaredLogger, compiler, srcPath, outPath string, extra []string) error {
	args := append([]string{}, baseCFlags...)
	args = append(args, "-fPIC", "-shared")
	return compileUnit(logger, compiler, srcPath, outPath, args, extra)
}

// compileRunner builds the standalone row evaluator by defining the main
// guard macro of the unit.
func compileRunner(logger *zap.SugaredLogger, compiler, srcPath, outPath, mainMacro string, extra []string) error {
	args := append([]string{}, baseCFlags...)
	args = append(args, "-D"+mainMacro)
	return compileUnit(logger, compiler, srcPath, outPath, args, extra)
}

func compileUnit(logger *zap.SugaredLogger, compiler, srcPath, outPath string, args, extra []string) error {
	args = append(args, extra...)
	args = append(args, "-o", outPath, srcPath, "-lm")
	logger.Debugw("compiling", "compiler", compiler, "args", args)
	output, err := exec.Command(compiler, args...).CombinedOutput()
	if err != nil {
		return &CompilationError{
			Args:   append([]string{compiler}, args...),
			Output: string(output),
			Err:    err,
		}
	}
	return nil
}

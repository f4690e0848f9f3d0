package deploy

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ipyana/emlearn/codegen"
	"github.com/ipyana/emlearn/nn"
	"github.com/ipyana/emlearn/options"
	"github.com/ipyana/emlearn/util/fileutil"
)

// inlineArtifact carries the generated source and evaluates rows through
// the unit's self-test main, compiled on first use. Deploying inline never
// invokes a toolchain, so it works where no compiler is installed as long
// as predictions are not requested.
type inlineArtifact struct {
	base
	name      string
	workDir   string
	compiler  string
	cflags    []string
	keepScope bool

	runnerOnce sync.Once
	runnerPath string
	runnerErr  error
	scope      string

	closeOnce sync.Once
	closeErr  error
}

func newInline(network *nn.Network, source []byte, opts *options.Options) (Artifact, error) {
	return &inlineArtifact{
		base:      newBase(options.MethodInline, network, source, opts.Logger),
		name:      opts.Name,
		workDir:   opts.WorkDir,
		compiler:  opts.Compiler,
		cflags:    opts.CFlags,
		keepScope: opts.KeepScope,
	}, nil
}

func (a *inlineArtifact) Predict(rows [][]float32) ([]float32, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	if a.task == nn.TaskRegressor {
		return nil, ErrInlineRegression
	}
	if err := validateRows(rows, a.inDim); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []float32{}, nil
	}
	start := time.Now()
	parsed, err := a.evaluate(rows)
	if err != nil {
		return nil, err
	}
	predictions := make([]float32, len(rows))
	for i, fields := range parsed {
		v, err := strconv.ParseFloat(fields[0], 32)
		if err != nil {
			return nil, fmt.Errorf("runner row %d: parsing decision %q: %w", i, fields[0], err)
		}
		predictions[i] = float32(v)
	}
	a.record(len(rows), start)
	return predictions, nil
}

func (a *inlineArtifact) PredictProba(rows [][]float32) ([][]float32, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	if a.task == nn.TaskRegressor {
		return nil, ErrInlineRegression
	}
	if err := validateRows(rows, a.inDim); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	parsed, err := a.evaluate(rows)
	if err != nil {
		return nil, err
	}
	scores := make([][]float32, len(rows))
	for i, fields := range parsed {
		row := make([]float32, a.outDim)
		for j, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("runner row %d: parsing score %q: %w", i, field, err)
			}
			row[j] = float32(v)
		}
		scores[i] = row
	}
	a.record(len(rows), start)
	return scores, nil
}

// runner compiles the self-test evaluator on first use.
func (a *inlineArtifact) runner() (string, error) {
	a.runnerOnce.Do(func() {
		compiler, err := resolveCompiler(a.compiler)
		if err != nil {
			a.runnerErr = err
			return
		}
		scope, err := newScope(a.workDir)
		if err != nil {
			a.runnerErr = err
			return
		}
		srcPath := filepath.Join(scope, a.name+".c")
		if err := fileutil.WriteFileBytes(srcPath, a.source); err != nil {
			_ = removeScope(scope, a.keepScope, a.logger)
			a.runnerErr = fmt.Errorf("writing source: %w", err)
			return
		}
		runnerPath := filepath.Join(scope, a.name+"-runner")
		if err := compileRunner(a.logger, compiler, srcPath, runnerPath, codegen.MainMacro(a.name), a.cflags); err != nil {
			_ = removeScope(scope, a.keepScope, a.logger)
			a.runnerErr = err
			return
		}
		a.logger.Debugw("compiled inline runner", "runner", runnerPath)
		a.scope = scope
		a.runnerPath = runnerPath
	})
	return a.runnerPath, a.runnerErr
}

// evaluate streams the batch through one runner invocation and splits the
// output into per-row fields: the decision followed by the raw scores.
func (a *inlineArtifact) evaluate(rows [][]float32) ([][]string, error) {
	runner, err := a.runner()
	if err != nil {
		return nil, err
	}
	var input bytes.Buffer
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				input.WriteByte(' ')
			}
			input.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		input.WriteByte('\n')
	}
	cmd := exec.Command(runner)
	cmd.Stdin = &input
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("runner failed: %w: %s", err, stderr.String())
	}
	raw := strings.TrimSpace(string(output))
	var lines []string
	if raw != "" {
		lines = strings.Split(raw, "\n")
	}
	if len(lines) != len(rows) {
		return nil, fmt.Errorf("runner produced %d rows, want %d", len(lines), len(rows))
	}
	parsed := make([][]string, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 1+a.outDim {
			return nil, fmt.Errorf("runner row %d has %d fields, want %d", i, len(fields), 1+a.outDim)
		}
		parsed[i] = fields
	}
	return parsed, nil
}

func (a *inlineArtifact) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.closeErr = removeScope(a.scope, a.keepScope, a.logger)
	})
	return a.closeErr
}

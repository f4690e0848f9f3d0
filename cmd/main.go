package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ipyana/emlearn"
	"github.com/ipyana/emlearn/options"
	"github.com/ipyana/emlearn/util/fileutil"
)

var modelPath string
var methodName string
var unitName string
var outputPath string
var inputPath string
var compilerPath string
var compilerFlags string
var withProba bool
var jobs int
var batchSize int

var generateCommand = &cli.Command{
	Name:  "generate",
	Usage: "Convert a model file into C inference code or a loadable library",
	Description: `Generate reads a JSON model document and emits the inference implementation.
				With --method inline the generated C unit is written to <output>/<name>.c.
				With --method loadable the unit is compiled and the shared library is persisted at <output>/<name>.so.
				The produced path is printed on stdout.
				`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Path to the JSON model document",
			Aliases:     []string{"m"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "method",
			Usage:       "Deployment method: inline or loadable",
			Aliases:     []string{"d"},
			Destination: &methodName,
			Value:       options.MethodInline,
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Symbol and file prefix of the generated unit",
			Aliases:     []string{"n"},
			Destination: &unitName,
			Value:       "emnet",
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Directory where the result is placed",
			Aliases:     []string{"o"},
			Destination: &outputPath,
			Value:       ".",
		},
		&cli.StringFlag{
			Name:        "cc",
			Usage:       "C compiler executable, falls back to $EMLEARN_CC and PATH discovery",
			Destination: &compilerPath,
		},
		&cli.StringFlag{
			Name:        "cflags",
			Usage:       "Extra compiler flags, space separated",
			Destination: &compilerFlags,
		},
	},
	Action: func(_ *cli.Context) (err error) {
		logger, err := buildLogger()
		if err != nil {
			return err
		}
		opts, err := conversionOptions(logger)
		if err != nil {
			return err
		}

		switch methodName {
		case options.MethodInline:
			artifact, convertErr := emlearn.ConvertFile(modelPath, opts...)
			if convertErr != nil {
				return convertErr
			}
			defer func() { err = errors.Join(err, artifact.Close()) }()
			target := fileutil.PathJoinSafe(outputPath, unitName+".c")
			if err = artifact.WriteSource(target); err != nil {
				return err
			}
			fmt.Println(target)
			return err
		case options.MethodLoadable:
			artifact, convertErr := emlearn.ConvertFile(modelPath, append(opts, options.WithOutputDir(outputPath))...)
			if convertErr != nil {
				return convertErr
			}
			defer func() { err = errors.Join(err, artifact.Close()) }()
			fmt.Println(artifact.Path())
			return err
		default:
			return fmt.Errorf("generate produces files, use --method inline or loadable, not %s", methodName)
		}
	},
}

var predictCommand = &cli.Command{
	Name:  "predict",
	Usage: "Run predictions over JSONL feature rows",
	Description: `Predict converts the model and evaluates feature rows against it.
				Each input line must be of the format {"features": [1.5, 2.0]}.
				Rows are read from --input when given, from stdin otherwise, and results
				are written as {"prediction": ...} or, with --proba, {"proba": [...]}
				lines in input order.
				`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Path to the JSON model document",
			Aliases:     []string{"m"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "method",
			Usage:       "Deployment method to predict with",
			Aliases:     []string{"d"},
			Destination: &methodName,
			Value:       options.MethodPyModule,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl file with feature rows. If omitted, rows are read from stdin",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to write results to. If omitted, results are sent to stdout",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.BoolFlag{
			Name:        "proba",
			Usage:       "Emit raw scores instead of decisions",
			Aliases:     []string{"p"},
			Destination: &withProba,
		},
		&cli.IntFlag{
			Name:        "jobs",
			Usage:       "Rows evaluated concurrently within a batch",
			Aliases:     []string{"j"},
			Destination: &jobs,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of rows to evaluate per batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       20,
		},
		&cli.StringFlag{
			Name:        "cc",
			Usage:       "C compiler executable, falls back to $EMLEARN_CC and PATH discovery",
			Destination: &compilerPath,
		},
		&cli.StringFlag{
			Name:        "cflags",
			Usage:       "Extra compiler flags, space separated",
			Destination: &compilerFlags,
		},
	},
	Action: func(_ *cli.Context) (err error) {
		logger, err := buildLogger()
		if err != nil {
			return err
		}
		opts, err := conversionOptions(logger)
		if err != nil {
			return err
		}
		if jobs > 0 {
			opts = append(opts, options.WithJobs(jobs))
		}

		var source io.Reader
		if inputPath != "" {
			data, readErr := fileutil.ReadFileBytes(inputPath)
			if readErr != nil {
				return readErr
			}
			source = bytes.NewReader(data)
		} else {
			if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				return errors.New("refusing to read feature rows from a terminal, pipe JSONL input or pass --input")
			}
			source = os.Stdin
		}

		artifact, err := emlearn.ConvertFile(modelPath, opts...)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, artifact.Close()) }()

		var writer io.Writer = os.Stdout
		if outputPath != "" {
			fileWriter, writerErr := fileutil.NewFileWriter(outputPath, "application/jsonl")
			if writerErr != nil {
				return writerErr
			}
			defer func() { err = errors.Join(err, fileWriter.Close()) }()
			writer = fileWriter
		}

		batchChannel := make(chan [][]float32, 1000)
		resultChannel := make(chan []byte, 1000)
		errorChannel := make(chan error, 1000)
		var failed atomic.Int64
		var predictWg, writeWg sync.WaitGroup

		predictWg.Add(1)
		go predictBatches(&predictWg, batchChannel, resultChannel, errorChannel, artifact)
		writeWg.Add(1)
		go writeResults(&writeWg, resultChannel, errorChannel, &failed, writer)

		readErr := readRows(source, batchChannel)

		close(batchChannel)
		predictWg.Wait()
		close(resultChannel)
		close(errorChannel)
		writeWg.Wait()

		if readErr != nil {
			return readErr
		}
		if n := failed.Load(); n > 0 {
			return fmt.Errorf("%d batches failed", n)
		}
		return err
	},
}

func main() {
	app := &cli.App{
		Name:     "emlearn",
		Usage:    "Convert trained neural networks into compact C inference code",
		Commands: []*cli.Command{generateCommand, predictCommand},
	}
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}

// Configuration resolves through the environment: EMLEARN_CC, EMLEARN_CFLAGS,
// EMLEARN_WORKDIR and EMLEARN_LOG_LEVEL. Explicit flags win.
func init() {
	viper.SetEnvPrefix("emlearn")
	viper.AutomaticEnv()
	viper.SetDefault("log_level", "info")
}

func buildLogger() (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func conversionOptions(logger *zap.SugaredLogger) ([]options.WithOption, error) {
	opts := []options.WithOption{
		options.WithLogger(logger),
		options.WithMethod(methodName),
	}
	if unitName != "" {
		opts = append(opts, options.WithName(unitName))
	}
	compiler := compilerPath
	if compiler == "" {
		compiler = viper.GetString("cc")
	}
	if compiler != "" {
		opts = append(opts, options.WithCompiler(compiler))
	}
	cflags := compilerFlags
	if cflags == "" {
		cflags = viper.GetString("cflags")
	}
	if cflags != "" {
		opts = append(opts, options.WithCFlags(strings.Fields(cflags)...))
	}
	if workDir := viper.GetString("workdir"); workDir != "" {
		opts = append(opts, options.WithWorkDir(workDir))
	}
	return opts, nil
}

type featureRow struct {
	Features []float32 `json:"features"`
}

type decisionRow struct {
	Prediction float32 `json:"prediction"`
}

type probaRow struct {
	Proba []float32 `json:"proba"`
}

func readRows(source io.Reader, batchChannel chan [][]float32) error {
	batch := make([][]float32, 0, batchSize)
	scanner := bufio.NewScanner(source)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var line featureRow
		if err := jsoniter.Unmarshal(scanner.Bytes(), &line); err != nil {
			return fmt.Errorf("parsing input row: %w", err)
		}
		batch = append(batch, line.Features)
		if len(batch) == batchSize {
			batchChannel <- batch
			batch = make([][]float32, 0, batchSize)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// flush
	if len(batch) > 0 {
		batchChannel <- batch
	}
	return nil
}

func predictBatches(wg *sync.WaitGroup, batchChannel chan [][]float32, resultChannel chan []byte, errorChannel chan error, artifact emlearn.Artifact) {
	for batch := range batchChannel {
		if withProba {
			scores, err := artifact.PredictProba(batch)
			if err != nil {
				errorChannel <- err
				continue
			}
			for _, score := range scores {
				marshalResult(probaRow{Proba: score}, resultChannel, errorChannel)
			}
		} else {
			predictions, err := artifact.Predict(batch)
			if err != nil {
				errorChannel <- err
				continue
			}
			for _, prediction := range predictions {
				marshalResult(decisionRow{Prediction: prediction}, resultChannel, errorChannel)
			}
		}
	}
	wg.Done()
}

func marshalResult(result any, resultChannel chan []byte, errorChannel chan error) {
	payload, err := jsoniter.Marshal(result)
	if err != nil {
		errorChannel <- err
		return
	}
	resultChannel <- payload
}

func writeResults(wg *sync.WaitGroup, resultChannel chan []byte, errorChannel chan error, failed *atomic.Int64, writeTarget io.Writer) {
	for resultChannel != nil || errorChannel != nil {
		select {
		case result, ok := <-resultChannel:
			if !ok {
				resultChannel = nil
				continue
			}
			if _, err := writeTarget.Write(result); err != nil {
				panic(err)
			}
			if _, err := writeTarget.Write([]byte("\n")); err != nil {
				panic(err)
			}
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
				continue
			}
			failed.Add(1)
			if _, writeErr := os.Stderr.WriteString(err.Error() + "\n"); writeErr != nil {
				panic(writeErr)
			}
		}
	}
	wg.Done()
}

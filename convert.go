package emlearn

import (
	"github.com/ipyana/emlearn/codegen"
	"github.com/ipyana/emlearn/deploy"
	"github.com/ipyana/emlearn/extract"
	"github.com/ipyana/emlearn/options"
)

// Convert turns a trained model into a deployed prediction artifact. The
// caller owns the artifact and is responsible for closing it; conversions
// that should be closed together belong in a Session.
func Convert(model any, opts ...options.WithOption) (Artifact, error) {
	resolved, err := options.Apply(opts...)
	if err != nil {
		return nil, err
	}
	return convert(model, resolved)
}

// ConvertFile converts a JSON model document. Paths resolve through the afs
// file system, so s3:// and other supported schemes work.
func ConvertFile(path string, opts ...options.WithOption) (Artifact, error) {
	estimator, err := extract.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Convert(estimator, opts...)
}

// convert runs extract, generate and deploy with resolved options.
func convert(model any, resolved *options.Options) (deploy.Artifact, error) {
	network, err := extract.FromModel(model, extract.Config{ReturnType: resolved.ReturnType})
	if err != nil {
		return nil, err
	}
	source, err := codegen.Generate(network, codegen.Config{Prefix: resolved.Name})
	if err != nil {
		return nil, err
	}
	resolved.Logger.Debugw("generated inference unit",
		"name", resolved.Name,
		"task", network.Task,
		"inputs", network.InputDim(),
		"outputs", network.OutputDim(),
		"layers", len(network.Layers),
		"method", resolved.Method)
	return deploy.Build(network, source, resolved)
}

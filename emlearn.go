// Package emlearn converts trained feed-forward neural networks into
// compact, dependency-free C inference code and runs the result. Models
// from recognized training ecosystems are extracted into a validated
// intermediate network, rendered as a self-contained C99 unit, and
// deployed through one of three methods: inline (source only, evaluated
// through a lazily compiled runner), pymodule (bound into the running
// process) or loadable (persisted shared object usable across processes).
package emlearn

import (
	"errors"
	"slices"
	"sync"

	"github.com/ipyana/emlearn/deploy"
	"github.com/ipyana/emlearn/extract"
	"github.com/ipyana/emlearn/nn"
	"github.com/ipyana/emlearn/options"

	_ "github.com/ipyana/emlearn/sources/godeep"
)

// Artifact is a deployed model, re-exported for callers that only import
// the root package.
type Artifact = deploy.Artifact

// Statistics reports an artifact's usage counters.
type Statistics = deploy.Statistics

// Network is the validated intermediate form every conversion goes through.
type Network = nn.Network

// TaskKind distinguishes classifiers from regressors.
type TaskKind = nn.TaskKind

// WithOption configures a conversion.
type WithOption = options.WithOption

const (
	TaskClassifier = nn.TaskClassifier
	TaskRegressor  = nn.TaskRegressor

	MethodInline   = options.MethodInline
	MethodPyModule = options.MethodPyModule
	MethodLoadable = options.MethodLoadable
)

// Open re-attaches to a library produced by the loadable method in an
// earlier process. The caller restates the task and dimensions, which are
// not recorded in the library itself.
func Open(path string, task TaskKind, inputDim, outputDim int, opts ...WithOption) (Artifact, error) {
	return deploy.Open(path, task, inputDim, outputDim, opts...)
}

// Session converts models with shared options and holds every artifact it
// produced, so that all of them can be closed with a single Destroy call.
type Session struct {
	options   *options.Options
	mu        sync.Mutex
	artifacts []deploy.Artifact
}

func NewSession(opts ...options.WithOption) (*Session, error) {
	resolved, err := options.Apply(opts...)
	if err != nil {
		return nil, err
	}
	return &Session{options: resolved}, nil
}

// Convert runs the conversion pipeline on a trained model. Per-call options
// apply on top of the session options.
func (s *Session) Convert(model any, opts ...options.WithOption) (Artifact, error) {
	resolved, err := s.callOptions(opts)
	if err != nil {
		return nil, err
	}
	artifact, err := convert(model, resolved)
	if err != nil {
		return nil, err
	}
	s.track(artifact)
	return artifact, nil
}

// ConvertFile converts a JSON model document through the session.
func (s *Session) ConvertFile(path string, opts ...options.WithOption) (Artifact, error) {
	resolved, err := s.callOptions(opts)
	if err != nil {
		return nil, err
	}
	estimator, err := extract.LoadFile(path)
	if err != nil {
		return nil, err
	}
	artifact, err := convert(estimator, resolved)
	if err != nil {
		return nil, err
	}
	s.track(artifact)
	return artifact, nil
}

// Destroy closes every artifact the session produced, joining failures.
// A session should be destroyed when not needed any more, preferably with
// a defer() call.
func (s *Session) Destroy() error {
	s.mu.Lock()
	artifacts := s.artifacts
	s.artifacts = nil
	s.mu.Unlock()
	var err error
	for _, artifact := range artifacts {
		err = errors.Join(err, artifact.Close())
	}
	return err
}

func (s *Session) callOptions(opts []options.WithOption) (*options.Options, error) {
	resolved := *s.options
	resolved.CFlags = slices.Clone(s.options.CFlags)
	for _, opt := range opts {
		if err := opt(&resolved); err != nil {
			return nil, err
		}
	}
	return &resolved, nil
}

func (s *Session) track(artifact deploy.Artifact) {
	s.mu.Lock()
	s.artifacts = append(s.artifacts, artifact)
	s.mu.Unlock()
}

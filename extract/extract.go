// Package extract turns trained models from supported training ecosystems
// into the nn intermediate representation. Ecosystems are detected by
// probing for characteristic parameter-accessor shapes rather than by exact
// types; new ecosystems plug in through Register without touching the
// shared extraction logic.
package extract

import (
	"fmt"
	"sync"

	"github.com/ipyana/emlearn/nn"
)

// Return type identifiers accepted by Config.ReturnType.
const (
	ReturnAuto       = "auto"
	ReturnClassifier = "classifier"
	ReturnRegressor  = "regressor"
)

// Config adjusts how a source model is interpreted.
type Config struct {
	// ReturnType forces the prediction task instead of inferring it from
	// the output layer: "auto" (default), "classifier" or "regressor".
	ReturnType string
}

// ExtractionError reports a source model that could not be turned into a
// network: unrecognized type, malformed parameters, or an invalid topology.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model extraction failed: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("model extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ProbeFunc inspects a model value and, when it recognizes the ecosystem it
// was registered for, returns a Sequential view of it.
type ProbeFunc func(model any) (Sequential, bool)

var (
	probesMu sync.RWMutex
	probes   []ecosystemProbe
)

type ecosystemProbe struct {
	name  string
	probe ProbeFunc
}

// Register adds a training-ecosystem probe. Adapter packages call it from
// init; probes run after the built-in shapes, in registration order.
func Register(name string, probe ProbeFunc) {
	probesMu.Lock()
	defer probesMu.Unlock()
	probes = append(probes, ecosystemProbe{name: name, probe: probe})
}

// FromModel extracts a validated network from a trained model. The model is
// matched against the estimator shape, then the sequential shape, then the
// registered ecosystem probes.
func FromModel(model any, cfg Config) (*nn.Network, error) {
	if model == nil {
		return nil, &ExtractionError{Reason: "model is nil"}
	}
	switch m := model.(type) {
	case Estimator:
		return fromEstimator(m, cfg)
	case Sequential:
		return fromSequential(m, cfg)
	}

	probesMu.RLock()
	candidates := make([]ecosystemProbe, len(probes))
	copy(candidates, probes)
	probesMu.RUnlock()

	for _, candidate := range candidates {
		if seq, ok := candidate.probe(model); ok {
			return fromSequential(seq, cfg)
		}
	}
	return nil, &ExtractionError{Reason: fmt.Sprintf("model type %T matches no known accessor shape", model)}
}

// buildNetwork finishes extraction: task resolution followed by structural
// validation.
func buildNetwork(layers []nn.Layer, cfg Config) (*nn.Network, error) {
	task, err := resolveTask(layers, cfg.ReturnType)
	if err != nil {
		return nil, err
	}
	network := &nn.Network{Layers: layers, Task: task}
	if err := network.Validate(); err != nil {
		return nil, &ExtractionError{Reason: "extracted network is invalid", Err: err}
	}
	return network, nil
}

func resolveTask(layers []nn.Layer, returnType string) (nn.TaskKind, error) {
	switch returnType {
	case "", ReturnAuto:
	case ReturnClassifier:
		return nn.TaskClassifier, nil
	case ReturnRegressor:
		return nn.TaskRegressor, nil
	default:
		return "", &ExtractionError{Reason: fmt.Sprintf("unknown return type %q", returnType)}
	}

	final := layers[len(layers)-1]
	switch final.Activation {
	case nn.ActivationSoftmax:
		return nn.TaskClassifier, nil
	case nn.ActivationSigmoid:
		if final.Outputs == 1 {
			return nn.TaskClassifier, nil
		}
		return "", &ExtractionError{Reason: fmt.Sprintf("sigmoid output with %d units is ambiguous, set an explicit return type", final.Outputs)}
	default:
		return nn.TaskRegressor, nil
	}
}

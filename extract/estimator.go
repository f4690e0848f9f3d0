package extract

import (
	"fmt"

	"github.com/ipyana/emlearn/nn"
)

// Estimator is the flat accessor shape carried by scikit-learn style MLP
// estimators: per-layer weight matrices oriented inputs x outputs, one
// activation identifier for all hidden layers and one for the output layer.
type Estimator interface {
	Coefs() [][][]float64
	Intercepts() [][]float64
	ActivationName() string
	OutActivationName() string
}

func fromEstimator(m Estimator, cfg Config) (*nn.Network, error) {
	coefs := m.Coefs()
	intercepts := m.Intercepts()
	if len(coefs) == 0 {
		return nil, &ExtractionError{Reason: "estimator has no weight matrices"}
	}
	if len(coefs) != len(intercepts) {
		return nil, &ExtractionError{Reason: fmt.Sprintf("estimator has %d weight matrices but %d intercept vectors", len(coefs), len(intercepts))}
	}

	hidden, err := nn.LookupActivation(m.ActivationName())
	if err != nil {
		return nil, err
	}
	out, err := nn.LookupActivation(m.OutActivationName())
	if err != nil {
		return nil, err
	}

	layers := make([]nn.Layer, len(coefs))
	for i := range coefs {
		activation := hidden
		if i == len(coefs)-1 {
			activation = out
		}
		layer, err := denseFromMatrix(coefs[i], intercepts[i], activation)
		if err != nil {
			return nil, &ExtractionError{Reason: fmt.Sprintf("layer %d", i), Err: err}
		}
		layers[i] = layer
	}
	return buildNetwork(layers, cfg)
}

// denseFromMatrix converts an inputs x outputs float64 matrix and its bias
// into a row-major float32 layer.
func denseFromMatrix(weights [][]float64, bias []float64, activation nn.ActivationKind) (nn.Layer, error) {
	inputs := len(weights)
	if inputs == 0 {
		return nn.Layer{}, fmt.Errorf("empty weight matrix")
	}
	outputs := len(weights[0])
	if outputs == 0 {
		return nn.Layer{}, fmt.Errorf("weight matrix has no output columns")
	}
	if len(bias) != outputs {
		return nn.Layer{}, fmt.Errorf("bias has %d terms, weight matrix has %d outputs", len(bias), outputs)
	}

	flat := make([]float32, inputs*outputs)
	for i, row := range weights {
		if len(row) != outputs {
			return nn.Layer{}, fmt.Errorf("ragged weight matrix: row %d has %d columns, want %d", i, len(row), outputs)
		}
		for o, v := range row {
			flat[o*inputs+i] = float32(v)
		}
	}
	biases := make([]float32, outputs)
	for o, v := range bias {
		biases[o] = float32(v)
	}
	return nn.Layer{
		Weights:    flat,
		Bias:       biases,
		Inputs:     inputs,
		Outputs:    outputs,
		Activation: activation,
	}, nil
}

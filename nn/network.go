// Package nn holds the intermediate representation every source model is
// extracted into: an ordered stack of dense layers with fixed activation
// kinds. The code generator and the deployment runtimes consume this form
// only, so supporting a new training ecosystem never touches them.
package nn

import (
	"errors"
	"fmt"

	"github.com/ipyana/emlearn/util/vectorutil"
)

// TaskKind is the prediction task a network was trained for.
type TaskKind string

const (
	TaskClassifier TaskKind = "classifier"
	TaskRegressor  TaskKind = "regressor"
)

// Layer is one dense layer. Weights are row-major, one row of Inputs
// coefficients per output unit.
type Layer struct {
	Weights    []float32
	Bias       []float32
	Inputs     int
	Outputs    int
	Activation ActivationKind
}

// Network is a validated feed-forward model ready for code generation.
type Network struct {
	Layers []Layer
	Task   TaskKind
}

func (n *Network) InputDim() int {
	if len(n.Layers) == 0 {
		return 0
	}
	return n.Layers[0].Inputs
}

func (n *Network) OutputDim() int {
	if len(n.Layers) == 0 {
		return 0
	}
	return n.Layers[len(n.Layers)-1].Outputs
}

// MaxWidth is the widest layer boundary in the network. The evaluators size
// their scratch buffers with it.
func (n *Network) MaxWidth() int {
	width := n.InputDim()
	for _, l := range n.Layers {
		if l.Outputs > width {
			width = l.Outputs
		}
	}
	return width
}

// Binary reports whether the network is a single-unit sigmoid classifier.
func (n *Network) Binary() bool {
	if n.Task != TaskClassifier || len(n.Layers) == 0 {
		return false
	}
	final := n.Layers[len(n.Layers)-1]
	return final.Activation == ActivationSigmoid && final.Outputs == 1
}

// Validate checks the structural invariants and reports every violation.
func (n *Network) Validate() error {
	var validationErrors []error
	if len(n.Layers) == 0 {
		validationErrors = append(validationErrors, errors.New("network has no layers"))
	}
	if n.Task != TaskClassifier && n.Task != TaskRegressor {
		validationErrors = append(validationErrors, fmt.Errorf("unknown task kind %q", n.Task))
	}
	for i := range n.Layers {
		l := &n.Layers[i]
		if l.Inputs <= 0 || l.Outputs <= 0 {
			validationErrors = append(validationErrors, fmt.Errorf("layer %d has non-positive dimensions %dx%d", i, l.Outputs, l.Inputs))
			continue
		}
		if len(l.Weights) != l.Inputs*l.Outputs {
			validationErrors = append(validationErrors, fmt.Errorf("layer %d has %d weights, want %d", i, len(l.Weights), l.Inputs*l.Outputs))
		}
		if len(l.Bias) != l.Outputs {
			validationErrors = append(validationErrors, fmt.Errorf("layer %d has %d bias terms, want %d", i, len(l.Bias), l.Outputs))
		}
		if i > 0 && n.Layers[i-1].Outputs != l.Inputs {
			validationErrors = append(validationErrors, fmt.Errorf("layer %d expects %d inputs but layer %d produces %d", i, l.Inputs, i-1, n.Layers[i-1].Outputs))
		}
		if l.Activation < ActivationIdentity || l.Activation > ActivationSoftmax {
			validationErrors = append(validationErrors, fmt.Errorf("layer %d has unknown activation kind %d", i, int(l.Activation)))
		}
		if l.Activation == ActivationSoftmax && i != len(n.Layers)-1 {
			validationErrors = append(validationErrors, fmt.Errorf("softmax on layer %d: only the final layer may use softmax", i))
		}
	}
	if len(n.Layers) > 0 {
		final := n.Layers[len(n.Layers)-1]
		switch n.Task {
		case TaskClassifier:
			switch final.Activation {
			case ActivationSoftmax:
				if final.Outputs < 2 {
					validationErrors = append(validationErrors, fmt.Errorf("softmax classifier needs at least 2 outputs, got %d", final.Outputs))
				}
			case ActivationSigmoid:
				if final.Outputs != 1 {
					validationErrors = append(validationErrors, fmt.Errorf("binary classifier needs exactly 1 sigmoid output, got %d", final.Outputs))
				}
			default:
				validationErrors = append(validationErrors, fmt.Errorf("classifier output layer must use softmax or sigmoid, got %s", final.Activation))
			}
		case TaskRegressor:
			if final.Activation == ActivationSoftmax {
				validationErrors = append(validationErrors, errors.New("regressor output layer may not use softmax"))
			}
		}
	}
	return errors.Join(validationErrors...)
}

// Forward evaluates the network on one feature row and returns the raw
// final-layer scores. The arithmetic mirrors the generated C unit exactly:
// float32 accumulation per output unit, bias first, then the ordered
// multiply-adds over the inputs.
func (n *Network) Forward(row []float32) ([]float32, error) {
	if len(row) != n.InputDim() {
		return nil, fmt.Errorf("input has %d features, network expects %d", len(row), n.InputDim())
	}
	cur := row
	for li := range n.Layers {
		l := &n.Layers[li]
		next := make([]float32, l.Outputs)
		for o := 0; o < l.Outputs; o++ {
			acc := l.Bias[o]
			weights := l.Weights[o*l.Inputs : (o+1)*l.Inputs]
			for i, x := range cur {
				acc += weights[i] * x
			}
			next[o] = acc
		}
		l.Activation.Apply(next)
		cur = next
	}
	return cur, nil
}

// Decide collapses raw final-layer scores into the decision value: the class
// index for classifiers (0 or 1 for binary via the 0.5 threshold) or the
// value itself for single-output regressors.
func (n *Network) Decide(scores []float32) (float32, error) {
	if len(scores) != n.OutputDim() {
		return 0, fmt.Errorf("got %d scores, network produces %d", len(scores), n.OutputDim())
	}
	switch n.Task {
	case TaskClassifier:
		if n.Binary() {
			if scores[0] >= 0.5 {
				return 1, nil
			}
			return 0, nil
		}
		idx, _, err := vectorutil.ArgMax(scores)
		if err != nil {
			return 0, err
		}
		return float32(idx), nil
	case TaskRegressor:
		if len(scores) != 1 {
			return 0, fmt.Errorf("multi-output regressor has no scalar decision, use the raw scores")
		}
		return scores[0], nil
	default:
		return 0, fmt.Errorf("unknown task kind %q", n.Task)
	}
}

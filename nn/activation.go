package nn

import (
	"fmt"
	"math"
	"slices"
)

// ActivationKind identifies one of the activation functions the engine can
// evaluate and compile.
type ActivationKind int

const (
	ActivationIdentity ActivationKind = iota
	ActivationReLU
	ActivationTanh
	ActivationSigmoid
	ActivationSoftmax
)

func (k ActivationKind) String() string {
	switch k {
	case ActivationIdentity:
		return "identity"
	case ActivationReLU:
		return "relu"
	case ActivationTanh:
		return "tanh"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("activation(%d)", int(k))
	}
}

// UnsupportedActivationError is returned when a source model references an
// activation function the engine cannot compile. Name carries the identifier
// exactly as the model declared it.
type UnsupportedActivationError struct {
	Name string
}

func (e *UnsupportedActivationError) Error() string {
	return fmt.Sprintf("unsupported activation: %s", e.Name)
}

// activationTable is fixed at startup and never mutated. The aliases are the
// identifiers the source ecosystems use for the same functions.
var activationTable = map[string]ActivationKind{
	"identity": ActivationIdentity,
	"linear":   ActivationIdentity,
	"relu":     ActivationReLU,
	"tanh":     ActivationTanh,
	"sigmoid":  ActivationSigmoid,
	"logistic": ActivationSigmoid,
	"softmax":  ActivationSoftmax,
}

// LookupActivation resolves an activation identifier to its kind.
func LookupActivation(name string) (ActivationKind, error) {
	kind, ok := activationTable[name]
	if !ok {
		return 0, &UnsupportedActivationError{Name: name}
	}
	return kind, nil
}

// Apply computes the activation over v in place. Softmax operates on the
// vector as a whole, the others element-wise. Storage stays float32 to match
// the generated evaluator.
func (k ActivationKind) Apply(v []float32) {
	switch k {
	case ActivationIdentity:
	case ActivationReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case ActivationTanh:
		for i, x := range v {
			v[i] = float32(math.Tanh(float64(x)))
		}
	case ActivationSigmoid:
		for i, x := range v {
			v[i] = float32(1.0 / (1.0 + math.Exp(float64(-x))))
		}
	case ActivationSoftmax:
		softMax(v)
	}
}

// softMax rescales v to probabilities in place, shifting by the max logit so
// large magnitudes stay finite.
func softMax(v []float32) {
	if len(v) == 0 {
		return
	}
	maxLogit := slices.Max(v)
	var sum float32
	for i, logit := range v {
		e := float32(math.Exp(float64(logit - maxLogit)))
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}

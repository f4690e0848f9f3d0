package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// twoClassNet is a small softmax classifier with hand-checkable weights.
func twoClassNet() *Network {
	return &Network{
		Task: TaskClassifier,
		Layers: []Layer{
			{
				Inputs:     2,
				Outputs:    3,
				Weights:    []float32{1, 0, 0, 1, 1, 1},
				Bias:       []float32{0, 0, -1},
				Activation: ActivationReLU,
			},
			{
				Inputs:     3,
				Outputs:    2,
				Weights:    []float32{1, 0, 1, 0, 1, 1},
				Bias:       []float32{0.5, -0.5},
				Activation: ActivationSoftmax,
			},
		},
	}
}

func TestDimensions(t *testing.T) {
	n := twoClassNet()
	assert.Equal(t, 2, n.InputDim())
	assert.Equal(t, 2, n.OutputDim())
	assert.Equal(t, 3, n.MaxWidth())
	assert.False(t, n.Binary())
	assert.NoError(t, n.Validate())
}

func TestForwardSingleLayer(t *testing.T) {
	n := &Network{
		Task: TaskRegressor,
		Layers: []Layer{
			{
				Inputs:     2,
				Outputs:    2,
				Weights:    []float32{1, 2, 3, 4},
				Bias:       []float32{0.5, -0.5},
				Activation: ActivationIdentity,
			},
		},
	}
	checkT(t, n.Validate())

	out, err := n.Forward([]float32{1, 1})
	checkT(t, err)
	assert.Equal(t, []float32{3.5, 6.5}, out)
}

func TestForwardHiddenReLU(t *testing.T) {
	n := twoClassNet()

	// hidden pre-activations for (2, -3): [2, -3, -2] -> relu -> [2, 0, 0]
	// final logits: [2+0+0.5, 0+0-0.5] = [2.5, -0.5]
	out, err := n.Forward([]float32{2, -3})
	checkT(t, err)
	assert.Len(t, out, 2)
	assert.Greater(t, out[0], out[1])

	var sum float32
	for _, p := range out {
		sum += p
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-6)
}

func TestForwardWrongWidth(t *testing.T) {
	n := twoClassNet()
	_, err := n.Forward([]float32{1, 2, 3})
	assert.ErrorContains(t, err, "expects 2")
}

func TestValidateReportsAllViolations(t *testing.T) {
	n := &Network{
		Task: "clusterer",
		Layers: []Layer{
			{Inputs: 2, Outputs: 2, Weights: []float32{1, 2, 3}, Bias: []float32{0}, Activation: ActivationSoftmax},
			{Inputs: 3, Outputs: 2, Weights: make([]float32, 6), Bias: make([]float32, 2), Activation: ActivationIdentity},
		},
	}
	err := n.Validate()
	assert.Error(t, err)
	assert.ErrorContains(t, err, "unknown task kind")
	assert.ErrorContains(t, err, "has 3 weights, want 4")
	assert.ErrorContains(t, err, "has 1 bias terms, want 2")
	assert.ErrorContains(t, err, "only the final layer may use softmax")
	assert.ErrorContains(t, err, "layer 1 expects 3 inputs")
}

func TestValidateTaskShapes(t *testing.T) {
	layer := func(outputs int, act ActivationKind) Layer {
		return Layer{
			Inputs:     2,
			Outputs:    outputs,
			Weights:    make([]float32, 2*outputs),
			Bias:       make([]float32, outputs),
			Activation: act,
		}
	}

	softmaxOne := &Network{Task: TaskClassifier, Layers: []Layer{layer(1, ActivationSoftmax)}}
	assert.ErrorContains(t, softmaxOne.Validate(), "at least 2 outputs")

	sigmoidMany := &Network{Task: TaskClassifier, Layers: []Layer{layer(3, ActivationSigmoid)}}
	assert.ErrorContains(t, sigmoidMany.Validate(), "exactly 1 sigmoid output")

	identityClassifier := &Network{Task: TaskClassifier, Layers: []Layer{layer(3, ActivationIdentity)}}
	assert.ErrorContains(t, identityClassifier.Validate(), "softmax or sigmoid")

	softmaxRegressor := &Network{Task: TaskRegressor, Layers: []Layer{layer(3, ActivationSoftmax)}}
	assert.ErrorContains(t, softmaxRegressor.Validate(), "may not use softmax")

	binary := &Network{Task: TaskClassifier, Layers: []Layer{layer(1, ActivationSigmoid)}}
	assert.NoError(t, binary.Validate())
	assert.True(t, binary.Binary())

	empty := &Network{Task: TaskClassifier}
	assert.ErrorContains(t, empty.Validate(), "no layers")
}

func TestDecide(t *testing.T) {
	multi := twoClassNet()
	decision, err := multi.Decide([]float32{0.2, 0.8})
	checkT(t, err)
	assert.Equal(t, float32(1), decision)

	_, err = multi.Decide([]float32{0.2, 0.3, 0.5})
	assert.Error(t, err)

	binary := &Network{
		Task: TaskClassifier,
		Layers: []Layer{
			{Inputs: 2, Outputs: 1, Weights: []float32{1, 1}, Bias: []float32{0}, Activation: ActivationSigmoid},
		},
	}
	for _, tc := range []struct {
		score float32
		want  float32
	}{
		{0.49, 0}, {0.5, 1}, {0.51, 1},
	} {
		decision, err = binary.Decide([]float32{tc.score})
		checkT(t, err)
		assert.Equal(t, tc.want, decision, "score %f", tc.score)
	}

	regressor := &Network{
		Task: TaskRegressor,
		Layers: []Layer{
			{Inputs: 2, Outputs: 1, Weights: []float32{1, 1}, Bias: []float32{0}, Activation: ActivationIdentity},
		},
	}
	decision, err = regressor.Decide([]float32{-3.25})
	checkT(t, err)
	assert.Equal(t, float32(-3.25), decision)

	multiOut := &Network{
		Task: TaskRegressor,
		Layers: []Layer{
			{Inputs: 2, Outputs: 2, Weights: make([]float32, 4), Bias: make([]float32, 2), Activation: ActivationIdentity},
		},
	}
	_, err = multiOut.Decide([]float32{1, 2})
	assert.ErrorContains(t, err, "raw scores")
}

func checkT(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Test failed with error %s", err.Error())
	}
}

package codegen

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ipyana/emlearn/nn"
)

func classifierNet() *nn.Network {
	return &nn.Network{
		Task: nn.TaskClassifier,
		Layers: []nn.Layer{
			{
				Inputs:     3,
				Outputs:    4,
				Weights:    []float32{0.5, -1, 2, 0.25, 1, 1, -0.125, 0, 3, 0.75, -2, 1.5},
				Bias:       []float32{0, 0.5, -0.5, 1},
				Activation: nn.ActivationReLU,
			},
			{
				Inputs:     4,
				Outputs:    2,
				Weights:    []float32{1, -1, 0.5, 0.25, -0.25, 2, 1, -1.5},
				Bias:       []float32{0.125, -0.125},
				Activation: nn.ActivationSoftmax,
			},
		},
	}
}

func binaryNet() *nn.Network {
	return &nn.Network{
		Task: nn.TaskClassifier,
		Layers: []nn.Layer{
			{Inputs: 2, Outputs: 1, Weights: []float32{1, -1}, Bias: []float32{0.5}, Activation: nn.ActivationSigmoid},
		},
	}
}

func regressorNet() *nn.Network {
	return &nn.Network{
		Task: nn.TaskRegressor,
		Layers: []nn.Layer{
			{Inputs: 2, Outputs: 3, Weights: []float32{1, 2, 3, 4, 5, 6}, Bias: []float32{0, 0, 0}, Activation: nn.ActivationTanh},
			{Inputs: 3, Outputs: 1, Weights: []float32{1, -1, 0.5}, Bias: []float32{0.25}, Activation: nn.ActivationIdentity},
		},
	}
}

func TestGenerateDeterministic(t *testing.T) {
	first, err := Generate(classifierNet(), Config{})
	checkT(t, err)
	second, err := Generate(classifierNet(), Config{})
	checkT(t, err)
	assert.True(t, bytes.Equal(first, second), "two generations of the same network must be byte-identical")
}

func TestGeneratedContent(t *testing.T) {
	source, err := Generate(classifierNet(), Config{})
	checkT(t, err)
	text := string(source)

	assert.Contains(t, text, "#define EMNET_INPUTS 3")
	assert.Contains(t, text, "#define EMNET_OUTPUTS 2")
	assert.Contains(t, text, "#define EMNET_MAX_WIDTH 4")
	assert.Contains(t, text, "int32_t emnet_predict_proba(const float *in, int32_t in_len, float *out, int32_t out_len)")
	assert.Contains(t, text, "int32_t emnet_predict(const float *in, int32_t in_len, float *out, int32_t out_len)")
	assert.Contains(t, text, "#ifdef EMNET_MAIN")
	assert.Contains(t, text, "5e-01f")
	assert.Contains(t, text, "case EMNET_ACT_RELU:")
	assert.Contains(t, text, "case EMNET_ACT_SOFTMAX:")
	// multi-class decision is an argmax
	assert.Contains(t, text, "out[0] = (float)best;")
}

func TestGeneratedTaskVariants(t *testing.T) {
	binary, err := Generate(binaryNet(), Config{})
	checkT(t, err)
	assert.Contains(t, string(binary), "out[0] = scores[0] >= 0.5f ? 1.0f : 0.0f;")
	assert.NotContains(t, string(binary), "(float)best")

	regressor, err := Generate(regressorNet(), Config{})
	checkT(t, err)
	// decision equals the raw output vector, so both entry points share a body
	assert.Equal(t, 2, strings.Count(string(regressor), "emnet_forward(in, out);"))
	assert.Contains(t, string(regressor), "case EMNET_ACT_TANH:")
	assert.NotContains(t, string(regressor), "case EMNET_ACT_SOFTMAX:")
}

func TestGeneratePrefix(t *testing.T) {
	source, err := Generate(binaryNet(), Config{Prefix: "iris_clf"})
	checkT(t, err)
	text := string(source)
	assert.Contains(t, text, "int32_t iris_clf_predict(")
	assert.Contains(t, text, "int32_t iris_clf_predict_proba(")
	assert.Contains(t, text, "#ifdef IRIS_CLF_MAIN")
	assert.NotContains(t, text, "emnet_")

	for _, bad := range []string{"9lives", "has-dash", "has space"} {
		_, err = Generate(binaryNet(), Config{Prefix: bad})
		var generationErr *GenerationError
		assert.ErrorAs(t, err, &generationErr, "prefix %q", bad)
		assert.Contains(t, err.Error(), bad)
	}
}

func TestGenerateInvalidNetwork(t *testing.T) {
	_, err := Generate(&nn.Network{Task: nn.TaskClassifier}, Config{})
	var generationErr *GenerationError
	assert.ErrorAs(t, err, &generationErr)
	assert.Contains(t, err.Error(), "no layers")

	_, err = Generate(nil, Config{})
	assert.ErrorAs(t, err, &generationErr)
}

func TestSymbolNames(t *testing.T) {
	assert.Equal(t, "emnet_predict", SymbolPredict("emnet"))
	assert.Equal(t, "emnet_predict_proba", SymbolPredictProba("emnet"))
	assert.Equal(t, "EMNET_MAIN", MainMacro("emnet"))
	assert.Equal(t, "IRIS_CLF_MAIN", MainMacro("iris_clf"))
}

func TestFormatFloat(t *testing.T) {
	cases := map[float32]string{
		0.5:   "5e-01f",
		-2:    "-2e+00f",
		0:     "0e+00f",
		0.125: "1.25e-01f",
	}
	for value, want := range cases {
		assert.Equal(t, want, formatFloat(value))
	}

	// shortest text must parse back to the exact same float32
	for _, v := range []float32{0.1, 1.0 / 3.0, 3.14159265, -1e-20, 6.5e+12} {
		text := strings.TrimSuffix(formatFloat(v), "f")
		parsed, err := strconv.ParseFloat(text, 32)
		checkT(t, err)
		assert.Equal(t, v, float32(parsed))
	}

	inf := float32(math.Inf(1))
	assert.Equal(t, "INFINITY", formatFloat(inf))
	assert.Equal(t, "-INFINITY", formatFloat(-inf))
	assert.Equal(t, "NAN", formatFloat(float32(math.NaN())))
}

func checkT(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Test failed with error %s", err.Error())
	}
}

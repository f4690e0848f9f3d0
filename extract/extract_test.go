package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"

	"github.com/ipyana/emlearn/nn"
)

type fakeEstimator struct {
	coefs      [][][]float64
	intercepts [][]float64
	activation string
	out        string
}

func (f fakeEstimator) Coefs() [][][]float64      { return f.coefs }
func (f fakeEstimator) Intercepts() [][]float64   { return f.intercepts }
func (f fakeEstimator) ActivationName() string    { return f.activation }
func (f fakeEstimator) OutActivationName() string { return f.out }

type fakeLayer struct {
	kind       string
	activation string
	kernel     tensor.Tensor
	bias       tensor.Tensor
}

func (l fakeLayer) Kind() string           { return l.kind }
func (l fakeLayer) ActivationName() string { return l.activation }
func (l fakeLayer) Kernel() tensor.Tensor  { return l.kernel }
func (l fakeLayer) Bias() tensor.Tensor    { return l.bias }

type fakeSequential struct {
	layers []Layer
}

func (m fakeSequential) ModelLayers() []Layer { return m.layers }

func multiClassEstimator() fakeEstimator {
	return fakeEstimator{
		// 3 inputs x 2 hidden, then 2 hidden x 3 outputs
		coefs: [][][]float64{
			{{1, 2}, {3, 4}, {5, 6}},
			{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		},
		intercepts: [][]float64{{0.5, -0.5}, {0, 0, 0}},
		activation: "relu",
		out:        "softmax",
	}
}

func TestEstimatorMultiClass(t *testing.T) {
	network, err := FromModel(multiClassEstimator(), Config{})
	checkT(t, err)

	assert.Equal(t, nn.TaskClassifier, network.Task)
	assert.Equal(t, 3, network.InputDim())
	assert.Equal(t, 3, network.OutputDim())
	assert.False(t, network.Binary())

	// inputs x outputs source orientation becomes row-major outputs x inputs
	assert.Equal(t, []float32{1, 3, 5, 2, 4, 6}, network.Layers[0].Weights)
	assert.Equal(t, []float32{0.5, -0.5}, network.Layers[0].Bias)
	assert.Equal(t, nn.ActivationReLU, network.Layers[0].Activation)
	assert.Equal(t, nn.ActivationSoftmax, network.Layers[1].Activation)

	scores, err := network.Forward([]float32{1, 0, -1})
	checkT(t, err)
	assert.Len(t, scores, 3)
}

func TestEstimatorBinary(t *testing.T) {
	model := fakeEstimator{
		coefs:      [][][]float64{{{0.5}, {-0.5}}},
		intercepts: [][]float64{{0.1}},
		activation: "relu",
		out:        "logistic",
	}
	network, err := FromModel(model, Config{})
	checkT(t, err)
	assert.Equal(t, nn.TaskClassifier, network.Task)
	assert.True(t, network.Binary())
}

func TestEstimatorRegression(t *testing.T) {
	model := fakeEstimator{
		coefs: [][][]float64{
			{{1, -1}, {0.5, 0.25}},
			{{2}, {-2}},
		},
		intercepts: [][]float64{{0, 0}, {1}},
		activation: "tanh",
		out:        "identity",
	}
	network, err := FromModel(model, Config{})
	checkT(t, err)
	assert.Equal(t, nn.TaskRegressor, network.Task)
	assert.Equal(t, 1, network.OutputDim())
}

func TestEstimatorUnsupportedActivation(t *testing.T) {
	model := multiClassEstimator()
	model.activation = "fake22"

	_, err := FromModel(model, Config{})
	assert.Error(t, err)

	var unsupported *nn.UnsupportedActivationError
	assert.ErrorAs(t, err, &unsupported)
	assert.Contains(t, err.Error(), "unsupported activation")
	assert.Contains(t, err.Error(), "fake22")
}

func TestEstimatorMalformed(t *testing.T) {
	ragged := multiClassEstimator()
	ragged.coefs[0][1] = []float64{3}
	_, err := FromModel(ragged, Config{})
	assert.ErrorContains(t, err, "ragged weight matrix")

	mismatched := multiClassEstimator()
	mismatched.intercepts = mismatched.intercepts[:1]
	_, err = FromModel(mismatched, Config{})
	assert.ErrorContains(t, err, "intercept vectors")

	empty := fakeEstimator{activation: "relu", out: "softmax"}
	_, err = FromModel(empty, Config{})
	assert.ErrorContains(t, err, "no weight matrices")
}

func denseTensorLayer(activation string, backing any, inputs, outputs int, bias any) fakeLayer {
	return fakeLayer{
		kind:       LayerDense,
		activation: activation,
		kernel:     tensor.New(tensor.WithShape(inputs, outputs), tensor.WithBacking(backing)),
		bias:       tensor.New(tensor.WithShape(outputs), tensor.WithBacking(bias)),
	}
}

func TestSequentialKerasStyle(t *testing.T) {
	model := fakeSequential{layers: []Layer{
		denseTensorLayer("", []float32{1, 2, 3, 4, 5, 6}, 3, 2, []float32{0.5, -0.5}),
		fakeLayer{kind: LayerActivation, activation: "relu"},
		fakeLayer{kind: LayerDropout},
		denseTensorLayer("softmax", []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, 2, 3, []float64{0, 0, 0}),
	}}

	network, err := FromModel(model, Config{})
	checkT(t, err)

	assert.Equal(t, nn.TaskClassifier, network.Task)
	assert.Len(t, network.Layers, 2)
	assert.Equal(t, []float32{1, 3, 5, 2, 4, 6}, network.Layers[0].Weights)
	assert.Equal(t, nn.ActivationReLU, network.Layers[0].Activation)
	assert.Equal(t, nn.ActivationSoftmax, network.Layers[1].Activation)

	// float64 kernel truncated to float32, same transpose
	assert.InDelta(t, 0.1, float64(network.Layers[1].Weights[0]), 1e-7)
	assert.InDelta(t, 0.4, float64(network.Layers[1].Weights[1]), 1e-7)
}

func TestSequentialLayerErrors(t *testing.T) {
	stacked := fakeSequential{layers: []Layer{
		denseTensorLayer("tanh", []float32{1, 2}, 2, 1, []float32{0}),
		fakeLayer{kind: LayerActivation, activation: "relu"},
	}}
	_, err := FromModel(stacked, Config{})
	assert.ErrorContains(t, err, "stacks on a dense layer")

	orphan := fakeSequential{layers: []Layer{
		fakeLayer{kind: LayerActivation, activation: "relu"},
	}}
	_, err = FromModel(orphan, Config{})
	assert.ErrorContains(t, err, "no preceding dense layer")

	conv := fakeSequential{layers: []Layer{
		fakeLayer{kind: "conv2d"},
	}}
	_, err = FromModel(conv, Config{})
	assert.ErrorContains(t, err, "unsupported layer kind conv2d")

	var extractionErr *ExtractionError
	assert.ErrorAs(t, err, &extractionErr)

	empty := fakeSequential{layers: []Layer{fakeLayer{kind: LayerDropout}}}
	_, err = FromModel(empty, Config{})
	assert.ErrorContains(t, err, "no dense layers")
}

func TestReturnTypeOverride(t *testing.T) {
	binary := fakeSequential{layers: []Layer{
		denseTensorLayer("sigmoid", []float32{1, -1}, 2, 1, []float32{0}),
	}}

	network, err := FromModel(binary, Config{})
	checkT(t, err)
	assert.Equal(t, nn.TaskClassifier, network.Task)

	network, err = FromModel(binary, Config{ReturnType: ReturnRegressor})
	checkT(t, err)
	assert.Equal(t, nn.TaskRegressor, network.Task)

	multiSigmoid := fakeSequential{layers: []Layer{
		denseTensorLayer("sigmoid", []float32{1, -1, 0.5, 0.25}, 2, 2, []float32{0, 0}),
	}}
	_, err = FromModel(multiSigmoid, Config{})
	assert.ErrorContains(t, err, "ambiguous")

	network, err = FromModel(multiSigmoid, Config{ReturnType: ReturnRegressor})
	checkT(t, err)
	assert.Equal(t, nn.TaskRegressor, network.Task)

	identityFinal := fakeSequential{layers: []Layer{
		denseTensorLayer("", []float32{1, -1}, 2, 1, []float32{0}),
	}}
	_, err = FromModel(identityFinal, Config{ReturnType: ReturnClassifier})
	assert.ErrorContains(t, err, "softmax or sigmoid")

	_, err = FromModel(binary, Config{ReturnType: "ranker"})
	assert.ErrorContains(t, err, "unknown return type")
}

func TestFromModelUnrecognized(t *testing.T) {
	_, err := FromModel(struct{ Weights []float32 }{}, Config{})
	assert.Error(t, err)

	var extractionErr *ExtractionError
	assert.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, err.Error(), "no known accessor shape")

	_, err = FromModel(nil, Config{})
	assert.ErrorContains(t, err, "model is nil")
}

type probeOnlyModel struct{}

func TestRegisteredProbe(t *testing.T) {
	Register("probe-only", func(model any) (Sequential, bool) {
		if _, ok := model.(probeOnlyModel); !ok {
			return nil, false
		}
		return fakeSequential{layers: []Layer{
			denseTensorLayer("sigmoid", []float32{1, 1}, 2, 1, []float32{0}),
		}}, true
	})

	network, err := FromModel(probeOnlyModel{}, Config{})
	checkT(t, err)
	assert.Equal(t, nn.TaskClassifier, network.Task)
	assert.True(t, network.Binary())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	doc := `{
		"activation": "relu",
		"out_activation": "softmax",
		"coefs": [[[1, 2], [3, 4], [5, 6]], [[0.1, 0.2, 0.3], [0.4, 0.5, 0.6]]],
		"intercepts": [[0.5, -0.5], [0, 0, 0]]
	}`
	checkT(t, os.WriteFile(path, []byte(doc), 0o644))

	estimator, err := LoadFile(path)
	checkT(t, err)
	network, err := FromModel(estimator, Config{})
	checkT(t, err)
	assert.Equal(t, 3, network.InputDim())
	assert.Equal(t, []float32{1, 3, 5, 2, 4, 6}, network.Layers[0].Weights)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "absent.json"))
	assert.Error(t, err)

	malformed := filepath.Join(dir, "malformed.json")
	checkT(t, os.WriteFile(malformed, []byte("{"), 0o644))
	_, err = LoadFile(malformed)
	assert.ErrorContains(t, err, "parsing model file")

	hollow := filepath.Join(dir, "hollow.json")
	checkT(t, os.WriteFile(hollow, []byte(`{"activation": "relu", "out_activation": "softmax"}`), 0o644))
	_, err = LoadFile(hollow)
	assert.ErrorContains(t, err, "no weight matrices")
}

func checkT(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Test failed with error %s", err.Error())
	}
}

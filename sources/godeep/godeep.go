// Package godeep adapts trained github.com/patrikeh/go-deep networks to the
// extractor's sequential accessor shape. Importing the package (a blank
// import is enough) registers the probe, after which go-deep models convert
// like any other supported ecosystem.
package godeep

import (
	"fmt"

	deep "github.com/patrikeh/go-deep"
	"gorgonia.org/tensor"

	"github.com/ipyana/emlearn/extract"
)

func init() {
	extract.Register("go-deep", func(model any) (extract.Sequential, bool) {
		neural, ok := model.(*deep.Neural)
		if !ok || neural == nil {
			return nil, false
		}
		return Wrap(neural), true
	})
}

// Wrap exposes a trained go-deep network through the sequential shape.
func Wrap(neural *deep.Neural) extract.Sequential {
	return neuralModel{neural: neural}
}

type neuralModel struct {
	neural *deep.Neural
}

func (m neuralModel) ModelLayers() []extract.Layer {
	layers := make([]extract.Layer, len(m.neural.Layers))
	for i, layer := range m.neural.Layers {
		layers[i] = denseView{layer: layer}
	}
	return layers
}

// denseView reads one go-deep layer as a dense layer. Every neuron's In
// synapses hold the incoming weights in upstream order, with the bias
// synapse (when the network has biases) flagged by IsBias.
type denseView struct {
	layer *deep.Layer
}

func (v denseView) Kind() string {
	return extract.LayerDense
}

func (v denseView) ActivationName() string {
	switch v.layer.A {
	case deep.ActivationNone:
		return ""
	case deep.ActivationLinear:
		return "linear"
	case deep.ActivationSigmoid:
		return "sigmoid"
	case deep.ActivationTanh:
		return "tanh"
	case deep.ActivationReLU:
		return "relu"
	case deep.ActivationSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("go-deep activation %d", int(v.layer.A))
	}
}

func (v denseView) Kernel() tensor.Tensor {
	outputs := len(v.layer.Neurons)
	if outputs == 0 {
		return nil
	}
	inputs := v.inputCount()
	data := make([]float32, inputs*outputs)
	for o, neuron := range v.layer.Neurons {
		i := 0
		for _, synapse := range neuron.In {
			if synapse.IsBias {
				continue
			}
			if i >= inputs {
				return nil
			}
			data[i*outputs+o] = float32(synapse.Weight)
			i++
		}
		if i != inputs {
			return nil
		}
	}
	return tensor.New(tensor.WithShape(inputs, outputs), tensor.WithBacking(data))
}

func (v denseView) Bias() tensor.Tensor {
	outputs := len(v.layer.Neurons)
	if outputs == 0 {
		return nil
	}
	data := make([]float32, outputs)
	for o, neuron := range v.layer.Neurons {
		for _, synapse := range neuron.In {
			if synapse.IsBias {
				data[o] = float32(synapse.Weight)
				break
			}
		}
	}
	return tensor.New(tensor.WithShape(outputs), tensor.WithBacking(data))
}

func (v denseView) inputCount() int {
	count := 0
	for _, synapse := range v.layer.Neurons[0].In {
		if !synapse.IsBias {
			count++
		}
	}
	return count
}

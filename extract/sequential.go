package extract

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/ipyana/emlearn/nn"
)

// Layer kinds understood by the sequential shape.
const (
	LayerDense      = "dense"
	LayerActivation = "activation"
	LayerDropout    = "dropout"
)

// Sequential is the layer-stack accessor shape carried by keras style
// models: an ordered list of layers where dense layers expose their kernel
// and bias as tensors oriented inputs x outputs.
type Sequential interface {
	ModelLayers() []Layer
}

// Layer is one entry of a sequential model. Kernel and Bias are only
// meaningful for dense layers; ActivationName is empty when a layer has no
// activation attached.
type Layer interface {
	Kind() string
	ActivationName() string
	Kernel() tensor.Tensor
	Bias() tensor.Tensor
}

func fromSequential(m Sequential, cfg Config) (*nn.Network, error) {
	var layers []nn.Layer
	for idx, sl := range m.ModelLayers() {
		switch kind := sl.Kind(); kind {
		case LayerDense:
			layer, err := denseFromTensors(sl.Kernel(), sl.Bias())
			if err != nil {
				return nil, &ExtractionError{Reason: fmt.Sprintf("dense layer at position %d", idx), Err: err}
			}
			layer.Activation = nn.ActivationIdentity
			if name := sl.ActivationName(); name != "" {
				activation, err := nn.LookupActivation(name)
				if err != nil {
					return nil, err
				}
				layer.Activation = activation
			}
			layers = append(layers, layer)
		case LayerActivation:
			if len(layers) == 0 {
				return nil, &ExtractionError{Reason: fmt.Sprintf("activation layer at position %d has no preceding dense layer", idx)}
			}
			activation, err := nn.LookupActivation(sl.ActivationName())
			if err != nil {
				return nil, err
			}
			if prev := layers[len(layers)-1].Activation; prev != nn.ActivationIdentity {
				return nil, &ExtractionError{Reason: fmt.Sprintf("activation layer at position %d stacks on a dense layer that already applies %s", idx, prev)}
			}
			layers[len(layers)-1].Activation = activation
		case LayerDropout:
			// inference no-op
		default:
			return nil, &ExtractionError{Reason: fmt.Sprintf("unsupported layer kind %s at position %d", kind, idx)}
		}
	}
	if len(layers) == 0 {
		return nil, &ExtractionError{Reason: "sequential model has no dense layers"}
	}
	return buildNetwork(layers, cfg)
}

func denseFromTensors(kernel, bias tensor.Tensor) (nn.Layer, error) {
	if kernel == nil || bias == nil {
		return nn.Layer{}, fmt.Errorf("missing kernel or bias tensor")
	}
	kernelShape := kernel.Shape()
	if len(kernelShape) != 2 {
		return nn.Layer{}, fmt.Errorf("kernel must be 2-dimensional, got shape %v", kernelShape)
	}
	inputs, outputs := kernelShape[0], kernelShape[1]
	biasShape := bias.Shape()
	if len(biasShape) != 1 || biasShape[0] != outputs {
		return nn.Layer{}, fmt.Errorf("bias shape %v does not match %d outputs", biasShape, outputs)
	}

	kernelData, err := tensorFloats(kernel, inputs*outputs)
	if err != nil {
		return nn.Layer{}, fmt.Errorf("kernel: %w", err)
	}
	biasData, err := tensorFloats(bias, outputs)
	if err != nil {
		return nn.Layer{}, fmt.Errorf("bias: %w", err)
	}

	flat := make([]float32, inputs*outputs)
	for i := 0; i < inputs; i++ {
		for o := 0; o < outputs; o++ {
			flat[o*inputs+i] = kernelData[i*outputs+o]
		}
	}
	return nn.Layer{
		Weights: flat,
		Bias:    biasData,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// tensorFloats flattens a tensor's backing into float32, truncating float64
// sources.
func tensorFloats(t tensor.Tensor, want int) ([]float32, error) {
	switch data := t.Data().(type) {
	case []float32:
		if len(data) != want {
			return nil, fmt.Errorf("tensor backing has %d elements, shape implies %d", len(data), want)
		}
		out := make([]float32, len(data))
		copy(out, data)
		return out, nil
	case []float64:
		if len(data) != want {
			return nil, fmt.Errorf("tensor backing has %d elements, shape implies %d", len(data), want)
		}
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported tensor element type %T", t.Data())
	}
}

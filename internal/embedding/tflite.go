package embedding

import (
	"context"
	"fmt"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/inference"
)

// TFLiteBackbone runs a backbone exported to TensorFlow Lite. The last output tensor holds the features.
type TFLiteBackbone struct {
	interp *inference.Interpreter
}

// NewTFLiteBackbone checks that the interpreter takes a single [1, S, S, 3] image
func NewTFLiteBackbone(interp *inference.Interpreter) (*TFLiteBackbone, error) {
	shape := interp.InputShape()
	if len(shape) != 4 || shape[0] != 1 || shape[1] != shape[2] || shape[3] != 3 {
		return nil, errors.New(fmt.Errorf("backbone input shape %v is not [1, S, S, 3]", shape)).
			Component("embedding").
			Category(errors.CategoryModelInit).
			Build()
	}
	return &TFLiteBackbone{interp: interp}, nil
}

// InputSize returns the square resolution the model expects
func (b *TFLiteBackbone) InputSize() int {
	return b.interp.InputShape()[1]
}

// Forward implements Backbone
func (b *TFLiteBackbone) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outputs, err := b.interp.Run(input)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Newf("backbone produced no output tensors").
			Component("embedding").
			Category(errors.CategoryInference).
			Build()
	}
	return outputs[len(outputs)-1].Data, nil
}

// Close releases the interpreter
func (b *TFLiteBackbone) Close() {
	b.interp.Close()
}

// TFLiteLoader returns a Loader that opens backbones with the given interpreter options
func TFLiteLoader(opts inference.Options) Loader {
	return func(path string) (Backbone, error) {
		interp, err := inference.Load(path, opts)
		if err != nil {
			return nil, err
		}
		bb, err := NewTFLiteBackbone(interp)
		if err != nil {
			interp.Close()
			return nil, err
		}
		return bb, nil
	}
}

// Package inference wraps TensorFlow Lite interpreters used by the detector and the embedding backbone.
package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the inference package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("inference")
	})
	return log
}

// Options configures interpreter creation
type Options struct {
	Name       string // used in logs and errors, e.g. "detector"
	Threads    int    // 0 selects automatically
	UseXNNPACK bool
}

// Output is a copied output tensor
type Output struct {
	Data  []float32
	Shape []int
}

// Interpreter is a loaded model bound to one TFLite interpreter. Calls to Run are serialised.
type Interpreter struct {
	mu          sync.Mutex
	name        string
	path        string
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	device      Device
	inputShape  []int
}

// Load reads a .tflite file and creates an interpreter for it
func Load(path string, opts Options) (*Interpreter, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read model: %w", err)).
			Component("inference").
			Category(errors.CategoryModelLoad).
			Model(path).
			Timing("model-load", time.Since(start)).
			Build()
	}
	interp, err := New(data, opts)
	if err != nil {
		return nil, err
	}
	interp.path = path
	return interp, nil
}

// New creates an interpreter from model bytes
func New(data []byte, opts Options) (*Interpreter, error) {
	start := time.Now()
	log := GetLogger()

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model %s", opts.Name)).
			Component("inference").
			Category(errors.CategoryModelInit).
			Context("model_size_mb", len(data)/1024/1024).
			Context("use_xnnpack", opts.UseXNNPACK).
			Timing("model-init", time.Since(start)).
			Build()
	}

	device := SelectDevice(opts.UseXNNPACK, opts.Threads)
	options := tflite.NewInterpreterOptions()

	if device.Kind == DeviceXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, device.Threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU",
				logger.String("model", opts.Name))
			device.Kind = DeviceCPU
			options.SetNumThread(device.Threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(device.Threads)
	}

	name := opts.Name
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("model", name), logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Newf("cannot create interpreter for %s", opts.Name).
			Component("inference").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed for %s", opts.Name).
			Component("inference").
			Category(errors.CategoryModelInit).
			Build()
	}

	input := interpreter.GetInputTensor(0)
	shape := make([]int, input.NumDims())
	for i := range shape {
		shape[i] = input.Dim(i)
	}

	// TFLite holds its own copy of the model buffer
	runtime.GC()

	log.Info("model initialized",
		logger.String("model", opts.Name),
		logger.String("device", string(device.Kind)),
		logger.Int("threads", device.Threads),
		logger.Int("total_cpus", runtime.NumCPU()),
		logger.Any("input_shape", shape),
		logger.Duration("elapsed", time.Since(start)))

	return &Interpreter{
		name:        opts.Name,
		model:       model,
		options:     options,
		interpreter: interpreter,
		device:      device,
		inputShape:  shape,
	}, nil
}

// InputShape returns the shape of input tensor 0, e.g. [1 224 224 3]
func (i *Interpreter) InputShape() []int {
	return append([]int(nil), i.inputShape...)
}

// Device returns the execution target selected at creation
func (i *Interpreter) Device() Device {
	return i.device
}

// Path returns the file the model was loaded from, if any
func (i *Interpreter) Path() string {
	return i.path
}

// Run copies input into tensor 0, invokes the model and returns copies of every output tensor.
func (i *Interpreter) Run(input []float32) ([]Output, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.interpreter == nil {
		return nil, errors.Newf("interpreter %s is closed", i.name).
			Component("inference").
			Category(errors.CategoryState).
			Build()
	}

	tensor := i.interpreter.GetInputTensor(0)
	dst := tensor.Float32s()
	if len(dst) != len(input) {
		return nil, errors.Newf("input size mismatch for %s: model expects %d values, got %d", i.name, len(dst), len(input)).
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}
	copy(dst, input)

	start := time.Now()
	if status := i.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("%s invoke failed with status %v", i.name, status).
			Component("inference").
			Category(errors.CategoryInference).
			Timing("invoke", time.Since(start)).
			Build()
	}

	count := i.interpreter.GetOutputTensorCount()
	outputs := make([]Output, count)
	for idx := range count {
		out := i.interpreter.GetOutputTensor(idx)
		shape := make([]int, out.NumDims())
		for d := range shape {
			shape[d] = out.Dim(d)
		}
		outputs[idx] = Output{
			Data:  append([]float32(nil), out.Float32s()...),
			Shape: shape,
		}
	}
	return outputs, nil
}

// Close releases the interpreter, its options and the model
func (i *Interpreter) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.interpreter != nil {
		i.interpreter.Delete()
		i.interpreter = nil
	}
	if i.options != nil {
		i.options.Delete()
		i.options = nil
	}
	if i.model != nil {
		i.model.Delete()
		i.model = nil
	}
}

// DisplayName returns the model file name, or the configured name for in-memory models
func (i *Interpreter) DisplayName() string {
	if i.path != "" {
		return filepath.Base(i.path)
	}
	return i.name
}

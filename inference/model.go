package inference

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/inference/providers"
)

// Default tensor names and input size of the classifier graph.
const (
	DefaultInputName  = "input"
	DefaultOutputName = "output"
	DefaultWidth      = 28
	DefaultHeight     = 28
)

// Signature is the resolved input/output contract of a loaded model.
type Signature struct {
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
}

// InputSize is the number of float32 values the model consumes per run.
func (s Signature) InputSize() int { return volume(s.InputShape) }

// Classes is the number of values the model produces per run.
func (s Signature) Classes() int { return volume(s.OutputShape) }

func volume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	backend    Backend
	inputName  string
	outputName string
	width      int
	height     int
	classes    int
	warmup     int
}

// WithBackend sets the execution backend. The default is onnxruntime with
// providers.DefaultConfig.
func WithBackend(b Backend) Option {
	return func(o *loadOptions) { o.backend = b }
}

// WithInputName overrides the expected graph input name.
func WithInputName(name string) Option {
	return func(o *loadOptions) { o.inputName = name }
}

// WithOutputName overrides the expected graph output name.
func WithOutputName(name string) Option {
	return func(o *loadOptions) { o.outputName = name }
}

// WithInputSize sets the expected spatial size of the input tensor.
func WithInputSize(width, height int) Option {
	return func(o *loadOptions) {
		o.width = width
		o.height = height
	}
}

// WithClasses pins the output class count. It is required when the model
// declares a symbolic class dimension.
func WithClasses(n int) Option {
	return func(o *loadOptions) { o.classes = n }
}

// WithWarmup runs the model n times on a zero tensor before Load returns.
func WithWarmup(n int) Option {
	return func(o *loadOptions) { o.warmup = n }
}

// Model is a validated model with an open backend session. It is loaded once
// and shared read-only by every Engine run.
type Model struct {
	path      string
	info      *ModelInfo
	signature Signature
	backend   string
	session   Session
	closeOnce sync.Once
	closeErr  error
}

// Load reads, validates and opens an ONNX model. No inference call happens
// unless every check passes.
//
// Arguments:
//   - hctx: The run context.
//   - path: The model file.
//   - opts: Load options.
//
// Returns:
//   - *Model: The loaded model. Close releases it.
//   - error: ErrNotFound for a missing file, ErrModelLoad for a corrupt or
//     incompatible model or a backend that cannot open it.
//
// @example
//
//	model, err := inference.Load(hctx, "assets/models/model.onnx", inference.WithWarmup(1))
//	if err != nil {
//	    return err
//	}
//	defer model.Close()
func Load(hctx *harness.Context, path string, opts ...Option) (*Model, error) {
	o := loadOptions{
		inputName:  DefaultInputName,
		outputName: DefaultOutputName,
		width:      DefaultWidth,
		height:     DefaultHeight,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = NewRuntimeBackend(providers.DefaultConfig())
	}
	log := hctx.Component("inference").WithFields(logrus.Fields{
		"path":    path,
		"backend": o.backend.Name(),
	})

	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("inference.load", path, err)
		}
		return nil, errdefs.ModelLoad("inference.load", path, err)
	}
	if st.IsDir() {
		return nil, errdefs.ModelLoad("inference.load", path, errors.New("model path is a directory"))
	}

	start := time.Now()
	model, err := open(path, o)
	hctx.Metrics.RecordModelLoad(o.backend.Name(), err == nil)
	if err != nil {
		log.WithError(err).Error("model load failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"ir_version": model.info.IRVersion,
		"opset":      model.info.OpsetVersion,
		"producer":   model.info.ProducerName,
		"input":      model.signature.InputShape,
		"output":     model.signature.OutputShape,
		"elapsed":    time.Since(start),
	}).Info("model loaded")
	return model, nil
}

func open(path string, o loadOptions) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.ModelLoad("inference.load", path, err)
	}
	info, err := ParseModelInfo(data)
	if err != nil {
		return nil, errdefs.ModelLoad("inference.parse", path, err)
	}
	sig, err := resolveSignature(info, o)
	if err != nil {
		return nil, errdefs.ModelLoad("inference.validate", path, err)
	}

	session, err := o.backend.Open(Source{Path: path, Data: data}, sig)
	if err != nil {
		return nil, errdefs.ModelLoad("inference.open", path, err)
	}
	model := &Model{
		path:      path,
		info:      info,
		signature: sig,
		backend:   o.backend.Name(),
		session:   session,
	}

	if o.warmup > 0 {
		zeros := make([]float32, sig.InputSize())
		for i := 0; i < o.warmup; i++ {
			if _, err := session.Run(zeros); err != nil {
				_ = model.Close()
				return nil, errdefs.ModelLoad("inference.warmup", path, err)
			}
		}
	}
	return model, nil
}

// resolveSignature checks the graph against the single-input classifier
// contract and fixes every dimension to a concrete size.
func resolveSignature(info *ModelInfo, o loadOptions) (Signature, error) {
	if len(info.Inputs) != 1 {
		return Signature{}, errors.Errorf("model has %d inputs, want 1", len(info.Inputs))
	}
	if len(info.Outputs) != 1 {
		return Signature{}, errors.Errorf("model has %d outputs, want 1", len(info.Outputs))
	}
	in, out := info.Inputs[0], info.Outputs[0]
	if in.Name != o.inputName {
		return Signature{}, errors.Errorf("input is named %q, want %q", in.Name, o.inputName)
	}
	if out.Name != o.outputName {
		return Signature{}, errors.Errorf("output is named %q, want %q", out.Name, o.outputName)
	}
	if in.ElemType != ElemFloat {
		return Signature{}, errors.Errorf("input %q has element type %d, want float32", in.Name, in.ElemType)
	}
	if out.ElemType != ElemFloat {
		return Signature{}, errors.Errorf("output %q has element type %d, want float32", out.Name, out.ElemType)
	}

	want := []int64{1, 1, int64(o.height), int64(o.width)}
	if len(in.Dims) != len(want) {
		return Signature{}, errors.Errorf("input %q has shape %s, want %v", in.Name, formatDims(in.Dims), want)
	}
	for i, d := range in.Dims {
		if d.Static() && d.Value != want[i] {
			return Signature{}, errors.Errorf("input %q has shape %s, want %v", in.Name, formatDims(in.Dims), want)
		}
	}

	classes := o.classes
	switch {
	case out.Dims == nil:
		// Shape not declared; the caller must pin the class count.
	case len(out.Dims) != 2:
		return Signature{}, errors.Errorf("output %q has shape %s, want [1 N]", out.Name, formatDims(out.Dims))
	case out.Dims[0].Static() && out.Dims[0].Value != 1:
		return Signature{}, errors.Errorf("output %q has batch %d, want 1", out.Name, out.Dims[0].Value)
	case out.Dims[1].Static():
		n := int(out.Dims[1].Value)
		if classes > 0 && classes != n {
			return Signature{}, errors.Errorf("output %q has %d classes, configured %d", out.Name, n, classes)
		}
		classes = n
	}
	if classes <= 0 {
		return Signature{}, errors.Errorf("output %q has no static class count; set the class count explicitly", out.Name)
	}

	return Signature{
		InputName:   in.Name,
		OutputName:  out.Name,
		InputShape:  want,
		OutputShape: []int64{1, int64(classes)},
	}, nil
}

func formatDims(dims []Dim) string {
	s := "["
	for i, d := range dims {
		if i > 0 {
			s += " "
		}
		if d.Static() {
			s += fmt.Sprintf("%d", d.Value)
		} else if d.Param != "" {
			s += d.Param
		} else {
			s += "?"
		}
	}
	return s + "]"
}

// Signature returns the resolved input/output contract.
func (m *Model) Signature() Signature { return m.signature }

// Info returns the parsed model structure.
func (m *Model) Info() *ModelInfo { return m.info }

// Path returns the model file path.
func (m *Model) Path() string { return m.path }

// Backend returns the name of the backend that opened the model.
func (m *Model) Backend() string { return m.backend }

// Close releases the backend session. It is safe to call more than once.
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		if m.session != nil {
			m.closeErr = m.session.Close()
		}
	})
	return m.closeErr
}

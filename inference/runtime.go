package inference

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-classify/inference/providers"
)

// RuntimeBackend opens sessions through the onnxruntime shared library.
type RuntimeBackend struct {
	config providers.Config
}

// NewRuntimeBackend creates an onnxruntime backend. The native library is not
// touched until Open.
func NewRuntimeBackend(cfg providers.Config) *RuntimeBackend {
	return &RuntimeBackend{config: cfg}
}

// Name implements Backend.
func (b *RuntimeBackend) Name() string { return string(BackendONNXRuntime) }

// Config returns the provider configuration.
func (b *RuntimeBackend) Config() providers.Config { return b.config }

// Open initializes the onnxruntime environment once per process and creates
// an AdvancedSession bound to preallocated input and output tensors.
//
// Arguments:
//   - src: The model file.
//   - sig: The validated signature.
//
// Returns:
//   - Session: The session.
//   - error: When the library, the tensors or the session cannot be created.
func (b *RuntimeBackend) Open(src Source, sig Signature) (Session, error) {
	libPath, err := providers.SharedLibraryPath(b.config.SharedLibraryPath)
	if err != nil {
		return nil, err
	}
	if err := providers.InitializeEnvironment(libPath); err != nil {
		return nil, err
	}

	s := &runtimeSession{}
	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(sig.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(sig.OutputShape...))
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := providers.SessionOptions(b.config)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(
		src.Path,
		[]string{sig.InputName},
		[]string{sig.OutputName},
		[]ort.ArbitraryTensor{s.input},
		[]ort.ArbitraryTensor{s.output},
		options,
	)
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "error creating ONNX session")
	}
	return s, nil
}

// runtimeSession binds one input and one output tensor to an AdvancedSession.
// The bound tensors make Run stateful, so it is not concurrency safe.
type runtimeSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *runtimeSession) Run(input []float32) ([]float32, error) {
	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, errors.Errorf("input holds %d values, tensor holds %d", len(input), len(dst))
	}
	copy(dst, input)
	if err := s.session.Run(); err != nil {
		return nil, err
	}
	out := s.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (s *runtimeSession) Concurrent() bool { return false }

// Close releases the resources associated with the session.
func (s *runtimeSession) Close() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		_ = s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		_ = s.output.Destroy()
		s.output = nil
	}
	return err
}

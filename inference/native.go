package inference

import (
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/onnx"
	borntensor "github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// NativeBackend executes models in process on the born CPU backend. It needs
// no shared library but supports a smaller operator set than onnxruntime.
type NativeBackend struct {
	backend *cpu.Backend
}

// NewNativeBackend creates a born CPU backend.
func NewNativeBackend() *NativeBackend {
	return &NativeBackend{backend: cpu.New()}
}

// Name implements Backend.
func (b *NativeBackend) Name() string { return string(BackendNative) }

// Open builds a born model from the already read model bytes.
func (b *NativeBackend) Open(src Source, sig Signature) (Session, error) {
	model, err := onnx.LoadFromBytes(src.Data, b.backend)
	if err != nil {
		return nil, errors.Wrap(err, "born import")
	}
	if in := model.InputNames(); len(in) != 1 || in[0] != sig.InputName {
		return nil, errors.Errorf("born model inputs %v, want [%s]", in, sig.InputName)
	}

	shape := make(borntensor.Shape, len(sig.InputShape))
	for i, d := range sig.InputShape {
		shape[i] = int(d)
	}
	return &nativeSession{model: model, backend: b.backend, shape: shape}, nil
}

type nativeSession struct {
	model   onnx.Model
	backend *cpu.Backend
	shape   borntensor.Shape
}

func (s *nativeSession) Run(input []float32) ([]float32, error) {
	t, err := borntensor.FromSlice[float32](input, s.shape, s.backend)
	if err != nil {
		return nil, errors.Wrap(err, "build input tensor")
	}
	out, err := s.model.Forward(t.Raw())
	if err != nil {
		return nil, err
	}
	if out.DType() != borntensor.Float32 {
		return nil, errors.Errorf("output dtype %v, want float32", out.DType())
	}
	// AsFloat32 aliases the tensor buffer.
	return append([]float32(nil), out.AsFloat32()...), nil
}

// born graphs keep intermediate state between Forward calls.
func (s *nativeSession) Concurrent() bool { return false }

func (s *nativeSession) Close() error { return nil }

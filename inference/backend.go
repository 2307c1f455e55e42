package inference

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/inference/providers"
)

// BackendName identifies an execution backend.
type BackendName string

const (
	// BackendONNXRuntime executes models through the onnxruntime shared library.
	BackendONNXRuntime BackendName = "onnxruntime"
	// BackendNative executes models in process with the born CPU backend.
	BackendNative BackendName = "native"
)

// Backends is a list of all supported backends.
var Backends = []BackendName{BackendONNXRuntime, BackendNative}

// ParseBackend validates a backend name. An empty name selects onnxruntime.
func ParseBackend(s string) (BackendName, error) {
	switch b := BackendName(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendONNXRuntime, nil
	case BackendONNXRuntime, BackendNative:
		return b, nil
	default:
		return "", errdefs.Config("parse backend", errors.Errorf("unsupported backend %q (want one of %v)", s, Backends))
	}
}

// Source is a model file and its contents, read once by Load.
type Source struct {
	Path string
	Data []byte
}

// Backend opens executable sessions for a validated model.
type Backend interface {
	Name() string
	Open(src Source, sig Signature) (Session, error)
}

// Session executes a single-input, single-output model.
type Session interface {
	// Run executes the model on a flat input laid out as the signature's
	// input shape and returns the flat output.
	Run(input []float32) ([]float32, error)
	// Concurrent reports whether Run may be called from several goroutines.
	Concurrent() bool
	Close() error
}

// NewBackend returns the backend for name. cfg is only used by onnxruntime.
//
// Arguments:
//   - name: The backend name.
//   - cfg: The execution provider configuration.
//
// Returns:
//   - Backend: The backend.
//   - error: When the name or the provider configuration is invalid.
//
// @example
// backend, err := inference.NewBackend(inference.BackendONNXRuntime, providers.DefaultConfig())
func NewBackend(name BackendName, cfg providers.Config) (Backend, error) {
	b, err := ParseBackend(string(name))
	if err != nil {
		return nil, err
	}
	switch b {
	case BackendNative:
		return NewNativeBackend(), nil
	default:
		if err := cfg.Validate(); err != nil {
			return nil, errdefs.Config("provider config", err)
		}
		return NewRuntimeBackend(cfg), nil
	}
}

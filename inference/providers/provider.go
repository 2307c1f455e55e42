// Package providers - ONNX Runtime execution providers and session options.
package providers

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend uses the default CPU execution provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for GPU acceleration.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// ParseProviderBackend validates a provider name.
func ParseProviderBackend(s string) (ProviderBackend, error) {
	switch p := ProviderBackend(strings.ToLower(strings.TrimSpace(s))); p {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return p, nil
	case "":
		return CPUProviderBackend, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", s)
	}
}

// Config selects the execution provider and the session tuning knobs.
type Config struct {
	// Provider is the execution provider appended to the session.
	Provider ProviderBackend `json:"provider" yaml:"provider"`
	// SharedLibraryPath overrides the onnxruntime shared library location.
	SharedLibraryPath string `json:"sharedLibraryPath" yaml:"sharedLibraryPath"`
	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graphOptimizationLevel" yaml:"graphOptimizationLevel"`
	// ExecutionMode controls sequential vs parallel execution.
	ExecutionMode ort.ExecutionMode `json:"executionMode" yaml:"executionMode"`
	// IntraOpNumThreads sets threads for parallelizing ops, 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intraOpNumThreads" yaml:"intraOpNumThreads"`
	// InterOpNumThreads sets threads for parallelizing independent ops.
	InterOpNumThreads int `json:"interOpNumThreads" yaml:"interOpNumThreads"`

	CUDA     CUDAOptions     `json:"cuda" yaml:"cuda"`
	CoreML   CoreMLOptions   `json:"coreml" yaml:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with extended graph optimizations.
//
// @example
// cfg := providers.DefaultConfig()
// cfg.Provider = providers.CUDAProviderBackend
func DefaultConfig() Config {
	return Config{
		Provider:               CPUProviderBackend,
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      maxInt(1, runtime.NumCPU()/2),
		InterOpNumThreads:      1,
	}
}

// Validate checks the configuration without touching the native library.
func (c Config) Validate() error {
	if _, err := ParseProviderBackend(string(c.Provider)); err != nil {
		return err
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return errors.Errorf("thread counts must not be negative (intra=%d, inter=%d)", c.IntraOpNumThreads, c.InterOpNumThreads)
	}
	return nil
}

// SessionOptions builds native session options for cfg. The caller owns the
// result and must Destroy it.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: When the options cannot be created or the provider cannot be appended.
//
// @example
// options, err := SessionOptions(cfg)
//
//	if err != nil {
//	    return err
//	}
//
// defer options.Destroy()
func SessionOptions(cfg Config) (*ort.SessionOptions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := applyTuning(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	if err := appendProvider(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func applyTuning(options *ort.SessionOptions, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(cfg.GraphOptimizationLevel); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}
	if err := options.SetExecutionMode(cfg.ExecutionMode); err != nil {
		return errors.Wrap(err, "set execution mode")
	}
	return nil
}

func appendProvider(options *ort.SessionOptions, cfg Config) error {
	p, _ := ParseProviderBackend(string(cfg.Provider))
	switch p {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreML.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.ToMap()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case CUDAProviderBackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(cfg.CUDA.ToMap()); err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func itoa(v int) string { return fmt.Sprintf("%d", v) }

package providers

import "fmt"

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"                 yaml:"deviceID"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream"    yaml:"doCopyInDefaultStream"`
	// The size limit of the device memory arena in bytes, 0 for no limit.
	GPUMemLimit int64 `json:"gpuMemLimit"              yaml:"gpuMemLimit"`
	// 0: kNextPowerOfTwo, 1: kSameAsRequested.
	ArenaExtendStrategy int `json:"arenaExtendStrategy"      yaml:"arenaExtendStrategy"`
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT.
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch"      yaml:"cudnnConvAlgoSearch"`
	// Check tuning performance for convolution heavy models for details on what this flag does.
	CudnnConvUseMaxWorkspace int `json:"cudnnConvUseMaxWorkspace" yaml:"cudnnConvUseMaxWorkspace"`
	// Allow TF32 math on Ampere and later.
	UseTF32 int `json:"useTF32"                  yaml:"useTF32"`
	// If enabled, the execution provider prefers NHWC operators over NCHW.
	PreferNHWC int `json:"preferNHWC"               yaml:"preferNHWC"`
}

var arenaStrategies = []string{"kNextPowerOfTwo", "kSameAsRequested"}

var convAlgoSearches = []string{"EXHAUSTIVE", "HEURISTIC", "DEFAULT"}

// ToMap converts the options to the key/value form accepted by
// CUDAProviderOptions.Update.
func (o CUDAOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_id":                    itoa(o.DeviceID),
		"do_copy_in_default_stream":    boolFlag(o.DoCopyInDefaultStream),
		"cudnn_conv_use_max_workspace": itoa(o.CudnnConvUseMaxWorkspace),
		"use_tf32":                     itoa(o.UseTF32),
		"prefer_nhwc":                  itoa(o.PreferNHWC),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	if o.ArenaExtendStrategy >= 0 && o.ArenaExtendStrategy < len(arenaStrategies) {
		m["arena_extend_strategy"] = arenaStrategies[o.ArenaExtendStrategy]
	}
	if o.CudnnConvAlgoSearch >= 0 && o.CudnnConvAlgoSearch < len(convAlgoSearches) {
		m["cudnn_conv_algo_search"] = convAlgoSearches[o.CudnnConvAlgoSearch]
	}
	return m
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

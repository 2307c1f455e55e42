package providers

// CoreML provider flags, see coreml_provider_factory.h.
const (
	CoreMLFlagUseCPUOnly              uint32 = 0x001
	CoreMLFlagEnableOnSubgraph        uint32 = 0x002
	CoreMLFlagOnlyEnableDeviceWithANE uint32 = 0x004
	CoreMLFlagOnlyAllowStaticShapes   uint32 = 0x008
	CoreMLFlagCreateMLProgram         uint32 = 0x010
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	UseCPUOnly bool `json:"useCPUOnly" yaml:"useCPUOnly"`
	// Enable CoreML EP to run on a subgraph in the body of a control flow operator.
	EnableOnSubgraphs bool `json:"enableOnSubgraphs" yaml:"enableOnSubgraphs"`
	// Only enable the EP on devices with an Apple Neural Engine.
	OnlyEnableDeviceWithANE bool `json:"onlyEnableDeviceWithANE" yaml:"onlyEnableDeviceWithANE"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes.
	RequireStaticInputShapes bool `json:"requireStaticInputShapes" yaml:"requireStaticInputShapes"`
	// Create an MLProgram format model. Requires Core ML 5 or later.
	CreateMLProgram bool `json:"createMLProgram" yaml:"createMLProgram"`
}

// Flags packs the options into the legacy CoreML flag word.
func (o CoreMLOptions) Flags() uint32 {
	var f uint32
	if o.UseCPUOnly {
		f |= CoreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraphs {
		f |= CoreMLFlagEnableOnSubgraph
	}
	if o.OnlyEnableDeviceWithANE {
		f |= CoreMLFlagOnlyEnableDeviceWithANE
	}
	if o.RequireStaticInputShapes {
		f |= CoreMLFlagOnlyAllowStaticShapes
	}
	if o.CreateMLProgram {
		f |= CoreMLFlagCreateMLProgram
	}
	return f
}

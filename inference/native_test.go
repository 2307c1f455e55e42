package inference

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-classify/dataset"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/pipeline"
	"github.com/nvr-ai/go-classify/preprocess"
)

// linearClassifierDef is input[1,1,28,28] -> Flatten -> Gemm -> output[1,10].
// Class c < 9 copies pixel c, class 9 sums every pixel, and the bias adds c.
// For a uniform image of value v the output is v+c for c < 9 and 784*v+9
// for class 9, all exact in float32.
func linearClassifierDef() modelDef {
	const pixels, classes = 784, 10
	w := make([]float32, pixels*classes)
	for i := 0; i < pixels; i++ {
		for c := 0; c < classes; c++ {
			if (c < classes-1 && i == c) || c == classes-1 {
				w[i*classes+c] = 1
			}
		}
	}
	bias := make([]float32, classes)
	for c := range bias {
		bias[c] = float32(c)
	}

	def := classifierDef(classes)
	def.weights = []weightDef{
		{name: "fc.weight", dims: []int64{pixels, classes}, data: w},
		{name: "fc.bias", dims: []int64{1, classes}, data: bias},
	}
	def.graph = []nodeDef{
		{op: "Flatten", inputs: []string{"input"}, outputs: []string{"flat"}},
		{op: "Gemm", inputs: []string{"flat", "fc.weight", "fc.bias"}, outputs: []string{"output"}},
	}
	return def
}

func expectedLinear(v float32) []float32 {
	out := make([]float32, 10)
	for c := 0; c < 9; c++ {
		out[c] = v + float32(c)
	}
	out[9] = 784*v + 9
	return out
}

func uniformInput(v float32) []float32 {
	in := make([]float32, 784)
	for i := range in {
		in[i] = v
	}
	return in
}

func writeUniformPNG(t *testing.T, dir, name string, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 28, 28))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestNativeBackendRun(t *testing.T) {
	model, err := Load(harness.Discard(), writeModel(t, linearClassifierDef()), WithBackend(NewNativeBackend()))
	require.NoError(t, err)
	defer model.Close()
	assert.Equal(t, "native", model.Backend())

	engine := NewEngine(harness.Discard(), model)
	chain, err := preprocess.NewChain(harness.Discard(), preprocess.DefaultConfig())
	require.NoError(t, err)

	out, err := engine.Run(context.Background(), chain.Tensor(uniformInput(3)))
	require.NoError(t, err)
	assert.Equal(t, expectedLinear(3), out)

	// The returned slice is a copy, not the backend's buffer.
	out[0] = -1
	again, err := engine.Run(context.Background(), chain.Tensor(uniformInput(3)))
	require.NoError(t, err)
	assert.Equal(t, expectedLinear(3), again)
}

func TestNativeBackendInputName(t *testing.T) {
	def := linearClassifierDef()
	data := buildModel(def)

	sig := Signature{
		InputName:   "pixels",
		OutputName:  DefaultOutputName,
		InputShape:  []int64{1, 1, 28, 28},
		OutputShape: []int64{1, 10},
	}
	_, err := NewNativeBackend().Open(Source{Path: "linear.onnx", Data: data}, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pixels")

	sig.InputName = DefaultInputName
	session, err := NewNativeBackend().Open(Source{Path: "linear.onnx", Data: data}, sig)
	require.NoError(t, err)
	assert.False(t, session.Concurrent())
	assert.NoError(t, session.Close())
}

func TestNativeBackendDigitsFolder(t *testing.T) {
	dir := t.TempDir()
	writeUniformPNG(t, dir, "digit0.png", 10)
	writeUniformPNG(t, dir, "digit1.png", 20)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes"), 0o644))

	hctx := harness.Discard()
	model, err := Load(hctx, writeModel(t, linearClassifierDef()), WithBackend(NewNativeBackend()))
	require.NoError(t, err)
	defer model.Close()

	chain, err := preprocess.NewChain(hctx, preprocess.DefaultConfig())
	require.NoError(t, err)
	enum, err := dataset.NewEnumerator(hctx, dir)
	require.NoError(t, err)
	runner := pipeline.NewRunner(hctx, chain, NewEngine(hctx, model), pipeline.WithWorkers(2))

	run := func() []pipeline.ScoredResult {
		report, err := runner.Run(context.Background(), enum.Records(context.Background()))
		require.NoError(t, err)
		require.Empty(t, report.Results.Failed())
		return report.Results.Scored()
	}

	first := run()
	require.Len(t, first, 2)
	assert.Equal(t, "digit0.png", filepath.Base(first[0].Record.Path))
	assert.Equal(t, "digit1.png", filepath.Base(first[1].Record.Path))
	for _, res := range first {
		assert.Len(t, res.Output, 10)
	}
	assert.Equal(t, expectedLinear(10), first[0].Output)
	assert.Equal(t, expectedLinear(20), first[1].Output)

	second := run()
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].Output, second[i].Output)
	}
}

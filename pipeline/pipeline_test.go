package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-classify/dataset"
	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/preprocess"
)

// meanScorer returns 10 values, each the mean of the input tensor, so a
// result can be traced back to the image that produced it.
type meanScorer struct {
	calls  atomic.Int32
	failOn map[float32]error
	delay  func(mean float32) time.Duration
	after  func(call int32)
}

func (s *meanScorer) Run(ctx context.Context, t *tensor.Dense) ([]float32, error) {
	n := s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := t.Data().([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}
	mean := sum / float32(len(data))
	if s.delay != nil {
		time.Sleep(s.delay(mean))
	}
	if s.after != nil {
		defer s.after(n)
	}
	if err, ok := s.failOn[mean]; ok {
		return nil, err
	}
	out := make([]float32, 10)
	for i := range out {
		out[i] = mean
	}
	return out, nil
}

func writeGray(t *testing.T, dir, name string, v uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 28, 28))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func newChain(t *testing.T) *preprocess.Chain {
	t.Helper()
	chain, err := preprocess.NewChain(harness.Discard(), preprocess.DefaultConfig())
	require.NoError(t, err)
	return chain
}

func newChainB(b *testing.B) *preprocess.Chain {
	b.Helper()
	chain, err := preprocess.NewChain(harness.Discard(), preprocess.DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	return chain
}

// grayRecords writes n uniform images with values 10, 20, ... and returns
// them in enumeration order.
func grayRecords(t *testing.T, n int) []dataset.ImageRecord {
	t.Helper()
	dir := t.TempDir()
	records := make([]dataset.ImageRecord, n)
	for i := range records {
		records[i] = dataset.ImageRecord{Path: writeGray(t, dir, fmt.Sprintf("img%02d.png", i), uint8((i+1)*10))}
	}
	return records
}

func TestRunnerDigitsFolder(t *testing.T) {
	dir := t.TempDir()
	writeGray(t, dir, "digit0.png", 0)
	writeGray(t, dir, "digit1.png", 255)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes"), 0o644))

	hctx := harness.Discard()
	enum, err := dataset.NewEnumerator(hctx, dir)
	require.NoError(t, err)

	runner := NewRunner(hctx, newChain(t), &meanScorer{}, WithWorkers(2))
	report, err := runner.Run(context.Background(), enum.Records(context.Background()))
	require.NoError(t, err)

	results := report.Results.Scored()
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(dir, "digit0.png"), results[0].Record.Path)
	assert.Equal(t, filepath.Join(dir, "digit1.png"), results[1].Record.Path)
	for _, r := range results {
		assert.Len(t, r.Output, 10)
	}
	assert.InDelta(t, 0, results[0].Output[0], 1e-6)
	assert.InDelta(t, 255, results[1].Output[0], 1e-6)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Stats.Scored)
	assert.Zero(t, report.Stats.Failed)
	assert.Equal(t, 2, report.Stats.Workers)
}

func TestRunnerPreservesOrder(t *testing.T) {
	records := grayRecords(t, 20)
	// Early records take longest, so completion order is reversed.
	scorer := &meanScorer{delay: func(mean float32) time.Duration {
		return time.Duration(250-int(mean)) * 20 * time.Microsecond
	}}

	runner := NewRunner(harness.Discard(), newChain(t), scorer, WithWorkers(8))
	report, err := runner.Run(context.Background(), dataset.Slice(records))
	require.NoError(t, err)

	all := report.Results.All()
	require.Len(t, all, 20)
	for i, r := range all {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, records[i].Path, r.Record.Path)
		assert.InDelta(t, float32((i+1)*10), r.Output[0], 1e-6)
	}
	assert.Equal(t, int32(20), scorer.calls.Load())
}

func TestRunnerFailureIsolation(t *testing.T) {
	records := grayRecords(t, 5)
	bad := filepath.Join(t.TempDir(), "corrupt.png")
	require.NoError(t, os.WriteFile(bad, []byte("definitely not a png"), 0o644))
	records = append(records[:2], append([]dataset.ImageRecord{{Path: bad}}, records[2:]...)...)

	runner := NewRunner(harness.Discard(), newChain(t), &meanScorer{}, WithWorkers(3))
	report, err := runner.Run(context.Background(), dataset.Slice(records))
	require.NoError(t, err)

	assert.Equal(t, 6, report.Results.Len())
	failed := report.Results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Index)
	assert.Equal(t, bad, failed[0].Record.Path)
	assert.Equal(t, errdefs.KindDecode, failed[0].Kind())
	assert.Equal(t, preprocess.StageDecode, failed[0].Stage)
	assert.ErrorIs(t, failed[0].Err, errdefs.ErrDecode)
	assert.Nil(t, failed[0].Output)

	scored := report.Results.Scored()
	require.Len(t, scored, 5)
	for i, want := range []int{0, 1, 3, 4, 5} {
		assert.Equal(t, want, scored[i].Index)
	}
	assert.InDelta(t, 1.0/6, report.Stats.ErrorRate, 1e-9)
}

func TestRunnerInferenceFailure(t *testing.T) {
	records := grayRecords(t, 3)
	scorer := &meanScorer{failOn: map[float32]error{
		20: errdefs.Inference("inference.run", errors.New("kernel crashed")),
	}}

	runner := NewRunner(harness.Discard(), newChain(t), scorer, WithWorkers(2))
	report, err := runner.Run(context.Background(), dataset.Slice(records))
	require.NoError(t, err)

	failed := report.Results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, StageInference, failed[0].Stage)
	assert.Equal(t, errdefs.KindInference, failed[0].Kind())
	assert.Equal(t, StageInference, errdefs.StageOf(failed[0].Err))
	assert.Len(t, report.Results.Scored(), 2)
}

func TestRunnerAbortOnFirstFailure(t *testing.T) {
	records := grayRecords(t, 6)
	scorer := &meanScorer{failOn: map[float32]error{
		30: errdefs.Inference("inference.run", errors.New("kernel crashed")),
	}}

	runner := NewRunner(harness.Discard(), newChain(t), scorer,
		WithWorkers(1),
		WithFailurePolicy(AbortOnFirstFailure),
	)
	report, err := runner.Run(context.Background(), dataset.Slice(records))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInference)
	require.NotNil(t, report)

	assert.Len(t, report.Results.Scored(), 2)
	failed := report.Results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Index)
	assert.Equal(t, 3, report.Results.Len())
	assert.Equal(t, AbortOnFirstFailure, report.Policy)
}

func TestRunnerCancellation(t *testing.T) {
	records := grayRecords(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scorer := &meanScorer{after: func(call int32) {
		if call == 3 {
			cancel()
		}
	}}

	runner := NewRunner(harness.Discard(), newChain(t), scorer, WithWorkers(1))
	report, err := runner.Run(ctx, dataset.Slice(records))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	all := report.Results.All()
	require.Len(t, all, 3)
	for i, r := range all {
		assert.True(t, r.OK())
		assert.Equal(t, i, r.Index)
		assert.Equal(t, records[i].Path, r.Record.Path)
	}
}

func TestRunnerEnumerationError(t *testing.T) {
	records := grayRecords(t, 2)
	seq := iter.Seq2[dataset.ImageRecord, error](func(yield func(dataset.ImageRecord, error) bool) {
		if !yield(records[0], nil) {
			return
		}
		yield(dataset.ImageRecord{}, errors.New("directory vanished"))
	})

	runner := NewRunner(harness.Discard(), newChain(t), &meanScorer{}, WithWorkers(2))
	report, err := runner.Run(context.Background(), seq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory vanished")
	assert.Equal(t, 1, report.Results.Len())
}

func TestRunnerTimings(t *testing.T) {
	runner := NewRunner(harness.Discard(), newChain(t), &meanScorer{}, WithWorkers(2))
	report, err := runner.Run(context.Background(), dataset.Slice(grayRecords(t, 4)))
	require.NoError(t, err)

	stages := report.Timings.Snapshot()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Stage
		assert.Equal(t, int64(4), s.Count, s.Stage)
	}
	assert.Equal(t, []string{
		preprocess.StageDecode,
		preprocess.StageExtract,
		preprocess.StageGrayscale,
		StageInference,
		preprocess.StageResize,
	}, names)
}

func TestRunnerDefaults(t *testing.T) {
	r := NewRunner(harness.Discard(), newChain(t), &meanScorer{}, WithWorkers(0))
	assert.GreaterOrEqual(t, r.workers, 1)
	assert.Equal(t, SkipAndRecord, r.policy)
	assert.Equal(t, "skip_and_record", SkipAndRecord.String())
	assert.Equal(t, "abort_on_first_failure", AbortOnFirstFailure.String())
}

func TestRunnerContextWithoutMetrics(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	hctx := &harness.Context{Logger: l}
	chain, err := preprocess.NewChain(hctx, preprocess.DefaultConfig())
	require.NoError(t, err)

	report, err := NewRunner(hctx, chain, &meanScorer{}, WithWorkers(2)).Run(context.Background(), dataset.Slice(grayRecords(t, 3)))
	require.NoError(t, err)
	assert.Len(t, report.Results.Scored(), 3)
}

func workersActive(value int) string {
	return fmt.Sprintf(`# HELP classify_pipeline_workers_active Workers currently processing an image
# TYPE classify_pipeline_workers_active gauge
classify_pipeline_workers_active %d
`, value)
}

func TestRunnerWorkersActiveGauge(t *testing.T) {
	hctx := harness.Discard()
	reg := hctx.Metrics.Registry()

	var during error
	scorer := &meanScorer{after: func(int32) {
		during = testutil.GatherAndCompare(reg, strings.NewReader(workersActive(1)), "classify_pipeline_workers_active")
	}}
	_, err := NewRunner(hctx, newChain(t), scorer, WithWorkers(4)).Run(context.Background(), dataset.Slice(grayRecords(t, 1)))
	require.NoError(t, err)

	assert.NoError(t, during, "one busy worker while scoring one image")
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(workersActive(0)), "classify_pipeline_workers_active"))
}

func TestRunnerEmpty(t *testing.T) {
	runner := NewRunner(harness.Discard(), newChain(t), &meanScorer{})
	report, err := runner.Run(context.Background(), dataset.Slice(nil))
	require.NoError(t, err)
	assert.Zero(t, report.Results.Len())
	assert.Empty(t, report.Results.All())
	assert.Zero(t, report.Stats.ErrorRate)
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	a, b, d := c.Reserve(), c.Reserve(), c.Reserve()
	assert.Equal(t, []int{0, 1, 2}, []int{a, b, d})

	require.NoError(t, c.Set(ScoredResult{Index: d, Output: []float32{3}}))
	require.NoError(t, c.Set(ScoredResult{Index: a, Err: errdefs.Decode("decode", "a.png", nil)}))
	assert.Equal(t, 2, c.Len())

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].Index)
	assert.Equal(t, 2, all[1].Index)
	assert.Len(t, c.Scored(), 1)
	assert.Len(t, c.Failed(), 1)

	require.NoError(t, c.Set(ScoredResult{Index: a, Output: []float32{1}}))
	assert.Equal(t, 2, c.Len())
	assert.Len(t, c.Scored(), 2)

	assert.Error(t, c.Set(ScoredResult{Index: 7}))
	assert.Error(t, c.Set(ScoredResult{Index: -1}))
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	idx := make([]int, 100)
	for i := range idx {
		idx[i] = c.Reserve()
	}
	var wg sync.WaitGroup
	for i := len(idx) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Set(ScoredResult{Index: idx[i], Output: []float32{float32(i)}}))
		}(i)
	}
	wg.Wait()

	all := c.All()
	require.Len(t, all, 100)
	for i, r := range all {
		assert.Equal(t, float32(i), r.Output[0])
	}
}

func TestTimings(t *testing.T) {
	tm := NewTimings()
	tm.Record("decode", 3*time.Millisecond)
	tm.Record("decode", 1*time.Millisecond)
	tm.Record("decode", 2*time.Millisecond)

	s, ok := tm.Get("decode")
	require.True(t, ok)
	assert.Equal(t, int64(3), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 3*time.Millisecond, s.Max)
	assert.Equal(t, 2*time.Millisecond, s.Mean())

	_, ok = tm.Get("resize")
	assert.False(t, ok)
	assert.Zero(t, StageStats{}.Mean())
}

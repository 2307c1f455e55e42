// Package inference - ONNX model loading, validation and execution.
package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/metrics"
)

// Engine runs a loaded model on preprocessed tensors. It is safe for
// concurrent use; sessions that are not concurrency safe are serialized.
type Engine struct {
	model   *Model
	log     logrus.FieldLogger
	metrics *metrics.Collector
	mu      sync.Mutex
}

// NewEngine creates an engine over model.
//
// Arguments:
//   - hctx: The run context.
//   - model: The loaded model, owned by the caller.
//
// Returns:
//   - *Engine: The engine.
func NewEngine(hctx *harness.Context, model *Model) *Engine {
	return &Engine{
		model:   model,
		log:     hctx.Component("engine").WithField("backend", model.Backend()),
		metrics: hctx.Metrics,
	}
}

// Model returns the model the engine runs.
func (e *Engine) Model() *Model { return e.model }

// Run executes the model on t and returns the flat output vector.
//
// Arguments:
//   - ctx: Checked before the backend is invoked.
//   - t: A float32 tensor shaped like the model input.
//
// Returns:
//   - []float32: The model output, one value per class.
//   - error: ErrShapeMismatch when t does not fit the input, ErrInference when
//     the backend fails, or ctx.Err().
//
// @example
// out, err := engine.Run(ctx, t)
func (e *Engine) Run(ctx context.Context, t *tensor.Dense) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input, err := e.check(t)
	if err != nil {
		return nil, err
	}

	session := e.model.session
	if !session.Concurrent() {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	start := time.Now()
	out, err := session.Run(input)
	elapsed := time.Since(start)
	e.metrics.ObserveInference(elapsed)
	if err != nil {
		return nil, errdefs.Inference("inference.run", err)
	}
	if want := e.model.signature.Classes(); len(out) != want {
		return nil, errdefs.Inference("inference.run", errors.Errorf("backend returned %d values, want %d", len(out), want))
	}

	e.log.WithField("elapsed", elapsed).Debug("inference complete")
	return out, nil
}

func (e *Engine) check(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errdefs.ShapeMismatch("inference.run", errors.New("nil input tensor"))
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errdefs.ShapeMismatch("inference.run", errors.Errorf("input dtype %v, want float32", t.Dtype()))
	}

	want := e.model.signature.InputShape
	shape := t.Shape()
	if len(shape) != len(want) {
		return nil, errdefs.ShapeMismatch("inference.run", errors.Errorf("input shape %v, want %v", shape, want))
	}
	for i := range shape {
		if int64(shape[i]) != want[i] {
			return nil, errdefs.ShapeMismatch("inference.run", errors.Errorf("input shape %v, want %v", shape, want))
		}
	}

	data, ok := t.Data().([]float32)
	if !ok || len(data) != e.model.signature.InputSize() {
		return nil, errdefs.ShapeMismatch("inference.run", errors.Errorf("input holds %d values, want %d", t.DataSize(), e.model.signature.InputSize()))
	}
	return data, nil
}

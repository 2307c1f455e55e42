package preprocess

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/images"
	"github.com/nvr-ai/go-classify/metrics"
)

// Chain runs an ordered list of stages over one image at a time.
type Chain struct {
	config  Config
	stages  []Stage
	log     logrus.FieldLogger
	metrics *metrics.Collector
}

// NewChain builds the default decode, resize, grayscale, extract chain.
//
// Arguments:
//   - hctx: The run context.
//   - cfg: The preprocessing configuration.
//
// Returns:
//   - *Chain: The chain.
//   - error: ErrConfig for an invalid configuration or a decoder that is not
//     compiled in.
//
// @example
//
//	chain, err := preprocess.NewChain(hctx, preprocess.DefaultConfig())
//	t, err := chain.Process(ctx, "assets/images/digit0.png")
func NewChain(hctx *harness.Context, cfg Config) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dec, err := images.NewDecoder(cfg.Decoder)
	if err != nil {
		return nil, errdefs.Config("preprocess.chain", err)
	}
	return NewChainFromStages(hctx, cfg,
		DecodeStage{Decoder: dec},
		ResizeStage{Width: cfg.Width, Height: cfg.Height, Interpolation: cfg.Interpolation, Mode: cfg.ResizeMode},
		GrayscaleStage{},
		ExtractStage{Config: cfg},
	), nil
}

// NewChainFromStages builds a chain from explicit stages. The last stage must
// leave Frame.Data filled with Width*Height values.
func NewChainFromStages(hctx *harness.Context, cfg Config, stages ...Stage) *Chain {
	return &Chain{
		config:  cfg,
		stages:  stages,
		log:     hctx.Component("preprocess"),
		metrics: hctx.Metrics,
	}
}

// Config returns the chain configuration.
func (c *Chain) Config() Config {
	return c.config
}

// Stages returns the stage names in execution order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Run applies every stage to the image at path and returns the final frame.
// A stage error is annotated with the stage name and path. Cancellation is
// checked between stages and returned unwrapped.
func (c *Chain) Run(ctx context.Context, path string) (*Frame, error) {
	f := &Frame{Path: path, Timings: make([]StageTiming, 0, len(c.stages))}
	for _, s := range c.stages {
		if err := ctx.Err(); err != nil {
			return f, err
		}
		start := time.Now()
		err := s.Apply(ctx, f)
		d := time.Since(start)
		f.Timings = append(f.Timings, StageTiming{Stage: s.Name(), Duration: d})
		c.metrics.ObserveStage(s.Name(), d)
		if err != nil {
			c.log.WithFields(logrus.Fields{"path": path, "stage": s.Name()}).WithError(err).Debug("stage failed")
			return f, errdefs.WithStage(err, s.Name(), path)
		}
	}
	if want := c.config.Width * c.config.Height; len(f.Data) != want {
		return f, errdefs.WithStage(errdefs.ShapeMismatch("preprocess.chain", nil), StageExtract, path)
	}
	return f, nil
}

// Process runs the chain and wraps the result in a [1, 1, H, W] float32
// tensor.
func (c *Chain) Process(ctx context.Context, path string) (*tensor.Dense, error) {
	f, err := c.Run(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.Tensor(f.Data), nil
}

// Tensor wraps data, which must hold Width*Height values, in the chain's
// output shape.
func (c *Chain) Tensor(data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(c.config.Shape()...), tensor.WithBacking(data))
}

package pipeline

import (
	"context"
	"iter"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-classify/dataset"
	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/metrics"
	"github.com/nvr-ai/go-classify/preprocess"
)

// StageInference names the model execution step in results and timings.
const StageInference = "inference"

// FailurePolicy decides what a per-image failure does to the run.
type FailurePolicy int

const (
	// SkipAndRecord stores the failure and keeps scoring the other records.
	SkipAndRecord FailurePolicy = iota
	// AbortOnFirstFailure stops dispatch at the first failure and returns it.
	AbortOnFirstFailure
)

func (p FailurePolicy) String() string {
	if p == AbortOnFirstFailure {
		return "abort_on_first_failure"
	}
	return "skip_and_record"
}

// Preprocessor turns an image path into model input. *preprocess.Chain
// implements it.
type Preprocessor interface {
	Run(ctx context.Context, path string) (*preprocess.Frame, error)
	Tensor(data []float32) *tensor.Dense
}

// Scorer runs the model. *inference.Engine implements it.
type Scorer interface {
	Run(ctx context.Context, t *tensor.Dense) ([]float32, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets the number of concurrent workers. Values below 1 select
// runtime.NumCPU.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = runtime.NumCPU()
		}
		r.workers = n
	}
}

// WithFailurePolicy sets the failure policy. The default is SkipAndRecord.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(r *Runner) { r.policy = p }
}

// Runner scores records with a pool of workers. Preprocessing runs in
// parallel; the engine decides whether model runs overlap.
type Runner struct {
	chain   Preprocessor
	engine  Scorer
	workers int
	policy  FailurePolicy
	log     logrus.FieldLogger
	metrics *metrics.Collector
}

// Report is the outcome of one run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Policy    FailurePolicy
	Results   *Collector
	Timings   *Timings
	Stats     RunStats
}

// NewRunner creates a runner.
//
// Arguments:
//   - hctx: The run context.
//   - chain: The preprocessing chain.
//   - engine: The inference engine.
//   - opts: Runner options.
//
// Returns:
//   - *Runner: The runner.
//
// @example
//
//	runner := pipeline.NewRunner(hctx, chain, engine, pipeline.WithWorkers(4))
//	report, err := runner.Run(ctx, enumerator.Records(ctx))
func NewRunner(hctx *harness.Context, chain Preprocessor, engine Scorer, opts ...Option) *Runner {
	r := &Runner{
		chain:   chain,
		engine:  engine,
		workers: runtime.NumCPU(),
		policy:  SkipAndRecord,
		log:     hctx.Component("pipeline"),
		metrics: hctx.Metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type job struct {
	index  int
	record dataset.ImageRecord
}

// Run scores every record and returns the ordered report.
//
// Per-image failures are stored in the report under SkipAndRecord. Under
// AbortOnFirstFailure the first failure stops dispatch and is returned with
// the partial report. An enumeration error stops dispatch and is returned.
// Cancellation stops dispatch; records already scored stay in the report,
// which is returned together with ctx.Err().
//
// Arguments:
//   - ctx: Cancels the run.
//   - records: The records to score.
//
// Returns:
//   - *Report: The report, never nil.
//   - error: The abort, enumeration or cancellation error.
func (r *Runner) Run(ctx context.Context, records iter.Seq2[dataset.ImageRecord, error]) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Policy:    r.policy,
		Results:   NewCollector(),
		Timings:   NewTimings(),
	}
	log := r.log.WithFields(logrus.Fields{"run_id": report.RunID, "workers": r.workers, "policy": r.policy})
	log.Info("run started")
	r.metrics.RecordRun()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		abortOnce sync.Once
		abortErr  error
	)
	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r.metrics.WorkerStarted()
				res, ok := r.score(runCtx, j, report.Timings)
				r.metrics.WorkerDone()
				if !ok {
					continue
				}
				_ = report.Results.Set(res)
				r.record(log, res)
				if !res.OK() && r.policy == AbortOnFirstFailure {
					abortOnce.Do(func() {
						abortErr = res.Err
						cancel()
					})
				}
			}
		}()
	}

	enumErr := dispatch(runCtx, records, report.Results, jobs)
	close(jobs)
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	report.Stats = computeStats(report.Results, r.workers, report.Duration)

	var err error
	switch {
	case abortErr != nil:
		err = abortErr
	case ctx.Err() != nil:
		err = ctx.Err()
	case enumErr != nil:
		err = errors.Wrap(enumErr, "enumerate records")
	}

	entry := log.WithFields(logrus.Fields{
		"scored":   report.Stats.Scored,
		"failed":   report.Stats.Failed,
		"duration": report.Duration,
	})
	if err != nil {
		entry.WithError(err).Warn("run stopped")
	} else {
		entry.Info("run complete")
	}
	return report, err
}

// dispatch reserves an index per record in enumeration order and hands the
// record to the workers.
func dispatch(ctx context.Context, records iter.Seq2[dataset.ImageRecord, error], results *Collector, jobs chan<- job) error {
	for rec, err := range records {
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		j := job{index: results.Reserve(), record: rec}
		select {
		case jobs <- j:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// score runs one record through the chain and the engine. ok is false when
// the run was cancelled while the record was in flight.
func (r *Runner) score(ctx context.Context, j job, timings *Timings) (ScoredResult, bool) {
	res := ScoredResult{Index: j.index, Record: j.record}
	start := time.Now()
	if ctx.Err() != nil {
		return res, false
	}

	frame, err := r.chain.Run(ctx, j.record.Path)
	if frame != nil {
		for _, st := range frame.Timings {
			timings.Record(st.Stage, st.Duration)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, false
		}
		res.Err = err
		res.Stage = errdefs.StageOf(err)
		res.Duration = time.Since(start)
		return res, true
	}

	inferStart := time.Now()
	out, err := r.engine.Run(ctx, r.chain.Tensor(frame.Data))
	timings.Record(StageInference, time.Since(inferStart))
	if err != nil {
		if ctx.Err() != nil {
			return res, false
		}
		res.Err = errdefs.WithStage(err, StageInference, j.record.Path)
		res.Stage = StageInference
		res.Duration = time.Since(start)
		return res, true
	}

	res.Output = out
	res.Duration = time.Since(start)
	return res, true
}

func (r *Runner) record(log logrus.FieldLogger, res ScoredResult) {
	if res.OK() {
		r.metrics.RecordImage(metrics.StatusScored)
		log.WithFields(logrus.Fields{"path": res.Record.Path, "index": res.Index}).Debug("image scored")
		return
	}
	r.metrics.RecordImage(metrics.StatusFailed)
	r.metrics.RecordFailure(string(res.Kind()), res.Stage)
	log.WithFields(logrus.Fields{
		"path":  res.Record.Path,
		"index": res.Index,
		"stage": res.Stage,
		"kind":  res.Kind(),
	}).WithError(res.Err).Warn("image failed")
}

// Command classify scores every image in a folder with an ONNX classifier.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/config"
	"github.com/nvr-ai/go-classify/dataset"
	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/inference"
	"github.com/nvr-ai/go-classify/pipeline"
	"github.com/nvr-ai/go-classify/preprocess"
	"github.com/nvr-ai/go-classify/results"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "classify: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the failure kind to a process exit status.
func exitCode(err error) int {
	switch errdefs.KindOf(err) {
	case errdefs.KindConfig:
		return 2
	case errdefs.KindNotFound, errdefs.KindModelLoad:
		return 3
	default:
		return 1
	}
}

// flags are the command line overrides. Only flags given explicitly replace
// configuration values.
type flags struct {
	configPath string
	model      string
	images     string
	manifest   string
	output     string
	format     string
	workers    int
	backend    string
	provider   string
	logLevel   string
	failFast   bool
	metrics    string
	set        map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{set: map[string]bool{}}
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to a YAML config file (default $"+config.EnvConfig+")")
	fs.StringVar(&f.model, "model", "", "Path to the ONNX model")
	fs.StringVar(&f.images, "images", "", "Directory of images to score")
	fs.StringVar(&f.manifest, "manifest", "", "TSV manifest of image paths and labels, replaces -images listing")
	fs.StringVar(&f.output, "output", "", "Output directory for csv and json results")
	fs.StringVar(&f.format, "format", "", "Output format: csv, json or console")
	fs.IntVar(&f.workers, "workers", 0, "Number of concurrent workers, 0 for one per CPU")
	fs.StringVar(&f.backend, "backend", "", "Execution backend: onnxruntime or native")
	fs.StringVar(&f.provider, "provider", "", "onnxruntime execution provider: cpu, cuda, coreml or openvino")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.BoolVar(&f.failFast, "fail-fast", false, "Stop at the first image that fails")
	fs.StringVar(&f.metrics, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errdefs.Config("parse flags", errors.Errorf("unexpected arguments %v", fs.Args()))
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

func (f *flags) apply(cfg *config.Config) {
	if f.set["model"] {
		cfg.ModelPath = f.model
	}
	if f.set["images"] {
		cfg.ImagesDir = f.images
	}
	if f.set["manifest"] {
		cfg.Manifest = f.manifest
	}
	if f.set["output"] {
		cfg.OutputDir = f.output
	}
	if f.set["format"] {
		cfg.OutputFormat = f.format
	}
	if f.set["workers"] {
		cfg.Workers = f.workers
	}
	if f.set["backend"] {
		cfg.Backend = f.backend
	}
	if f.set["provider"] {
		cfg.Provider = f.provider
	}
	if f.set["log-level"] {
		cfg.LogLevel = f.logLevel
	}
	if f.set["fail-fast"] {
		cfg.FailFast = f.failFast
	}
	if f.set["metrics-file"] {
		cfg.MetricsFile = f.metrics
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Read(ctx, f.configPath)
	if err != nil {
		return err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := harness.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	hctx := harness.New(harness.WithLogger(logger))
	log := hctx.Component("classify")

	records, err := recordSource(ctx, hctx, cfg)
	if err != nil {
		return err
	}
	chain, err := preprocess.NewChain(hctx, cfg.Preprocess)
	if err != nil {
		return err
	}

	pc, err := cfg.Providers()
	if err != nil {
		return err
	}
	backend, err := inference.NewBackend(inference.BackendName(cfg.Backend), pc)
	if err != nil {
		return err
	}
	model, err := inference.Load(hctx, cfg.ModelPath, append(cfg.LoadOptions(), inference.WithBackend(backend))...)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			log.WithError(err).Warn("closing model")
		}
	}()

	policy := pipeline.SkipAndRecord
	if cfg.FailFast {
		policy = pipeline.AbortOnFirstFailure
	}
	runner := pipeline.NewRunner(hctx, chain, inference.NewEngine(hctx, model),
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithFailurePolicy(policy),
	)
	report, runErr := runner.Run(ctx, records)

	// A partial report is still written when the run stops early.
	sink, err := results.NewSink(hctx, results.Format(cfg.OutputFormat), cfg.OutputDir, cfg.Scoring())
	if err != nil {
		return err
	}
	if err := sink.Write(report); err != nil {
		return errors.Wrap(err, "write results")
	}
	if cfg.MetricsFile != "" {
		if err := hctx.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			log.WithError(err).Warn("writing metrics textfile")
		}
	}
	return runErr
}

func recordSource(ctx context.Context, hctx *harness.Context, cfg *config.Config) (iter.Seq2[dataset.ImageRecord, error], error) {
	if cfg.Manifest != "" {
		records, err := dataset.ReadManifest(hctx, cfg.Manifest, cfg.ImagesDir)
		if err != nil {
			return nil, err
		}
		return dataset.Slice(records), nil
	}
	enum, err := dataset.NewEnumerator(hctx, cfg.ImagesDir, dataset.WithExclude(cfg.ExcludeExtensions...))
	if err != nil {
		return nil, err
	}
	return enum.Records(ctx), nil
}

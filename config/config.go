// Package config - Process configuration for the classifier harness.
//
// Values are layered, lowest precedence first: Default, an optional YAML
// file, then CLASSIFY_ environment variables. Nested keys use a double
// underscore in the environment, e.g. CLASSIFY_PREPROCESS__WIDTH.
package config

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/inference"
	"github.com/nvr-ai/go-classify/inference/providers"
	"github.com/nvr-ai/go-classify/preprocess"
	"github.com/nvr-ai/go-classify/results"
)

// Model configures loading of the ONNX model.
type Model struct {
	InputName  string `koanf:"input_name"`
	OutputName string `koanf:"output_name"`
	// Classes pins the output class count, 0 to take it from the model.
	Classes int `koanf:"classes"`
	// Warmup is the number of runs on a zero tensor before scoring.
	Warmup int `koanf:"warmup"`
}

// Config contains process configuration.
type Config struct {
	ModelPath string `koanf:"model_path"`
	ImagesDir string `koanf:"images_dir"`
	// Manifest is an optional TSV of image paths and labels that replaces
	// the directory listing.
	Manifest     string `koanf:"manifest"`
	OutputDir    string `koanf:"output_dir"`
	OutputFormat string `koanf:"output_format"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Workers  int  `koanf:"workers"`
	FailFast bool `koanf:"fail_fast"`

	Backend           string `koanf:"backend"`
	Provider          string `koanf:"provider"`
	SharedLibraryPath string `koanf:"shared_library_path"`
	IntraOpThreads    int    `koanf:"intra_op_threads"`
	InterOpThreads    int    `koanf:"inter_op_threads"`

	ExcludeExtensions []string `koanf:"exclude_extensions"`
	// MetricsFile receives the Prometheus textfile export after the run.
	MetricsFile string `koanf:"metrics_file"`

	Labels       string `koanf:"labels"`
	ApplySoftmax bool   `koanf:"apply_softmax"`
	TopK         int    `koanf:"top_k"`

	Preprocess preprocess.Config `koanf:"preprocess"`
	Model      Model             `koanf:"model"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	pc := providers.DefaultConfig()
	return &Config{
		ModelPath:         "assets/models/model.onnx",
		ImagesDir:         "assets/images",
		OutputDir:         "out",
		OutputFormat:      string(results.FormatConsole),
		LogLevel:          "info",
		LogFormat:         "text",
		Workers:           0,
		Backend:           string(inference.BackendONNXRuntime),
		Provider:          string(providers.CPUProviderBackend),
		IntraOpThreads:    pc.IntraOpNumThreads,
		InterOpThreads:    pc.InterOpNumThreads,
		ExcludeExtensions: []string{".md"},
		TopK:              3,
		Preprocess:        preprocess.DefaultConfig(),
		Model: Model{
			InputName:  inference.DefaultInputName,
			OutputName: inference.DefaultOutputName,
		},
	}
}

// Validate checks every value that can be checked without touching the
// filesystem or the native libraries.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errdefs.Config("config.validate", errors.New("model_path must not be empty"))
	}
	if c.ImagesDir == "" && c.Manifest == "" {
		return errdefs.Config("config.validate", errors.New("one of images_dir or manifest is required"))
	}
	if _, err := results.ParseFormat(c.OutputFormat); err != nil {
		return err
	}
	if c.OutputFormat != string(results.FormatConsole) && c.OutputFormat != "" && c.OutputDir == "" {
		return errdefs.Config("config.validate", errors.Errorf("output_dir is required for %s output", c.OutputFormat))
	}
	if c.Workers < 0 {
		return errdefs.Config("config.validate", errors.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.TopK < 0 {
		return errdefs.Config("config.validate", errors.Errorf("top_k must not be negative, got %d", c.TopK))
	}
	if c.Model.Warmup < 0 || c.Model.Classes < 0 {
		return errdefs.Config("config.validate", errors.New("model.warmup and model.classes must not be negative"))
	}
	if c.Model.InputName == "" || c.Model.OutputName == "" {
		return errdefs.Config("config.validate", errors.New("model.input_name and model.output_name must not be empty"))
	}
	if _, err := inference.ParseBackend(c.Backend); err != nil {
		return err
	}
	if _, err := c.Providers(); err != nil {
		return err
	}
	return c.Preprocess.Validate()
}

// Providers returns the onnxruntime execution provider configuration.
func (c *Config) Providers() (providers.Config, error) {
	p, err := providers.ParseProviderBackend(c.Provider)
	if err != nil {
		return providers.Config{}, errdefs.Config("config.providers", err)
	}
	pc := providers.DefaultConfig()
	pc.Provider = p
	pc.SharedLibraryPath = c.SharedLibraryPath
	pc.IntraOpNumThreads = c.IntraOpThreads
	pc.InterOpNumThreads = c.InterOpThreads
	if err := pc.Validate(); err != nil {
		return providers.Config{}, errdefs.Config("config.providers", err)
	}
	return pc, nil
}

// LoadOptions maps the model section onto inference load options.
func (c *Config) LoadOptions() []inference.Option {
	opts := []inference.Option{
		inference.WithInputName(c.Model.InputName),
		inference.WithOutputName(c.Model.OutputName),
		inference.WithInputSize(c.Preprocess.Width, c.Preprocess.Height),
	}
	if c.Model.Classes > 0 {
		opts = append(opts, inference.WithClasses(c.Model.Classes))
	}
	if c.Model.Warmup > 0 {
		opts = append(opts, inference.WithWarmup(c.Model.Warmup))
	}
	return opts
}

// Scoring returns how the sinks present outputs.
func (c *Config) Scoring() results.Scoring {
	return results.Scoring{
		Labels:  results.ParseLabels(c.Labels),
		Softmax: c.ApplySoftmax,
		TopK:    c.TopK,
	}
}

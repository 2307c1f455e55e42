package config

import (
	"context"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nvr-ai/go-classify/errdefs"
)

// Environment variable names.
const (
	EnvPrefix = "CLASSIFY_"
	EnvConfig = EnvPrefix + "CONFIG"
)

// Load builds a Config by layering defaults, an optional YAML file and
// environment variables, then validates it.
//
// Arguments:
//   - ctx: Reserved for cancellation of future remote sources.
//   - path: The YAML file; empty falls back to CLASSIFY_CONFIG, then to no
//     file.
//
// Returns:
//   - *Config: The configuration.
//   - error: ErrNotFound for a missing file, ErrConfig for an unreadable or
//     invalid configuration.
//
// @example
// cfg, err := config.Load(ctx, "classify.yaml")
func Load(ctx context.Context, path string) (*Config, error) {
	cfg, err := Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read layers defaults, the YAML file and the environment like Load but does
// not validate, so callers can apply further overrides (command line flags)
// before calling Validate.
func Read(_ context.Context, path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errdefs.NotFound("config.load", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errdefs.Config("config.load", err)
		}
	}

	// CLASSIFY_PREPROCESS__WIDTH -> preprocess.width. List keys take comma
	// separated values.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errdefs.Config("config.load", err)
	}
	// The file location itself is not a config key.
	k.Delete("config")

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errdefs.Config("config.unmarshal", err)
	}
	return cfg, nil
}

var listKeys = map[string]struct{}{
	"exclude_extensions": {},
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

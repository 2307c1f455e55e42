// Package preprocess - Turns an image file into the model's input tensor.
//
// The work is an explicit, ordered list of stages (decode, resize,
// grayscale, extract) iterated by a single runner. Stages keep no state
// between images, so one Chain can serve many goroutines.
package preprocess

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/images"
)

// NormalizationType defines how pixel values are normalized.
type NormalizationType string

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = "none"
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne NormalizationType = "zero_to_one"
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne NormalizationType = "minus_one_to_one"
	// NormalizeStandardize applies (v - Mean) / Std.
	NormalizeStandardize NormalizationType = "standardize"
	// NormalizeScale applies v*Scale + Offset.
	NormalizeScale NormalizationType = "scale"
)

// Channel selects which color channel feeds the tensor.
type Channel string

const (
	ChannelRed   Channel = "red"
	ChannelGreen Channel = "green"
	ChannelBlue  Channel = "blue"
)

// Config defines the preprocessing of one model input.
type Config struct {
	// Width is the expected width of the model input.
	Width int `koanf:"width" json:"width"`
	// Height is the expected height of the model input.
	Height int `koanf:"height" json:"height"`
	// Interpolation is the resampling algorithm used by the resize stage.
	Interpolation images.Interpolation `koanf:"interpolation" json:"interpolation"`
	// ResizeMode fits non-matching aspect ratios by stretching or by a
	// centered crop.
	ResizeMode images.ResizeMode `koanf:"resize_mode" json:"resize_mode"`
	// Decoder is the registry name of the image decoder.
	Decoder string `koanf:"decoder" json:"decoder"`
	// Channel is the channel the extract stage reads.
	Channel Channel `koanf:"channel" json:"channel"`
	// Normalization defines how pixel values are normalized.
	Normalization NormalizationType `koanf:"normalization" json:"normalization"`
	// Mean and Std are used by NormalizeStandardize.
	Mean float32 `koanf:"mean" json:"mean"`
	Std  float32 `koanf:"std" json:"std"`
	// Scale and Offset are used by NormalizeScale.
	Scale  float32 `koanf:"scale" json:"scale"`
	Offset float32 `koanf:"offset" json:"offset"`
}

// DefaultConfig returns the 28x28 single-channel configuration: centered
// crop then bilinear resize, red channel after grayscale, raw 0-255
// intensities.
func DefaultConfig() Config {
	return Config{
		Width:         28,
		Height:        28,
		Interpolation: images.InterpolationBilinear,
		ResizeMode:    images.ResizeIsoCrop,
		Decoder:       images.DecoderStd,
		Channel:       ChannelRed,
		Normalization: NormalizeNone,
		Scale:         1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errdefs.Config("preprocess.config", errors.Errorf("dimensions must be positive, got %dx%d", c.Width, c.Height))
	}
	if _, err := images.ParseInterpolation(string(c.Interpolation)); err != nil {
		return errdefs.Config("preprocess.config", err)
	}
	if _, err := images.ParseResizeMode(string(c.ResizeMode)); err != nil {
		return errdefs.Config("preprocess.config", err)
	}
	switch Channel(strings.ToLower(string(c.Channel))) {
	case ChannelRed, ChannelGreen, ChannelBlue:
	default:
		return errdefs.Config("preprocess.config", errors.Errorf("unknown channel %q", c.Channel))
	}
	switch c.Normalization {
	case NormalizeNone, NormalizeZeroToOne, NormalizeMinusOneToOne, NormalizeScale:
	case NormalizeStandardize:
		if c.Std == 0 {
			return errdefs.Config("preprocess.config", errors.New("standardize requires a non-zero std"))
		}
	default:
		return errdefs.Config("preprocess.config", errors.Errorf("unknown normalization %q", c.Normalization))
	}
	return nil
}

// Normalize maps one 8-bit intensity to its tensor value.
func (c Config) Normalize(v uint8) float32 {
	f := float32(v)
	switch c.Normalization {
	case NormalizeZeroToOne:
		return f / 255.0
	case NormalizeMinusOneToOne:
		return f/127.5 - 1.0
	case NormalizeStandardize:
		return (f - c.Mean) / c.Std
	case NormalizeScale:
		return f*c.Scale + c.Offset
	default:
		return f
	}
}

// Shape returns the tensor shape [1, 1, Height, Width].
func (c Config) Shape() []int {
	return []int{1, 1, c.Height, c.Width}
}

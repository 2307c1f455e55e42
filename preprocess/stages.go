package preprocess

import (
	"context"
	"image"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/images"
)

// Stage names.
const (
	StageDecode    = "decode"
	StageResize    = "resize"
	StageGrayscale = "grayscale"
	StageExtract   = "extract"
)

// Frame is the per-image working state passed from stage to stage.
type Frame struct {
	// Path is the source file.
	Path string
	// Image is the current raster. Each stage replaces it.
	Image image.Image
	// Data holds the tensor values once the extract stage ran.
	Data []float32
	// Timings records how long each stage took, in chain order.
	Timings []StageTiming
}

// StageTiming is the duration of one stage for one image.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Stage is one step of the preprocessing chain.
type Stage interface {
	Name() string
	Apply(ctx context.Context, f *Frame) error
}

// DecodeStage reads the file and decodes it to a color raster.
type DecodeStage struct {
	Decoder images.Decoder
}

// Name implements Stage.
func (DecodeStage) Name() string { return StageDecode }

// Apply implements Stage.
func (s DecodeStage) Apply(_ context.Context, f *Frame) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return errdefs.Decode("preprocess.decode", f.Path, err)
	}
	img, err := s.Decoder.Decode(data)
	if err != nil {
		return errdefs.Decode("preprocess.decode", f.Path, err)
	}
	f.Image = img
	return nil
}

// ResizeStage resamples the raster to the configured size. With
// images.ResizeIsoCrop the centered region of the target aspect ratio is
// cropped first; any other mode stretches.
type ResizeStage struct {
	Width, Height int
	Interpolation images.Interpolation
	Mode          images.ResizeMode
}

// Name implements Stage.
func (ResizeStage) Name() string { return StageResize }

// Apply implements Stage.
func (s ResizeStage) Apply(_ context.Context, f *Frame) error {
	if f.Image == nil {
		return errdefs.Decode("preprocess.resize", f.Path, errors.New("no image to resize"))
	}
	src := f.Image
	if images.ResizeMode(strings.ToLower(string(s.Mode))) == images.ResizeIsoCrop {
		src = images.CropToAspect(src, s.Width, s.Height)
	}
	out, err := images.Resize(src, s.Width, s.Height, s.Interpolation)
	if err != nil {
		return errdefs.Decode("preprocess.resize", f.Path, err)
	}
	f.Image = out
	return nil
}

// GrayscaleStage reduces the raster to one BT.601 luma channel.
type GrayscaleStage struct{}

// Name implements Stage.
func (GrayscaleStage) Name() string { return StageGrayscale }

// Apply implements Stage.
func (GrayscaleStage) Apply(_ context.Context, f *Frame) error {
	if f.Image == nil {
		return errdefs.Decode("preprocess.grayscale", f.Path, errors.New("no image to convert"))
	}
	f.Image = images.Grayscale(f.Image)
	return nil
}

// ExtractStage reads one channel row-major into a float32 buffer and
// normalizes it. On a grayscale raster every channel holds the luma, so the
// channel choice is an identity there.
type ExtractStage struct {
	Config Config
}

// Name implements Stage.
func (ExtractStage) Name() string { return StageExtract }

// Apply implements Stage.
func (s ExtractStage) Apply(_ context.Context, f *Frame) error {
	if f.Image == nil {
		return errdefs.Decode("preprocess.extract", f.Path, errors.New("no image to extract"))
	}
	b := f.Image.Bounds()
	w, h := s.Config.Width, s.Config.Height
	if b.Dx() != w || b.Dy() != h {
		return errdefs.ShapeMismatch("preprocess.extract",
			errors.Errorf("raster is %dx%d, want %dx%d", b.Dx(), b.Dy(), w, h))
	}

	buf := make([]float32, w*h)
	if gray, ok := f.Image.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			row := gray.Pix[(y+b.Min.Y-gray.Rect.Min.Y)*gray.Stride+(b.Min.X-gray.Rect.Min.X):]
			for x := 0; x < w; x++ {
				buf[y*w+x] = s.Config.Normalize(row[x])
			}
		}
		f.Data = buf
		return nil
	}

	channel := Channel(strings.ToLower(string(s.Config.Channel)))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := f.Image.At(b.Min.X+x, b.Min.Y+y).RGBA()
			var v uint32
			switch channel {
			case ChannelGreen:
				v = g
			case ChannelBlue:
				v = bl
			default:
				v = r
			}
			buf[y*w+x] = s.Config.Normalize(uint8(v >> 8))
		}
	}
	f.Data = buf
	return nil
}

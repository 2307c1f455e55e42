package images

import (
	"image"
	"image/draw"
	"runtime"
	"strings"
	"sync"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Interpolation names a resampling algorithm used for image scaling.
type Interpolation string

const (
	// InterpolationNearest uses nearest-neighbor sampling (fastest, blocky).
	InterpolationNearest Interpolation = "nearest"
	// InterpolationBilinear uses bilinear interpolation (fast, good quality).
	InterpolationBilinear Interpolation = "bilinear"
	// InterpolationBicubic uses bicubic interpolation.
	InterpolationBicubic Interpolation = "bicubic"
	// InterpolationMitchell uses the Mitchell-Netravali cubic filter.
	InterpolationMitchell Interpolation = "mitchell"
	// InterpolationLanczos uses Lanczos resampling with a=3.
	InterpolationLanczos Interpolation = "lanczos"
)

var interpolations = map[Interpolation]resize.InterpolationFunction{
	InterpolationNearest:  resize.NearestNeighbor,
	InterpolationBilinear: resize.Bilinear,
	InterpolationBicubic:  resize.Bicubic,
	InterpolationMitchell: resize.MitchellNetravali,
	InterpolationLanczos:  resize.Lanczos3,
}

// ParseInterpolation validates an interpolation name.
func ParseInterpolation(s string) (Interpolation, error) {
	i := Interpolation(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := interpolations[i]; !ok {
		return "", errors.Errorf("unknown interpolation %q", s)
	}
	return i, nil
}

// Resize scales img to exactly width x height.
//
// Arguments:
// - img: The source image.
// - width: The target width in pixels.
// - height: The target height in pixels.
// - interp: The resampling algorithm.
//
// Returns:
// - The resized image.
// - An error for non-positive dimensions or an unknown interpolation.
//
// @example
// resized, err := Resize(src, 28, 28, InterpolationBilinear)
func Resize(img image.Image, width, height int, interp Interpolation) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	fn, ok := interpolations[interp]
	if !ok {
		return nil, errors.Errorf("unknown interpolation %q", interp)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Errorf("source image is empty: %dx%d", b.Dx(), b.Dy())
	}
	return resize.Resize(uint(width), uint(height), img, fn), nil
}

// ResizeMode decides how a source whose aspect ratio differs from the target
// is fitted.
type ResizeMode string

const (
	// ResizeStretch scales each axis independently to the target size.
	ResizeStretch ResizeMode = "stretch"
	// ResizeIsoCrop keeps the aspect ratio: the centered region with the
	// target aspect ratio is cropped, then scaled to cover the target.
	ResizeIsoCrop ResizeMode = "iso_crop"
)

// ParseResizeMode validates a resize mode name.
func ParseResizeMode(s string) (ResizeMode, error) {
	switch m := ResizeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ResizeStretch, ResizeIsoCrop:
		return m, nil
	}
	return "", errors.Errorf("unknown resize mode %q", s)
}

// CropToAspect returns the centered region of img whose aspect ratio matches
// width:height, copied to an RGBA raster with origin (0, 0). An image that
// already has the target aspect ratio is returned unchanged.
//
// @example
// // 56x28 -> the middle 28x28
// square := CropToAspect(wide, 28, 28)
func CropToAspect(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 || sw <= 0 || sh <= 0 || sw*height == sh*width {
		return img
	}

	cw, ch := sw, sh
	if sw*height > sh*width {
		cw = (sh*width + height/2) / height
	} else {
		ch = (sw*height + width/2) / width
	}
	cw = max(cw, 1)
	ch = max(ch, 1)

	origin := image.Pt(b.Min.X+(sw-cw)/2, b.Min.Y+(sh-ch)/2)
	dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(dst, dst.Bounds(), img, origin, draw.Src)
	return dst
}

// ITU-R BT.601 luma coefficients.
const (
	lumaRed   = 0.299
	lumaGreen = 0.587
	lumaBlue  = 0.114
)

// Grayscale converts an image to a single channel using ITU-R BT.601 luma
// coefficients, rounded to the nearest integer.
//
// Arguments:
// - img: The source image to convert.
//
// Returns:
// - A new grayscale image with the same dimensions, origin at (0, 0).
//
// @example
// gray := Grayscale(colorImage)
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	dst := image.NewGray(image.Rect(0, 0, width, height))

	if rgba, ok := img.(*image.RGBA); ok {
		Parallel(height, func(partStart, partEnd int) {
			for y := partStart; y < partEnd; y++ {
				src := rgba.Pix[(y+bounds.Min.Y-rgba.Rect.Min.Y)*rgba.Stride+(bounds.Min.X-rgba.Rect.Min.X)*4:]
				row := dst.Pix[y*dst.Stride:]
				for x := 0; x < width; x++ {
					i := x * 4
					row[x] = Luma(src[i], src[i+1], src[i+2])
				}
			}
		})
		return dst
	}

	Parallel(height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < width; x++ {
				// RGBA() returns 16-bit values.
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				row[x] = Luma(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	})
	return dst
}

// Luma returns the BT.601 luma of an 8-bit RGB triple.
func Luma(r, g, b uint8) uint8 {
	v := lumaRed*float64(r) + lumaGreen*float64(g) + lumaBlue*float64(b)
	return uint8(Clamp(v+0.5, 0, 255))
}

// Clamp restricts a value to the specified range [min, max].
//
// @example
// clamped := Clamp(300.5, 0, 255) // Returns 255
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Parallel executes fn across runtime.NumCPU goroutines, each receiving a
// contiguous [partStart, partEnd) partition of dataSize. Small inputs run
// serially.
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()

	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize
		// Last partition gets any remaining data.
		if i == numGoroutines-1 {
			partEnd = dataSize
		}
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}
	wg.Wait()
}

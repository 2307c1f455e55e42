// Package images - Decoding and pixel operations for classification preprocessing.
package images

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

// Decoder turns encoded bytes into a raster image.
type Decoder interface {
	// Name returns the registry name of the decoder.
	Name() string
	// Decode decodes data. The result has at least three color channels.
	Decode(data []byte) (image.Image, error)
}

// DecoderFactory builds a Decoder.
type DecoderFactory func() (Decoder, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]DecoderFactory{}
)

// RegisterDecoder makes a decoder available under name. Registering the same
// name twice replaces the previous factory.
func RegisterDecoder(name string, factory DecoderFactory) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[name] = factory
}

// NewDecoder returns the decoder registered under name.
//
// Arguments:
// - name: Registry name such as "std", "opencv" or "vips".
//
// Returns:
// - Decoder: The decoder.
// - error: When no decoder with that name is compiled in.
//
// @example
// dec, err := images.NewDecoder("std")
func NewDecoder(name string) (Decoder, error) {
	decodersMu.RLock()
	factory, ok := decoders[name]
	decodersMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("decoder %q is not available (compiled in: %v)", name, DecoderNames())
	}
	return factory()
}

// DecoderNames lists the registered decoder names, sorted.
func DecoderNames() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	names := make([]string, 0, len(decoders))
	for n := range decoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToRGBA returns img as *image.RGBA with its origin at (0, 0). Paletted, gray
// and CMYK images are expanded to three color channels plus alpha.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

//go:build vips

package images

import (
	"bytes"
	"image"
	"image/png"

	"github.com/cshum/vipsgen/vips"
	"github.com/pkg/errors"
)

// DecoderVips is the registry name of the libvips decoder.
const DecoderVips = "vips"

func init() {
	RegisterDecoder(DecoderVips, func() (Decoder, error) { return VipsDecoder{}, nil })
}

// VipsDecoder decodes any format libvips was built with (TIFF, HEIF, AVIF,
// JPEG XL in addition to the common ones) and hands back a Go raster.
type VipsDecoder struct{}

// Name implements Decoder.
func (VipsDecoder) Name() string { return DecoderVips }

// Decode implements Decoder.
func (VipsDecoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	img, err := vips.NewImageFromBuffer(data, &vips.LoadOptions{
		Access: vips.AccessSequential,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load image")
	}
	defer img.Close()

	// PNG is lossless, so the round trip keeps the decoded pixels intact.
	encoded, err := img.PngsaveBuffer(&vips.PngsaveBufferOptions{})
	if err != nil || len(encoded) == 0 {
		return nil, errors.Errorf("failed to encode decoded image: %v", err)
	}

	out, err := png.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode intermediate PNG")
	}
	return ToRGBA(out), nil
}

package images

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
)

// DecoderStd is the registry name of the pure-Go decoder.
const DecoderStd = "std"

func init() {
	RegisterDecoder(DecoderStd, func() (Decoder, error) { return StdDecoder{}, nil })
}

// StdDecoder decodes PNG, JPEG, GIF, BMP and WebP in process.
type StdDecoder struct{}

// Name implements Decoder.
func (StdDecoder) Name() string { return DecoderStd }

// Decode implements Decoder.
func (StdDecoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(data)
	switch format := SniffFormat(data); format {
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatGIF:
		img, err = gif.Decode(r)
	case FormatBMP:
		img, err = bmp.Decode(r)
	case FormatWebP:
		img, err = webp.Decode(r)
	default:
		return nil, errors.New("unrecognized image format")
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return ToRGBA(img), nil
}

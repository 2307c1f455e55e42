//go:build opencv

package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DecoderOpenCV is the registry name of the OpenCV decoder.
const DecoderOpenCV = "opencv"

func init() {
	RegisterDecoder(DecoderOpenCV, func() (Decoder, error) { return OpenCVDecoder{}, nil })
}

// OpenCVDecoder decodes through cv::imdecode.
type OpenCVDecoder struct{}

// Name implements Decoder.
func (OpenCVDecoder) Name() string { return DecoderOpenCV }

// Decode implements Decoder.
func (OpenCVDecoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrap(err, "imdecode")
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("imdecode returned an empty mat")
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "mat to image")
	}
	return ToRGBA(img), nil
}

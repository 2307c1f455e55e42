package errdefs

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinel(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		kind     Kind
	}{
		{NotFound("dataset.open", "/tmp/x", nil), ErrNotFound, KindNotFound},
		{ModelLoad("inference.load", "m.onnx", fmt.Errorf("bad proto")), ErrModelLoad, KindModelLoad},
		{Decode("images.decode", "a.png", fmt.Errorf("eof")), ErrDecode, KindDecode},
		{ShapeMismatch("inference.run", nil), ErrShapeMismatch, KindShapeMismatch},
		{Inference("inference.run", fmt.Errorf("boom")), ErrInference, KindInference},
		{Config("config.validate", nil), ErrConfig, KindConfig},
	}

	for _, c := range cases {
		assert.True(t, errors.Is(c.err, c.sentinel), "%v should match its sentinel", c.err)
		assert.Equal(t, c.kind, KindOf(c.err))
		for _, other := range []error{ErrNotFound, ErrModelLoad, ErrDecode, ErrShapeMismatch, ErrInference, ErrConfig} {
			if other != c.sentinel {
				assert.False(t, errors.Is(c.err, other))
			}
		}
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := Decode("images.decode", "a.png", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "a.png")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestWithStage(t *testing.T) {
	err := WithStage(Decode("images.decode", "", fmt.Errorf("eof")), "decode", "b.jpg")
	assert.Equal(t, "decode", StageOf(err))
	assert.Contains(t, err.Error(), "[decode] b.jpg")
	assert.True(t, errors.Is(err, ErrDecode))

	plain := WithStage(fmt.Errorf("unclassified"), "infer", "c.png")
	assert.True(t, errors.Is(plain, ErrInference))
	assert.Equal(t, "infer", StageOf(plain))

	assert.NoError(t, WithStage(nil, "infer", "c.png"))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("x")))
	assert.Equal(t, "", StageOf(fmt.Errorf("x")))
}

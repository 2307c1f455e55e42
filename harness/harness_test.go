package harness

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/metrics"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.NotNil(t, c.Logger)
	assert.NotNil(t, c.Metrics)
}

func TestNewWithOptions(t *testing.T) {
	m := metrics.NewCollector()
	l := logrus.New()
	c := New(WithLogger(l), WithMetrics(m))
	assert.Same(t, m, c.Metrics)
	assert.Equal(t, l, c.Logger)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	c := New(WithLogger(l))
	c.Component("dataset").WithField("path", "a.png").Debug("listed")
	assert.Contains(t, buf.String(), `"component":"dataset"`)
	assert.Contains(t, buf.String(), `"path":"a.png"`)
}

func TestNewLoggerRejectsUnknown(t *testing.T) {
	_, err := NewLogger("loud", "text", nil)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))

	_, err = NewLogger("info", "xml", nil)
	assert.True(t, errors.Is(err, errdefs.ErrConfig))
}

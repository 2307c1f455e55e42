// Package harness - Run context shared by every pipeline component.
//
// A Context is created once at startup and handed to constructors
// explicitly. Nothing in this module reaches for it through a global.
package harness

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/metrics"
)

// Context carries the logger and metrics collector for a run.
type Context struct {
	Logger  logrus.FieldLogger
	Metrics *metrics.Collector
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Context) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Context) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// New creates a Context. Without options it logs at info level to stderr and
// records into a fresh private metrics registry.
//
// Arguments:
//   - opts: Functional options.
//
// Returns:
//   - *Context: The run context.
func New(opts ...Option) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewCollector()
	}
	return c
}

// Discard returns a Context whose logger drops every entry. Used by tests.
func Discard() *Context {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(WithLogger(l))
}

// Component returns a logger tagged with the component name. A Context
// built without a logger falls back to the logrus standard logger.
func (c *Context) Component(name string) logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger().WithField("component", name)
	}
	return c.Logger.WithField("component", name)
}

// NewLogger builds a logrus logger from a level and format name.
//
// Arguments:
//   - level: One of debug, info, warn, error.
//   - format: "text" or "json".
//   - out: Destination, stderr when nil.
//
// Returns:
//   - *logrus.Logger: The configured logger.
//   - error: ErrConfig for an unknown level or format.
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, errdefs.Config("harness.logger", errors.Wrapf(err, "log level %q", level))
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errdefs.Config("harness.logger", errors.Errorf("log format %q", format))
	}
	return l, nil
}

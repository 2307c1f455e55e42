package metrics

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(c *Collector) {
		c.namespace = namespace
	}
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Collector) {
		c.subsystem = subsystem
	}
}

// WithHistogramBuckets overrides the latency buckets, in seconds.
func WithHistogramBuckets(buckets []float64) Option {
	return func(c *Collector) {
		if len(buckets) > 0 {
			c.histogramBuckets = buckets
		}
	}
}

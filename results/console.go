package results

import (
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/pipeline"
)

// ConsoleSink logs one entry per result and a run summary.
type ConsoleSink struct {
	log     logrus.FieldLogger
	scoring Scoring
}

// NewConsoleSink creates a sink that logs through hctx.
func NewConsoleSink(hctx *harness.Context, scoring Scoring) *ConsoleSink {
	return &ConsoleSink{log: hctx.Component("results"), scoring: scoring}
}

// Write implements Sink.
func (s *ConsoleSink) Write(report *pipeline.Report) error {
	log := s.log.WithField("run_id", report.RunID)
	for _, r := range report.Results.All() {
		entry := log.WithFields(logrus.Fields{"index": r.Index, "path": r.Record.Path})
		if !r.OK() {
			entry.WithFields(logrus.Fields{"stage": r.Stage, "kind": r.Kind()}).WithError(r.Err).Warn("failed")
			continue
		}
		ranked := s.scoring.Rank(r.Output)
		if len(ranked) > 0 {
			entry = entry.WithFields(logrus.Fields{"class": ranked[0].Label, "score": ranked[0].Score})
		}
		entry.WithField("top", ranked).Info("scored")
	}

	log.WithFields(logrus.Fields{
		"scored":            report.Stats.Scored,
		"failed":            report.Stats.Failed,
		"duration":          report.Duration,
		"images_per_second": report.Stats.ImagesPerSecond,
	}).Info("summary")
	return nil
}

package results

import (
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/dataset"
	"github.com/nvr-ai/go-classify/pipeline"
)

// CSVSink writes one row per result: the schema columns, status, error, top
// class, top score and one column per class score.
type CSVSink struct {
	Path    string
	Schema  *dataset.Schema
	Scoring Scoring
}

// Write implements Sink.
func (s *CSVSink) Write(report *pipeline.Report) (err error) {
	schema := dataset.DefaultSchema()
	if s.Schema != nil {
		schema = *s.Schema
	}

	f, err := createFile(s.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "close %s", s.Path)
		}
	}()

	all := report.Results.All()
	classes := classCount(all)

	w := csv.NewWriter(f)
	header := append(schema.Header(), "status", "error", "top_class", "top_score")
	for i := 0; i < classes; i++ {
		header = append(header, fmt.Sprintf("p%d", i))
	}
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	for _, r := range all {
		row := append(schema.Values(r.Record), status(r), errorText(r))
		scores := make([]string, classes)
		top, topScore := "", ""
		if r.OK() {
			values := s.Scoring.Scores(r.Output)
			if ranked := TopK(values, 1, s.Scoring.Labels); len(ranked) > 0 {
				top = ranked[0].Label
				topScore = formatScore(ranked[0].Score)
			}
			for i, v := range values {
				scores[i] = formatScore(v)
			}
		}
		row = append(row, top, topScore)
		row = append(row, scores...)
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}

	w.Flush()
	return errors.Wrap(w.Error(), "flush csv")
}

func formatScore(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

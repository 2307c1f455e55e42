package results

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/pipeline"
)

// JSONSink writes the whole report, with run metadata, as one JSON document.
type JSONSink struct {
	Path    string
	Scoring Scoring
}

type jsonReport struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMS float64           `json:"duration_ms"`
	Policy     string            `json:"policy"`
	Stats      pipeline.RunStats `json:"stats"`
	Timings    []jsonTiming      `json:"timings"`
	Results    []jsonResult      `json:"results"`
}

type jsonTiming struct {
	Stage  string  `json:"stage"`
	Count  int64   `json:"count"`
	MeanMS float64 `json:"mean_ms"`
	MinMS  float64 `json:"min_ms"`
	MaxMS  float64 `json:"max_ms"`
}

type jsonResult struct {
	Index  int              `json:"index"`
	Path   string           `json:"path"`
	Label  string           `json:"label,omitempty"`
	Status string           `json:"status"`
	Kind   errdefs.Kind     `json:"kind,omitempty"`
	Stage  string           `json:"stage,omitempty"`
	Error  string           `json:"error,omitempty"`
	Top    []jsonPrediction `json:"top,omitempty"`
	Output []jsonScore      `json:"output,omitempty"`
}

type jsonPrediction struct {
	Index int       `json:"index"`
	Label string    `json:"label"`
	Score jsonScore `json:"score"`
}

// jsonScore encodes NaN and infinities, which JSON cannot represent, as null.
type jsonScore float32

func (v jsonScore) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 32), nil
}

func jsonScores(out []float32) []jsonScore {
	scores := make([]jsonScore, len(out))
	for i, v := range out {
		scores[i] = jsonScore(v)
	}
	return scores
}

// Write implements Sink.
func (s *JSONSink) Write(report *pipeline.Report) (err error) {
	doc := jsonReport{
		RunID:      report.RunID,
		StartedAt:  report.StartedAt,
		DurationMS: millis(report.Duration),
		Policy:     report.Policy.String(),
		Stats:      report.Stats,
		Timings:    []jsonTiming{},
		Results:    []jsonResult{},
	}
	for _, t := range report.Timings.Snapshot() {
		doc.Timings = append(doc.Timings, jsonTiming{
			Stage:  t.Stage,
			Count:  t.Count,
			MeanMS: millis(t.Mean()),
			MinMS:  millis(t.Min),
			MaxMS:  millis(t.Max),
		})
	}
	for _, r := range report.Results.All() {
		jr := jsonResult{
			Index:  r.Index,
			Path:   r.Record.Path,
			Label:  r.Record.Label,
			Status: status(r),
			Kind:   r.Kind(),
			Stage:  r.Stage,
			Error:  errorText(r),
		}
		if r.OK() {
			jr.Output = jsonScores(r.Output)
			for _, p := range s.Scoring.Rank(r.Output) {
				jr.Top = append(jr.Top, jsonPrediction{Index: p.Index, Label: p.Label, Score: jsonScore(p.Score)})
			}
		}
		doc.Results = append(doc.Results, jr)
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

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(doc), "encode json report")
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
